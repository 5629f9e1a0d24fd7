package githubapp

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func TestGenerateJWT(t *testing.T) {
	key := generateTestKey(t)
	c := NewClient(12345, key, "")

	tokenStr, err := c.GenerateJWT()
	if err != nil {
		t.Fatal(err)
	}

	// Parse and verify the JWT.
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			t.Fatalf("unexpected signing method: %v", token.Header["alg"])
		}
		return &key.PublicKey, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		t.Fatal("invalid token claims")
	}

	iss, _ := claims.GetIssuer()
	if iss != "12345" {
		t.Fatalf("unexpected issuer: %s", iss)
	}

	exp, _ := claims.GetExpirationTime()
	if exp == nil || time.Until(exp.Time) < 9*time.Minute {
		t.Fatal("JWT expiry too short")
	}
}

func newTokenServer(t *testing.T, calls *atomic.Int32, expiry time.Time) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/app/installations/42/access_tokens" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		auth := r.Header.Get("Authorization")
		if auth == "" || len(auth) < 8 {
			t.Error("missing Authorization header")
		}
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":      "ghs_test_token_123",
			"expires_at": expiry.Format(time.RFC3339),
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestGetInstallationToken(t *testing.T) {
	key := generateTestKey(t)
	var calls atomic.Int32
	server := newTokenServer(t, &calls, time.Now().Add(1*time.Hour))

	c := NewClient(12345, key, server.URL)
	token, tokenExpiry, err := c.GetInstallationToken(t.Context(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if token != "ghs_test_token_123" { //nolint:gosec // test value
		t.Fatalf("unexpected token: %s", token)
	}
	if tokenExpiry.Before(time.Now()) {
		t.Fatal("token already expired")
	}

	// Second call should use cache.
	token2, _, err := c.GetInstallationToken(t.Context(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if token2 != token {
		t.Fatal("expected cached token")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("server called %d times, want 1", n)
	}
}

func TestGetInstallationTokenError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient(1, generateTestKey(t), server.URL)
	if _, _, err := c.GetInstallationToken(t.Context(), 42); err == nil {
		t.Fatal("expected error")
	}
}

func TestTokenSource(t *testing.T) {
	key := generateTestKey(t)
	var calls atomic.Int32
	server := newTokenServer(t, &calls, time.Now().Add(1*time.Hour))

	ts := NewClient(12345, key, server.URL).TokenSource(t.Context(), 42)
	for range 3 {
		tok, err := ts.Token()
		if err != nil {
			t.Fatal(err)
		}
		if tok.AccessToken != "ghs_test_token_123" || tok.Type() != "Bearer" {
			t.Fatalf("unexpected token: %+v", tok)
		}
		if !tok.Valid() {
			t.Fatal("token not valid")
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("server called %d times, want 1", n)
	}
}

func TestLoadPrivateKey(t *testing.T) {
	key := generateTestKey(t)
	p := filepath.Join(t.TempDir(), "app.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadPrivateKey(p)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(key) {
		t.Fatal("loaded key differs")
	}

	if err := os.WriteFile(p, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPrivateKey(p); err == nil {
		t.Fatal("expected error for invalid PEM")
	}
	if _, err := LoadPrivateKey(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
