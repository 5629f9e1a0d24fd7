// Manages GitHub App JWT generation and installation token caching.

package githubapp

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Client manages GitHub App authentication.
type Client struct {
	appID      int64
	privateKey *rsa.PrivateKey
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	tokens map[int64]cachedToken // installationID -> cached token
}

type cachedToken struct {
	Token     string
	ExpiresAt time.Time
}

// NewClient creates a new GitHub App client. baseURL defaults to
// https://api.github.com.
func NewClient(appID int64, privateKey *rsa.PrivateKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Client{
		appID:      appID,
		privateKey: privateKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     make(map[int64]cachedToken),
	}
}

// LoadPrivateKey reads a PEM encoded RSA private key, as downloaded from the
// GitHub App settings page.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	return key, nil
}

// GenerateJWT creates a signed JWT for GitHub App authentication.
// The JWT is valid for 10 minutes per GitHub's requirements.
func (c *Client) GenerateJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)), // 60s clock drift
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    strconv.FormatInt(c.appID, 10),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(c.privateKey)
}

// GetInstallationToken returns a valid installation access token, using cache when possible.
func (c *Client) GetInstallationToken(ctx context.Context, installationID int64) (string, time.Time, error) {
	c.mu.Lock()
	if cached, ok := c.tokens[installationID]; ok {
		// Use cached token if it expires more than 5 minutes from now.
		if time.Until(cached.ExpiresAt) > 5*time.Minute {
			c.mu.Unlock()
			return cached.Token, cached.ExpiresAt, nil
		}
	}
	c.mu.Unlock()

	jwtToken, err := c.GenerateJWT()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate JWT: %w", err)
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", c.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("request installation token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", time.Time{}, fmt.Errorf("GitHub API error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}

	c.mu.Lock()
	c.tokens[installationID] = cachedToken{Token: result.Token, ExpiresAt: result.ExpiresAt}
	c.mu.Unlock()

	return result.Token, result.ExpiresAt, nil
}

// TokenSource returns an oauth2.TokenSource minting installation tokens, for
// use as the credentials of a blob.GitHub store.
func (c *Client) TokenSource(ctx context.Context, installationID int64) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &installationSource{ctx: ctx, c: c, id: installationID})
}

type installationSource struct {
	ctx context.Context //nolint:containedctx // oauth2.TokenSource.Token takes no context
	c   *Client
	id  int64
}

func (s *installationSource) Token() (*oauth2.Token, error) {
	tok, exp, err := s.c.GetInstallationToken(s.ctx, s.id)
	if err != nil {
		return nil, err
	}
	// Refresh before GitHub rejects it; GetInstallationToken applies the same margin.
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer", Expiry: exp.Add(-5 * time.Minute)}, nil
}
