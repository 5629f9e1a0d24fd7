package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"testing"
)

func TestError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(http.StatusNotFound, ErrNotFound, "table not found")
		if err.StatusCode() != http.StatusNotFound {
			t.Errorf("Expected status code %d, got %d", http.StatusNotFound, err.StatusCode())
		}
		if err.Code() != ErrNotFound {
			t.Errorf("Expected code %s, got %s", ErrNotFound, err.Code())
		}
		if err.Error() != "table not found" {
			t.Errorf("Expected message 'table not found', got '%s'", err.Error())
		}
		if err.Details() == nil {
			t.Error("Expected Details() to return non-nil map")
		}
	})
	t.Run("WithDetail", func(t *testing.T) {
		t.Run("adds single detail", func(t *testing.T) {
			err := Validation("bad offset").WithDetail("offset", -1)
			if err.Details()["offset"] != -1 {
				t.Errorf("Expected offset -1, got %v", err.Details()["offset"])
			}
		})
		t.Run("initializes nil map", func(t *testing.T) {
			err := (&Error{code: ErrFormat, message: "test"}).WithDetail("key", "value")
			if err.Details()["key"] != "value" {
				t.Error("Expected WithDetail to initialize nil map")
			}
		})
	})
	t.Run("Wrap", func(t *testing.T) {
		err := Transport(io.ErrUnexpectedEOF)
		if !stderrors.Is(err, io.ErrUnexpectedEOF) {
			t.Error("Expected Unwrap to expose the cause")
		}
		if err.Error() != "transport failure: unexpected EOF" {
			t.Errorf("Unexpected message %q", err.Error())
		}
	})
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		code   ErrorCode
		status int
		msg    string
	}{
		{"Format", Format("missing header line"), ErrFormat, http.StatusUnprocessableEntity, "missing header line"},
		{"Validation", Validation("limit must be non-negative"), ErrValidationFailed, http.StatusBadRequest, "limit must be non-negative"},
		{"NotFound", NotFound("db/t.csv"), ErrNotFound, http.StatusNotFound, "db/t.csv not found"},
		{"Conflict", Conflict("db/t.csv"), ErrConflict, http.StatusConflict, "db/t.csv: version conflict"},
		{"Remote", Remote(http.StatusForbidden, "rate limited"), ErrRemote, http.StatusForbidden, "remote error 403: rate limited"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code() != tt.code {
				t.Errorf("code = %s, want %s", tt.err.Code(), tt.code)
			}
			if tt.err.StatusCode() != tt.status {
				t.Errorf("status = %d, want %d", tt.err.StatusCode(), tt.status)
			}
			if tt.err.Error() != tt.msg {
				t.Errorf("message = %q, want %q", tt.err.Error(), tt.msg)
			}
		})
	}
}

func TestPredicates(t *testing.T) {
	wrapped := fmt.Errorf("update cookie: %w", Conflict("db/cookie.csv"))
	if !IsConflict(wrapped) {
		t.Error("IsConflict should see through fmt.Errorf")
	}
	if IsNotFound(wrapped) {
		t.Error("IsNotFound matched a conflict")
	}
	if CodeOf(io.EOF) != "" {
		t.Error("CodeOf(plain error) should be empty")
	}
	if CodeOf(nil) != "" {
		t.Error("CodeOf(nil) should be empty")
	}
	outer := NotFound("x").Wrap(Remote(http.StatusNotFound, "Not Found"))
	if CodeOf(outer) != ErrNotFound {
		t.Errorf("CodeOf returned the inner code %s", CodeOf(outer))
	}
}
