package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mbecker/potline/internal/store"
)

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"player@example.com", true},
		{"first.last@mail.example.org", true},
		{"x@y.io", true},
		{"no-at-sign.example.com", false},
		{"two@@example.com", false},
		{"spaces in@example.com", false},
		{"missing-domain@", false},
		{"@example.com", false},
		{"no-tld@example", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			if got := isValidEmail(tt.email); got != tt.valid {
				t.Errorf("isValidEmail(%q) = %v, want %v", tt.email, got, tt.valid)
			}
		})
	}
}

func TestHashToken(t *testing.T) {
	token := "test-token-123"

	hash1 := hashToken(token)
	hash2 := hashToken(token)

	// Same token should produce same hash
	if hash1 != hash2 {
		t.Error("same token should produce same hash")
	}

	// Hash should be hex-encoded SHA256 (64 characters)
	if len(hash1) != 64 {
		t.Errorf("hash length = %d, want 64", len(hash1))
	}

	// Different tokens should produce different hashes
	hash3 := hashToken("different-token")
	if hash1 == hash3 {
		t.Error("different tokens should produce different hashes")
	}
}

func TestJWTGeneration(t *testing.T) {
	// Create a minimal router for testing
	r := &Router{
		cfg: RouterConfig{
			JWTSecret: "test-secret-key",
			JWTExpiry: 1 * time.Hour,
		},
	}

	user := &store.User{
		ID:    "user-123",
		Email: "hero@example.com",
	}

	token, expiresAt, err := r.generateJWT(user)
	if err != nil {
		t.Fatalf("generateJWT failed: %v", err)
	}

	if token == "" {
		t.Error("token should not be empty")
	}

	if time.Until(expiresAt) < 50*time.Minute {
		t.Error("token should expire in about 1 hour")
	}

	// Parse and validate the token
	parsed, err := jwt.ParseWithClaims(token, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret-key"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}

	claims, ok := parsed.Claims.(*JWTClaims)
	if !ok {
		t.Fatal("failed to cast claims")
	}

	if claims.UserID != "user-123" {
		t.Errorf("claims.UserID = %q, want %q", claims.UserID, "user-123")
	}
	if claims.Email != "hero@example.com" {
		t.Errorf("claims.Email = %q, want %q", claims.Email, "hero@example.com")
	}
}

func TestWithAuthMiddleware(t *testing.T) {
	// Create router with test config
	r := &Router{
		cfg: RouterConfig{
			JWTSecret: "test-secret-key",
			JWTExpiry: 1 * time.Hour,
		},
		logger: log.New(io.Discard, "", 0),
	}

	// Create a test handler that checks for auth user
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		user := getAuthUser(req.Context())
		if user == nil {
			t.Error("auth user should be in context")
			http.Error(w, "no user", http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(user.ID))
	})

	// Wrap with auth middleware
	protected := r.withAuth(testHandler)

	t.Run("missing authorization header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		rec := httptest.NewRecorder()

		protected(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("invalid authorization format", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "InvalidFormat")
		rec := httptest.NewRecorder()

		protected(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer invalid-token")
		rec := httptest.NewRecorder()

		protected(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})
}

func TestRegisterValidation(t *testing.T) {
	r := &Router{
		cfg:    RouterConfig{JWTSecret: "test-secret", JWTExpiry: time.Hour},
		logger: log.New(io.Discard, "", 0),
	}

	t.Run("invalid email", func(t *testing.T) {
		body := `{"email": "not-an-email", "password": "long-enough-pw"}`
		req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		r.handleRegister(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}

		var resp map[string]string
		_ = json.NewDecoder(rec.Body).Decode(&resp)
		if !strings.Contains(resp["error"], "invalid email") {
			t.Errorf("error = %q, should mention invalid email", resp["error"])
		}
	})

	t.Run("password too short", func(t *testing.T) {
		body := `{"email": "player@example.com", "password": "short"}`
		req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		r.handleRegister(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}

		var resp map[string]string
		_ = json.NewDecoder(rec.Body).Decode(&resp)
		if !strings.Contains(resp["error"], "at least 8 characters") {
			t.Errorf("error = %q, should mention minimum length", resp["error"])
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader("{not json"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		r.handleRegister(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestGetAuthUser(t *testing.T) {
	t.Run("no user in context", func(t *testing.T) {
		ctx := context.Background()
		user := getAuthUser(ctx)
		if user != nil {
			t.Error("expected nil user for empty context")
		}
	})

	t.Run("user in context", func(t *testing.T) {
		authUser := &AuthUser{
			ID:    "user-123",
			Email: "hero@example.com",
		}
		ctx := context.WithValue(context.Background(), userContextKey, authUser)

		user := getAuthUser(ctx)
		if user == nil {
			t.Fatal("expected user in context")
		}
		if user.ID != "user-123" {
			t.Errorf("user ID = %q, want %q", user.ID, "user-123")
		}
	})
}
