package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/calebmurr/recgate/internal/config"
	"github.com/calebmurr/recgate/internal/metrics"
)

func init() {
	metrics.Init()
}

const testSecret = "0123456789abcdef0123456789abcdef"

func testConfig(enabled bool) config.AuthConfig {
	return config.AuthConfig{
		Enabled:   enabled,
		JWTSecret: testSecret,
		Issuer:    "recgate-test",
		Scope:     "admin",
	}
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func doGuarded(cfg config.AuthConfig, authorization string) *httptest.ResponseRecorder {
	h := Guard(cfg, slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/admin/reset-circuit-breakers", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuard_DisabledPassesThrough(t *testing.T) {
	rec := doGuarded(testConfig(false), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through when disabled, got %d", rec.Code)
	}
}

func TestGuard_MissingToken(t *testing.T) {
	rec := doGuarded(testConfig(true), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestGuard_MalformedHeader(t *testing.T) {
	rec := doGuarded(testConfig(true), "Basic abc123")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-bearer header, got %d", rec.Code)
	}
}

func TestGuard_ValidToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"iss":    "recgate-test",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{"admin"},
	})
	rec := doGuarded(testConfig(true), "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGuard_SpaceSeparatedScopeClaim(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"iss":   "recgate-test",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "read admin write",
	})
	rec := doGuarded(testConfig(true), "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with scope string claim, got %d", rec.Code)
	}
}

func TestGuard_InsufficientScope(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"iss":    "recgate-test",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{"read"},
	})
	rec := doGuarded(testConfig(true), "Bearer "+token)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin scope, got %d", rec.Code)
	}
}

func TestGuard_ExpiredToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"iss":    "recgate-test",
		"exp":    time.Now().Add(-time.Hour).Unix(),
		"scopes": []string{"admin"},
	})
	rec := doGuarded(testConfig(true), "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rec.Code)
	}
}

func TestGuard_WrongIssuer(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"iss":    "someone-else",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{"admin"},
	})
	rec := doGuarded(testConfig(true), "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong issuer, got %d", rec.Code)
	}
}
