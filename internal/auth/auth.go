// Package auth provides JWT Bearer token validation for the admin endpoints.
// When disabled (the default), admin requests pass through untouched.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/calebmurr/recgate/internal/apierror"
	"github.com/calebmurr/recgate/internal/config"
	"github.com/calebmurr/recgate/internal/metrics"
)

// Guard returns middleware that validates a Bearer token on every request it
// wraps. Apply it to admin handlers only; the public surface stays open.
func Guard(cfg config.AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, ok := extractBearerToken(r)
			if !ok {
				metrics.AuthFailures.WithLabelValues("missing_token").Inc()
				apierror.WriteJSON(w, r, http.StatusUnauthorized, apierror.AuthMissingToken, "missing or malformed Authorization header")
				return
			}

			if err := validateToken(tokenStr, cfg); err != nil {
				logger.Warn("auth failure", "error", err, "path", r.URL.Path)
				if isScopeError(err) {
					metrics.AuthFailures.WithLabelValues("insufficient_scope").Inc()
					apierror.WriteJSON(w, r, http.StatusForbidden, apierror.AuthInsufficientScope, err.Error())
				} else {
					metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
					apierror.WriteJSON(w, r, http.StatusUnauthorized, apierror.AuthInvalidToken, err.Error())
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

var errInsufficientScope = fmt.Errorf("token lacks required scope")

func isScopeError(err error) bool {
	return err == errInsufficientScope
}

func validateToken(tokenStr string, cfg config.AuthConfig) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}

	if cfg.Scope == "" {
		return nil
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("invalid token: unexpected claims type")
	}
	if hasScope(mapClaims, cfg.Scope) {
		return nil
	}
	return errInsufficientScope
}

// hasScope accepts either a "scopes" array claim or a space-separated
// OAuth2-style "scope" string claim.
func hasScope(claims jwt.MapClaims, want string) bool {
	if raw, ok := claims["scopes"]; ok {
		if list, ok := raw.([]interface{}); ok {
			for _, s := range list {
				if str, ok := s.(string); ok && str == want {
					return true
				}
			}
		}
	}
	if raw, ok := claims["scope"]; ok {
		if str, ok := raw.(string); ok {
			for _, s := range strings.Fields(str) {
				if s == want {
					return true
				}
			}
		}
	}
	return false
}
