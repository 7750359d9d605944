package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/calebmurr/recgate/internal/apierror"
	"github.com/calebmurr/recgate/internal/metrics"
)

// Recovery returns middleware that converts handler panics into a 500 JSON
// response. A panic here means a bug in the gateway itself, not an upstream
// failure, so it is counted separately from the breaker and fallback
// metrics and logged with the full stack.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					metrics.PanicsTotal.Inc()
					logger.Error("panic recovered",
						"error", err,
						"method", r.Method,
						"path", r.URL.Path,
						"client_ip", r.RemoteAddr,
						"request_id", GetRequestID(r.Context()),
						"stack", string(debug.Stack()),
					)
					apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "an unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
