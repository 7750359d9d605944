// Package api exposes the recommendation gateway's HTTP surface: the
// recommendation route, the circuit breaker metrics view, the admin reset,
// and the liveness probe.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/calebmurr/recgate/internal/circuitbreaker"
	"github.com/calebmurr/recgate/internal/metrics"
	"github.com/calebmurr/recgate/internal/recommend"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var healthBody = []byte(`{"status":"healthy","service":"recommendation-service"}` + "\n")

// Handler routes requests to the pipeline, the breaker metrics view, and the
// admin reset.
type Handler struct {
	pipeline  *recommend.Pipeline
	profileCB *circuitbreaker.Breaker
	contentCB *circuitbreaker.Breaker
	logger    *slog.Logger
}

// New creates the API handler over the pipeline and its two breakers.
func New(pipeline *recommend.Pipeline, profileCB, contentCB *circuitbreaker.Breaker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pipeline:  pipeline,
		profileCB: profileCB,
		contentCB: contentCB,
		logger:    logger,
	}
}

// RegisterRoutes adds all API routes to the given mux. adminGuard wraps the
// admin reset endpoint (pass nil when auth is disabled).
func (h *Handler) RegisterRoutes(mux *http.ServeMux, adminGuard func(http.Handler) http.Handler) {
	reset := http.Handler(http.HandlerFunc(h.resetBreakers))
	if adminGuard != nil {
		reset = adminGuard(reset)
	}

	mux.Handle("/recommendations/", instrument("/recommendations", http.HandlerFunc(h.recommendations)))
	mux.Handle("/metrics/circuit-breakers", instrument("/metrics/circuit-breakers", http.HandlerFunc(h.breakerMetrics)))
	mux.Handle("/admin/reset-circuit-breakers", instrument("/admin/reset-circuit-breakers", reset))
	mux.HandleFunc("/health", h.health)
	mux.HandleFunc("/", h.notFound)
}

func (h *Handler) recommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.notFound(w, r)
		return
	}

	userID := strings.TrimPrefix(r.URL.Path, "/recommendations/")
	if userID == "" || strings.Contains(userID, "/") {
		h.notFound(w, r)
		return
	}

	status, body := h.pipeline.Recommend(r.Context(), userID)
	writeJSON(w, status, body)
}

// breakersView is the /metrics/circuit-breakers response shape.
type breakersView struct {
	UserProfile circuitbreaker.Snapshot `json:"userProfileCircuitBreaker"`
	Content     circuitbreaker.Snapshot `json:"contentCircuitBreaker"`
}

func (h *Handler) breakerMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.notFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, breakersView{
		UserProfile: h.profileCB.Metrics(),
		Content:     h.contentCB.Metrics(),
	})
}

func (h *Handler) resetBreakers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.notFound(w, r)
		return
	}

	h.profileCB.Reset()
	h.contentCB.Reset()
	h.logger.Info("all circuit breakers reset")

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "All circuit breakers reset to CLOSED",
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(healthBody) //nolint:errcheck
}

// notFound is the catch-all for unknown routes and method mismatches.
func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": fmt.Sprintf("Route %s %s not found", r.Method, r.URL.Path),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

// instrument records request count and latency for a route.
func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r)

		metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(recorder.statusCode)).Inc()
		metrics.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}
