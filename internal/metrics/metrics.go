// Package metrics provides Prometheus instrumentation for the recommendation
// gateway. All metric collectors are registered on init via the Init function
// and exposed through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total requests by route, method, and HTTP status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recgate_requests_total",
			Help: "Total HTTP requests processed",
		},
		[]string{"route", "method", "status"},
	)

	// RequestDuration observes request latency in seconds by route and method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recgate_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// CircuitBreakerState tracks the current state of each breaker
	// (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recgate_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"breaker"},
	)

	// CircuitBreakerStateChanges counts state transitions by breaker.
	CircuitBreakerStateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recgate_circuit_breaker_state_changes_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"breaker", "from", "to"},
	)

	// CircuitBreakerRejections counts fast-failed calls by breaker.
	CircuitBreakerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recgate_circuit_breaker_rejections_total",
			Help: "Total calls rejected while a breaker was open or probing",
		},
		[]string{"breaker"},
	)

	// UpstreamFailures counts failed upstream calls by upstream and kind.
	UpstreamFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recgate_upstream_failures_total",
			Help: "Total failed upstream calls by failure kind",
		},
		[]string{"upstream", "kind"},
	)

	// FallbacksTotal counts pipeline fallbacks by upstream.
	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recgate_fallbacks_total",
			Help: "Total degraded responses served per upstream fallback",
		},
		[]string{"upstream"},
	)

	// RateLimitHits counts rate limit rejections.
	RateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recgate_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		},
	)

	// AuthFailures counts authentication failures by reason.
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recgate_auth_failures_total",
			Help: "Total authentication failures",
		},
		[]string{"reason"},
	)

	// PanicsTotal counts recovered handler panics (gateway bugs, not
	// upstream failures).
	PanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recgate_panics_total",
			Help: "Total recovered handler panics",
		},
	)
)

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before handling requests.
func Init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		CircuitBreakerState,
		CircuitBreakerStateChanges,
		CircuitBreakerRejections,
		UpstreamFailures,
		FallbacksTotal,
		RateLimitHits,
		AuthFailures,
		PanicsTotal,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
