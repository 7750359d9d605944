package ratelimit

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calebmurr/recgate/internal/config"
	"github.com/calebmurr/recgate/internal/metrics"
)

func init() {
	metrics.Init()
}

func newTestLimiter(rps float64, burst int, trusted []string) *Limiter {
	return New(config.RateLimitConfig{RequestsPerSecond: rps, BurstSize: burst}, trusted, slog.Default())
}

func request(l *Limiter, remoteAddr, xff string) int {
	h := l.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/recommendations/u1", nil)
	req.RemoteAddr = remoteAddr
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestLimiter_RejectsBeyondBurst(t *testing.T) {
	l := newTestLimiter(1, 2, nil)
	defer l.Stop()

	if code := request(l, "10.1.1.1:1234", ""); code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", code)
	}
	if code := request(l, "10.1.1.1:1234", ""); code != http.StatusOK {
		t.Fatalf("expected second request allowed, got %d", code)
	}
	if code := request(l, "10.1.1.1:1234", ""); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 beyond burst, got %d", code)
	}
}

func TestLimiter_SeparateBucketsPerClient(t *testing.T) {
	l := newTestLimiter(1, 1, nil)
	defer l.Stop()

	if code := request(l, "10.1.1.1:1234", ""); code != http.StatusOK {
		t.Fatalf("expected first client allowed, got %d", code)
	}
	if code := request(l, "10.1.1.2:1234", ""); code != http.StatusOK {
		t.Fatalf("expected second client allowed, got %d", code)
	}
	if code := request(l, "10.1.1.1:1234", ""); code != http.StatusTooManyRequests {
		t.Fatalf("expected first client throttled, got %d", code)
	}
}

func TestLimiter_ForwardedForOnlyFromTrustedProxy(t *testing.T) {
	l := newTestLimiter(1, 1, []string{"10.0.0.0/8"})
	defer l.Stop()

	// Trusted proxy: the XFF client gets its own bucket.
	if code := request(l, "10.0.0.1:443", "203.0.113.5"); code != http.StatusOK {
		t.Fatalf("expected allowed, got %d", code)
	}
	if code := request(l, "10.0.0.1:443", "203.0.113.6"); code != http.StatusOK {
		t.Fatalf("expected different XFF client allowed, got %d", code)
	}
	if code := request(l, "10.0.0.1:443", "203.0.113.5"); code != http.StatusTooManyRequests {
		t.Fatalf("expected repeat XFF client throttled, got %d", code)
	}

	// Untrusted peer: XFF is ignored, the peer IP is the bucket key.
	if code := request(l, "198.51.100.9:1234", "203.0.113.7"); code != http.StatusOK {
		t.Fatalf("expected allowed, got %d", code)
	}
	if code := request(l, "198.51.100.9:1234", "203.0.113.8"); code != http.StatusTooManyRequests {
		t.Fatalf("expected untrusted peer throttled despite new XFF, got %d", code)
	}
}

func TestLimiter_UpdateConfigResetsBuckets(t *testing.T) {
	l := newTestLimiter(1, 1, nil)
	defer l.Stop()

	request(l, "10.1.1.1:1234", "") //nolint:errcheck
	if code := request(l, "10.1.1.1:1234", ""); code != http.StatusTooManyRequests {
		t.Fatalf("expected throttled before update, got %d", code)
	}

	l.UpdateConfig(config.RateLimitConfig{RequestsPerSecond: 100, BurstSize: 50})
	if code := request(l, "10.1.1.1:1234", ""); code != http.StatusOK {
		t.Fatalf("expected allowed after raising limits, got %d", code)
	}
}
