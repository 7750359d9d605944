// Package upstream provides the outbound HTTP caller used to reach the
// user-profile, content, and trending services. Every call is a single GET
// with a deadline; failures are classified into stable kinds so the
// circuit breaker and pipeline can account for them uniformly.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/calebmurr/recgate/internal/metrics"
	"github.com/calebmurr/recgate/internal/middleware"
)

// Kind classifies an upstream call failure.
type Kind string

const (
	KindTimeout        Kind = "timeout"
	KindUpstreamError  Kind = "upstream_error"
	KindTransportError Kind = "transport_error"
)

// Error is a failed upstream call.
type Error struct {
	Kind   Kind
	Name   string // upstream label
	URL    string
	Status int // HTTP status of a non-2xx upstream_error; zero when a 2xx body failed to decode
	cause  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUpstreamError:
		return fmt.Sprintf("upstream %s: %s returned status %d", e.Name, e.URL, e.Status)
	case KindTimeout:
		return fmt.Sprintf("upstream %s: %s deadline exceeded", e.Name, e.URL)
	default:
		return fmt.Sprintf("upstream %s: %s: %v", e.Name, e.URL, e.cause)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// Caller issues single GET requests against upstream services. The underlying
// HTTP client is long-lived and shared; Caller is safe for concurrent use.
type Caller struct {
	client *http.Client
	logger *slog.Logger
}

// NewCaller creates a Caller with a pooled transport. Per-call deadlines are
// applied through the request context, not the client, so one Caller serves
// upstreams with different deadlines.
func NewCaller(logger *slog.Logger) *Caller {
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Caller{
		client: &http.Client{Transport: transport},
		logger: logger,
	}
}

// GetJSON issues a GET to url with the given deadline and decodes the JSON
// response body into v. It never retries. Failures are returned as *Error
// with kind transport_error (connect/DNS/socket), upstream_error (non-2xx),
// or timeout (deadline exceeded).
func (c *Caller) GetJSON(ctx context.Context, name, url string, deadline time.Duration, v any) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return c.fail(&Error{Kind: KindTransportError, Name: name, URL: url, cause: err})
	}
	// Forward the gateway request ID so one trace spans all three upstreams.
	if id := middleware.GetRequestID(ctx); id != "" {
		req.Header.Set(middleware.RequestIDHeader, id)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		kind := KindTransportError
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return c.fail(&Error{Kind: kind, Name: name, URL: url, cause: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return c.fail(&Error{Kind: KindUpstreamError, Name: name, URL: url, Status: resp.StatusCode})
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return c.fail(&Error{Kind: KindUpstreamError, Name: name, URL: url, cause: err})
	}

	c.logger.Debug("upstream call", "upstream", name, "url", url, "status", resp.StatusCode)
	return nil
}

func (c *Caller) fail(e *Error) error {
	metrics.UpstreamFailures.WithLabelValues(e.Name, string(e.Kind)).Inc()
	c.logger.Warn("upstream call failed",
		"upstream", e.Name,
		"url", e.URL,
		"kind", string(e.Kind),
		"status", e.Status,
	)
	return e
}
