package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/calebmurr/recgate/internal/metrics"
	"github.com/calebmurr/recgate/internal/middleware"
)

func init() {
	metrics.Init()
}

func TestCaller_DecodesSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"userId":"u1","preferences":["Action","Sci-Fi"]}`))
	}))
	defer srv.Close()

	var out struct {
		UserID      string   `json:"userId"`
		Preferences []string `json:"preferences"`
	}
	c := NewCaller(nil)
	if err := c.GetJSON(context.Background(), "user-profile-service", srv.URL, time.Second, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.UserID != "u1" || len(out.Preferences) != 2 {
		t.Fatalf("unexpected decode result: %+v", out)
	}
}

func TestCaller_NonSuccessStatusIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	var out map[string]any
	err := NewCaller(nil).GetJSON(context.Background(), "content-service", srv.URL, time.Second, &out)

	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if ue.Kind != KindUpstreamError {
		t.Fatalf("expected upstream_error, got %q", ue.Kind)
	}
	if ue.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", ue.Status)
	}
}

func TestCaller_ConnectionRefusedIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing listens here anymore

	var out map[string]any
	err := NewCaller(nil).GetJSON(context.Background(), "content-service", url, time.Second, &out)

	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if ue.Kind != KindTransportError {
		t.Fatalf("expected transport_error, got %q", ue.Kind)
	}
}

func TestCaller_DeadlineExceededIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}))
	defer srv.Close()

	var out map[string]any
	err := NewCaller(nil).GetJSON(context.Background(), "trending-service", srv.URL, 30*time.Millisecond, &out)

	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if ue.Kind != KindTimeout {
		t.Fatalf("expected timeout, got %q", ue.Kind)
	}
}

func TestCaller_ForwardsRequestID(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(middleware.RequestIDHeader)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	// Run the call through the middleware so the ID travels via context,
	// the same way a real request reaches the pipeline.
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var out map[string]any
		if err := NewCaller(nil).GetJSON(r.Context(), "content-service", srv.URL, time.Second, &out); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}))
	req := httptest.NewRequest(http.MethodGet, "/recommendations/u1", nil)
	req.Header.Set(middleware.RequestIDHeader, "trace-me-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "trace-me-1" {
		t.Fatalf("expected request ID forwarded to upstream, got %q", got)
	}
}

func TestCaller_MalformedBodyIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"movies": [`))
	}))
	defer srv.Close()

	var out map[string]any
	err := NewCaller(nil).GetJSON(context.Background(), "content-service", srv.URL, time.Second, &out)

	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if ue.Kind != KindUpstreamError {
		t.Fatalf("expected upstream_error for malformed body, got %q", ue.Kind)
	}
}
