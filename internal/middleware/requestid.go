package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
)

type ctxKey string

// RequestIDHeader is the header carrying the request ID, both on responses
// and on outbound upstream calls (the caller forwards it for correlation).
const RequestIDHeader = "X-Request-ID"

const requestIDKey ctxKey = "request_id"

// RequestID returns middleware that ensures every request has a request ID.
// An incoming ID is preserved so traces started by a caller stay intact;
// otherwise a fresh one is generated. The ID is set on the response header
// and stored in the request context, where the upstream caller picks it up
// to stamp outbound requests.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = newRequestID()
		}

		w.Header().Set(RequestIDHeader, id)
		// Also on the request so apierror can report it without a context.
		r.Header.Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from a context. Returns empty string
// if no request ID is present.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// newRequestID returns 128 bits of randomness as 32 hex characters. The IDs
// only need to be unique for correlation across the gateway and its three
// upstreams, so there is no value in dressing them up as UUIDs.
func newRequestID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
