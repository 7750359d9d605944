// Package circuitbreaker implements a per-upstream circuit breaker that
// gates outbound calls: it tracks recent outcomes in a sliding window,
// trips to a fail-fast open state under pressure, probes for recovery,
// and exposes its internals as a metrics snapshot.
package circuitbreaker

import "fmt"

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; calls pass through.
	StateOpen                  // Failing; calls are rejected immediately.
	StateHalfOpen              // Probing; limited calls allowed to test recovery.
)

// String returns the wire-format state label.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// OpenError is returned by Execute when the breaker rejects a call without
// running it, either because the circuit is open or because all half-open
// probe slots are taken.
type OpenError struct {
	Name  string
	State State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is %s: call rejected", e.Name, e.State)
}

// TimeoutError is returned by Execute when the operation did not produce a
// result within the breaker's request timeout. Any late result is discarded.
type TimeoutError struct {
	Name string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("circuit breaker %q: operation timed out", e.Name)
}
