package circuitbreaker

import "fmt"

// Snapshot is a read-only view of the breaker internals, serialized on the
// metrics endpoint.
type Snapshot struct {
	State               string `json:"state"`
	FailureRate         string `json:"failureRate"`
	SuccessfulCalls     uint64 `json:"successfulCalls"`
	FailedCalls         uint64 `json:"failedCalls"`
	WindowFailureRate   string `json:"windowFailureRate"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	HalfOpenTrials      string `json:"halfOpenTrials"`
}

// Metrics returns a snapshot of the breaker state. The time-driven
// open → half-open transition is applied first so the reported state
// reflects the current moment.
func (b *Breaker) Metrics() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reconsider()

	snap := Snapshot{
		State:               b.state.String(),
		FailureRate:         formatRate(b.totalFailure, b.totalSuccess+b.totalFailure),
		SuccessfulCalls:     b.totalSuccess,
		FailedCalls:         b.totalFailure,
		WindowFailureRate:   formatRate(uint64(b.failures), uint64(b.count)),
		ConsecutiveFailures: b.consecutiveFailures,
		HalfOpenTrials:      "N/A",
	}
	if b.state == StateHalfOpen {
		snap.HalfOpenTrials = fmt.Sprintf("%d/%d", b.halfOpenSuccesses, b.cfg.HalfOpenMaxTrials)
	}
	return snap
}

// formatRate renders part/total as a percentage with one decimal.
// Returns "0.0%" when total is zero.
func formatRate(part, total uint64) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(part)/float64(total)*100)
}
