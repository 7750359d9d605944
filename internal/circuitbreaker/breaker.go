package circuitbreaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/calebmurr/recgate/internal/clock"
	"github.com/calebmurr/recgate/internal/metrics"
)

// Default configuration values applied by Config.withDefaults.
const (
	DefaultRequestTimeout              = 2 * time.Second
	DefaultWindowSize                  = 10
	DefaultFailureRateThreshold        = 0.5
	DefaultConsecutiveFailureThreshold = 5
	DefaultOpenStateDuration           = 30 * time.Second
	DefaultHalfOpenMaxTrials           = 3
)

// Config holds the breaker tuning parameters. Immutable after construction
// except through UpdateConfig (config hot-reload).
type Config struct {
	// RequestTimeout is the deadline imposed on every admitted operation.
	RequestTimeout time.Duration

	// WindowSize is the number of recent outcomes retained for the
	// failure-rate trip check.
	WindowSize int

	// FailureRateThreshold trips the breaker when the failure ratio over a
	// full window reaches it. Must be in [0, 1]; zero is honored and means
	// any failed outcome in a full window trips. A negative value selects
	// DefaultFailureRateThreshold.
	FailureRateThreshold float64

	// ConsecutiveFailureThreshold trips the breaker after this many
	// back-to-back failures, regardless of window rate.
	ConsecutiveFailureThreshold int

	// OpenStateDuration is how long the breaker stays open before probing.
	OpenStateDuration time.Duration

	// HalfOpenMaxTrials is the number of probe calls admitted while
	// half-open before either closing (all succeed) or rejecting.
	HalfOpenMaxTrials int
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.FailureRateThreshold < 0 {
		c.FailureRateThreshold = DefaultFailureRateThreshold
	}
	if c.ConsecutiveFailureThreshold <= 0 {
		c.ConsecutiveFailureThreshold = DefaultConsecutiveFailureThreshold
	}
	if c.OpenStateDuration <= 0 {
		c.OpenStateDuration = DefaultOpenStateDuration
	}
	if c.HalfOpenMaxTrials <= 0 {
		c.HalfOpenMaxTrials = DefaultHalfOpenMaxTrials
	}
	return c
}

// Breaker is a finite-state controller shared by every in-flight request to
// one upstream. All mutations of its accounting happen under mu; the
// downstream call itself runs outside the lock.
type Breaker struct {
	mu sync.Mutex

	name   string
	logger *slog.Logger
	clk    clock.Clock
	cfg    Config

	state State

	// Sliding window of recent outcomes, implemented as a ring buffer.
	window   []bool // true = failure
	head     int    // next write position
	count    int    // outcomes recorded, up to len(window)
	failures int    // failures currently in the window

	consecutiveFailures int
	openedAt            time.Time // set iff state is StateOpen

	halfOpenTrials    int
	halfOpenSuccesses int

	// Lifetime counters, cleared only by Reset.
	totalSuccess uint64
	totalFailure uint64
}

// New creates a breaker named name. Zero-valued cfg fields take the package
// defaults, except FailureRateThreshold, where zero is kept and only a
// negative value selects the default. clk may be nil, in which case the
// system clock is used.
func New(name string, cfg Config, clk clock.Clock, logger *slog.Logger) *Breaker {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{
		name:   name,
		logger: logger,
		clk:    clk,
		cfg:    cfg,
		state:  StateClosed,
		window: make([]bool, cfg.WindowSize),
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Name returns the breaker's human label.
func (b *Breaker) Name() string { return b.name }

// Execute runs op under b's policy. The operation receives a context bounded
// by the breaker's request timeout; if it has not produced a result by then,
// the attempt is recorded as a failure and any late result is discarded.
// When the breaker rejects the call, op is not invoked and Execute returns an
// *OpenError; rejections are not recorded as outcomes.
func Execute[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T

	if err := b.admit(); err != nil {
		return zero, err
	}

	// Read under the lock so a concurrent UpdateConfig is safe.
	timeout := b.requestTimeout()

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	// Buffered so a late completion never blocks the abandoned goroutine.
	ch := make(chan result, 1)
	go func() {
		val, err := op(opCtx)
		ch <- result{val: val, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			b.recordFailure()
			return zero, res.err
		}
		b.recordSuccess()
		return res.val, nil
	case <-timer.C:
		b.recordFailure()
		b.logger.Warn("circuit breaker call timed out",
			"breaker", b.name,
			"timeout", timeout,
		)
		return zero, &TimeoutError{Name: b.name}
	}
}

func (b *Breaker) requestTimeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.RequestTimeout
}

// CurrentState returns the state after applying any pending time-driven
// open → half-open transition.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reconsider()
	return b.state
}

// Reset forces the breaker closed and zeros every counter and the window.
// Safe to call in any state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.transitionTo(StateClosed)
	}
	b.clearWindow()
	b.consecutiveFailures = 0
	b.halfOpenTrials = 0
	b.halfOpenSuccesses = 0
	b.totalSuccess = 0
	b.totalFailure = 0

	b.logger.Info("circuit breaker reset", "breaker", b.name)
}

// UpdateConfig applies new tuning parameters at runtime (config hot-reload).
// Resizing the window discards its contents.
func (b *Breaker) UpdateConfig(cfg Config) {
	cfg = cfg.withDefaults()

	b.mu.Lock()
	defer b.mu.Unlock()

	resize := cfg.WindowSize != b.cfg.WindowSize
	b.cfg = cfg
	if resize {
		b.window = make([]bool, cfg.WindowSize)
		b.head = 0
		b.count = 0
		b.failures = 0
	}
}

// admit decides whether a call may proceed. In half-open it atomically claims
// a probe slot before the call runs, so concurrent probes can never overshoot
// the trial limit.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reconsider()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.halfOpenTrials < b.cfg.HalfOpenMaxTrials {
			b.halfOpenTrials++
			return nil
		}
	}

	metrics.CircuitBreakerRejections.WithLabelValues(b.name).Inc()
	return &OpenError{Name: b.name, State: b.state}
}

// reconsider applies the time-driven open → half-open transition.
// Must be called with b.mu held.
func (b *Breaker) reconsider() {
	if b.state == StateOpen && b.clk.Now().Sub(b.openedAt) >= b.cfg.OpenStateDuration {
		b.transitionTo(StateHalfOpen)
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccess++
	b.consecutiveFailures = 0
	b.appendOutcome(false)

	if b.state == StateHalfOpen {
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenMaxTrials {
			b.transitionTo(StateClosed)
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailure++
	b.consecutiveFailures++
	b.appendOutcome(true)

	switch b.state {
	case StateHalfOpen:
		// Any probe failure re-trips immediately.
		b.transitionTo(StateOpen)
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.ConsecutiveFailureThreshold {
			b.transitionTo(StateOpen)
		} else if b.count >= b.cfg.WindowSize && b.failureRate() >= b.cfg.FailureRateThreshold {
			b.transitionTo(StateOpen)
		}
	}
}

// appendOutcome writes a result into the ring buffer, evicting the oldest
// entry when the window is full. Must be called with b.mu held.
func (b *Breaker) appendOutcome(failed bool) {
	if b.count == len(b.window) {
		if b.window[b.head] {
			b.failures--
		}
	} else {
		b.count++
	}

	b.window[b.head] = failed
	if failed {
		b.failures++
	}
	b.head = (b.head + 1) % len(b.window)
}

// failureRate returns the failure ratio over the current window.
// Must be called with b.mu held.
func (b *Breaker) failureRate() float64 {
	if b.count == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.count)
}

func (b *Breaker) clearWindow() {
	b.head = 0
	b.count = 0
	b.failures = 0
}

// transitionTo changes the breaker state, emitting metrics and logging.
// Must be called with b.mu held.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	from := b.state
	b.state = newState

	metrics.CircuitBreakerStateChanges.WithLabelValues(b.name, from.String(), newState.String()).Inc()
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(float64(newState))

	b.logger.Info("circuit breaker state change",
		"breaker", b.name,
		"from", from.String(),
		"to", newState.String(),
	)

	switch newState {
	case StateClosed:
		b.openedAt = time.Time{}
		b.clearWindow()
		b.consecutiveFailures = 0
		b.halfOpenTrials = 0
		b.halfOpenSuccesses = 0
	case StateOpen:
		b.openedAt = b.clk.Now()
		b.halfOpenTrials = 0
		b.halfOpenSuccesses = 0
	case StateHalfOpen:
		b.openedAt = time.Time{}
		b.halfOpenTrials = 0
		b.halfOpenSuccesses = 0
	}
}
