package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed means the circuit is closed and requests flow normally.
	StateClosed State = iota

	// StateHalfOpen means the circuit is testing if the service has recovered.
	StateHalfOpen

	// StateOpen means the circuit is open and requests are rejected immediately.
	StateOpen
)

// String returns the string representation of the circuit breaker state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Breaker is the interface shared by every breaker strategy. Named breakers
// are handed out as Breaker values so call sites do not depend on the strategy.
type Breaker interface {
	// Name identifies the protected dependency.
	Name() string
	// Do runs fn unless the circuit rejects the call.
	Do(ctx context.Context, fn func(ctx context.Context) error) error
	// Snapshot reads the breaker state without changing it.
	Snapshot() BreakerSnapshot
	// Reset forces the breaker closed with zero failures.
	Reset()
}

// BreakerSnapshot is a read-only view of a breaker for monitoring.
type BreakerSnapshot struct {
	Name                string
	State               State
	ConsecutiveFailures int
	// OpenedAt is zero unless State is StateOpen.
	OpenedAt       time.Time
	TotalRequests  uint64
	TotalSuccesses uint64
	TotalFailures  uint64
	TotalRejected  uint64
}

// CircuitBreaker opens after FailureThreshold consecutive counted failures,
// rejects calls for RecoveryTimeout, then admits a single probe.
//
// The stored state is only ever closed or open. Half-open is decided when a
// call arrives after the timeout; observers keep seeing open until the probe
// resolves. While a probe is in flight every other call is rejected.
type CircuitBreaker struct {
	name       string
	config     CircuitBreakerConfig
	qualifying kindSet
	logger     *slog.Logger
	clock      clockwork.Clock
	classifier ErrorClassifier
	opts       *options

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
	requests            uint64
	successes           uint64
	failures            uint64
	rejected            uint64
}

var _ Breaker = (*CircuitBreaker)(nil)

// NewCircuitBreaker creates a consecutive-failure breaker.
//
// Example:
//
//	cb, err := resilience.NewCircuitBreaker("llm", resilience.CircuitBreakerConfig{
//	    FailureThreshold: 5,
//	    RecoveryTimeout:  60 * time.Second,
//	})
func NewCircuitBreaker(name string, config CircuitBreakerConfig, opts ...Option) (*CircuitBreaker, error) {
	config = config.withDefaults()
	if config.Strategy != StrategyConsecutive {
		return nil, fmt.Errorf("%w: NewCircuitBreaker needs strategy %q, got %q", ErrInvalidConfig, StrategyConsecutive, config.Strategy)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := newOptions(opts)
	return &CircuitBreaker{
		name:       name,
		config:     config,
		qualifying: newKindSet(config.QualifyingKinds),
		logger:     o.logger.With("breaker", name),
		clock:      o.clock,
		classifier: o.classifier,
		opts:       o,
		state:      StateClosed,
	}, nil
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Config returns the breaker configuration.
func (cb *CircuitBreaker) Config() CircuitBreakerConfig {
	return cb.config
}

// Do runs fn through the breaker. When the circuit is open and the recovery
// timeout has not elapsed, fn is not invoked and a *CircuitOpenError is
// returned. An fn aborted by ctx yields a *CancellationError; any other
// error of fn is returned unchanged. A panic in fn counts as a failure and
// is re-raised.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &CancellationError{Cause: err}
	}

	probe, rejection := cb.admit()
	if rejection != nil {
		cb.logger.Warn("circuit breaker is open, request rejected",
			"consecutive_failures", rejection.ConsecutiveFailures,
			"retry_after", rejection.RetryAfter)
		if cb.opts.onReject != nil {
			cb.opts.onReject(ctx, cb.name, rejection)
		}
		return rejection
	}

	// A panicking fn is recorded as a failure before the panic continues, so
	// an admitted probe always gives its slot back.
	defer func() {
		if r := recover(); r != nil {
			cb.record(ctx, probe, fmt.Errorf("resilience: panic in guarded call: %v", r))
			panic(r)
		}
	}()

	err := fn(ctx)
	cb.record(ctx, probe, err)
	if err != nil {
		if ce := canceledBy(ctx, err, 1); ce != nil {
			return ce
		}
	}
	return err
}

// Execute runs op through b and returns its typed result.
func Execute[T any](ctx context.Context, b Breaker, op Operation[T]) (T, error) {
	return run(ctx, b.Do, op)
}

// admit decides whether a call may proceed. probe is true when the call is
// the half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, rejection *CircuitOpenError) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateClosed {
		cb.requests++
		return false, nil
	}

	elapsed := cb.clock.Since(cb.openedAt)
	if elapsed >= cb.config.RecoveryTimeout && !cb.probing {
		cb.probing = true
		cb.requests++
		cb.logger.Info("circuit breaker admitting probe",
			"open_for", elapsed)
		cb.notify(StateOpen, StateHalfOpen)
		return true, nil
	}

	cb.rejected++
	retryAfter := cb.config.RecoveryTimeout - elapsed
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, &CircuitOpenError{
		Name:                cb.name,
		OpenedAt:            cb.openedAt,
		RetryAfter:          retryAfter,
		ConsecutiveFailures: cb.consecutiveFailures,
	}
}

// outcome is how a finished call affects the breaker.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeIgnored
)

func (cb *CircuitBreaker) classify(ctx context.Context, err error) outcome {
	if err == nil {
		return outcomeSuccess
	}
	if canceledBy(ctx, err, 0) != nil {
		return outcomeIgnored
	}
	if !cb.config.CountQualifyingOnly {
		return outcomeFailure
	}
	if cb.qualifying.has(cb.classifier.Classify(err)) {
		return outcomeFailure
	}
	return outcomeIgnored
}

// record applies the outcome of an admitted call.
func (cb *CircuitBreaker) record(ctx context.Context, probe bool, err error) {
	result := cb.classify(ctx, err)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
		// A Reset while the probe ran already closed the circuit.
		probe = cb.state == StateOpen
	}

	switch result {
	case outcomeSuccess:
		cb.successes++
		if probe {
			cb.closeLocked()
			cb.logger.Info("circuit breaker recovered, entering closed state")
			cb.notify(StateHalfOpen, StateClosed)
			return
		}
		if cb.state == StateClosed {
			cb.consecutiveFailures = 0
		}

	case outcomeFailure:
		cb.failures++
		if probe {
			cb.consecutiveFailures++
			cb.openedAt = cb.clock.Now()
			cb.logger.Warn("circuit breaker probe failed, reopening",
				"error", err)
			cb.notify(StateHalfOpen, StateOpen)
			return
		}
		// A call admitted while closed may finish after the circuit opened
		// on another goroutine's failure; it must not move openedAt.
		if cb.state != StateClosed {
			return
		}
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = cb.clock.Now()
			cb.logger.Error("circuit breaker opened due to failures",
				"consecutive_failures", cb.consecutiveFailures,
				"threshold", cb.config.FailureThreshold,
				"error", err)
			cb.notify(StateClosed, StateOpen)
		}

	case outcomeIgnored:
		if probe {
			// Breaker stays open with the original openedAt; the next call may probe.
			cb.logger.Debug("circuit breaker probe outcome not counted",
				"error", err)
			cb.notify(StateHalfOpen, StateOpen)
		}
	}
}

func (cb *CircuitBreaker) closeLocked() {
	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.openedAt = time.Time{}
	cb.probing = false
}

// notify calls the state change handler. Callers hold cb.mu, so handlers
// must not call back into the breaker.
func (cb *CircuitBreaker) notify(from, to State) {
	if cb.opts.onStateChange != nil {
		cb.opts.onStateChange(cb.name, from, to)
	}
}

// Reset forces the breaker closed with zero failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from := cb.state
	cb.closeLocked()
	cb.logger.Info("circuit breaker manually reset",
		"from", from.String())
	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}

// State returns the stored state: closed or open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current consecutive failure count.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}

// OpenedAt returns when the circuit opened, or the zero time when closed.
func (cb *CircuitBreaker) OpenedAt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.openedAt
}

// Snapshot implements Breaker.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerSnapshot{
		Name:                cb.name,
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		OpenedAt:            cb.openedAt,
		TotalRequests:       cb.requests,
		TotalSuccesses:      cb.successes,
		TotalFailures:       cb.failures,
		TotalRejected:       cb.rejected,
	}
}

// Health returns the monitoring view of the breaker.
func (cb *CircuitBreaker) Health() HealthStatus {
	return NewHealthStatus(cb.Snapshot())
}
