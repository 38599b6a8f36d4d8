package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/sony/gobreaker/v2"
)

// RatioBreaker trips on a failure ratio instead of a consecutive count. It is
// backed by gobreaker and follows its semantics: State may report half-open,
// and up to MaxRequests probes are admitted while half-open. Recovery timing
// runs on gobreaker's own clock; the clock from WithClock only stamps
// OpenedAt and RetryAfter.
//
// Outcomes the counting policy ignores (caller cancellation, non-qualifying
// kinds) are reported to gobreaker as successes.
type RatioBreaker struct {
	name       string
	config     CircuitBreakerConfig
	qualifying kindSet
	logger     *slog.Logger
	classifier ErrorClassifier
	opts       *options

	cb       atomic.Pointer[gobreaker.CircuitBreaker[struct{}]]
	gen      atomic.Uint64
	rejected atomic.Uint64

	mu       sync.Mutex
	openedAt time.Time
}

var _ Breaker = (*RatioBreaker)(nil)

// NewRatioBreaker creates a ratio breaker.
//
// Example:
//
//	rb, err := resilience.NewRatioBreaker("search", resilience.CircuitBreakerConfig{
//	    Strategy:        resilience.StrategyRatio,
//	    MinRequests:     10,
//	    FailureRatio:    0.5,
//	    Interval:        10 * time.Second,
//	    RecoveryTimeout: 30 * time.Second,
//	})
func NewRatioBreaker(name string, config CircuitBreakerConfig, opts ...Option) (*RatioBreaker, error) {
	if config.Strategy == "" {
		config.Strategy = StrategyRatio
	}
	config = config.withDefaults()
	if config.Strategy != StrategyRatio {
		return nil, fmt.Errorf("%w: NewRatioBreaker needs strategy %q, got %q", ErrInvalidConfig, StrategyRatio, config.Strategy)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := newOptions(opts)
	rb := &RatioBreaker{
		name:       name,
		config:     config,
		qualifying: newKindSet(config.QualifyingKinds),
		logger:     o.logger.With("breaker", name),
		classifier: o.classifier,
		opts:       o,
	}
	rb.cb.Store(rb.newGobreaker())
	return rb, nil
}

// newGobreaker builds a fresh gobreaker instance bound to the next generation.
func (rb *RatioBreaker) newGobreaker() *gobreaker.CircuitBreaker[struct{}] {
	gen := rb.gen.Add(1)
	config := rb.config

	settings := gobreaker.Settings{
		Name:        rb.name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			// Transitions of a replaced instance are stale.
			if rb.gen.Load() != gen {
				return
			}
			rb.mu.Lock()
			if to == gobreaker.StateOpen {
				rb.openedAt = rb.opts.clock.Now()
			} else if to == gobreaker.StateClosed {
				rb.openedAt = time.Time{}
			}
			rb.mu.Unlock()

			rb.logger.Warn("circuit breaker state changed",
				"from", from.String(),
				"to", to.String())
			if rb.opts.onStateChange != nil {
				rb.opts.onStateChange(name, convertGobreakerState(from), convertGobreakerState(to))
			}
		},
		// Cancellations never trip the circuit; other failures follow the
		// counting policy.
		IsSuccessful: func(err error) bool {
			return err == nil || !rb.counts(err)
		},
	}

	return gobreaker.NewCircuitBreaker[struct{}](settings)
}

// counts reports whether a non-nil err counts as a failure.
func (rb *RatioBreaker) counts(err error) bool {
	var co *canceledOutcome
	if errors.As(err, &co) {
		return false
	}
	if !rb.config.CountQualifyingOnly {
		return true
	}
	return rb.qualifying.has(rb.classifier.Classify(err))
}

// Name returns the breaker name.
func (rb *RatioBreaker) Name() string {
	return rb.name
}

// Do runs fn through the breaker.
// gobreaker.ErrOpenState and gobreaker.ErrTooManyRequests become *CircuitOpenError,
// with the jp-go-errors circuit breaker error as cause.
func (rb *RatioBreaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &CancellationError{Cause: err}
	}

	cb := rb.cb.Load()
	_, err := cb.Execute(func() (struct{}, error) {
		err := fn(ctx)
		if err != nil && canceledBy(ctx, err, 0) != nil {
			return struct{}{}, &canceledOutcome{err: err}
		}
		return struct{}{}, err
	})
	if err == nil {
		return nil
	}

	var co *canceledOutcome
	if errors.As(err, &co) {
		return canceledBy(ctx, co.err, 1)
	}

	var state string
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		state = "open"
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		state = "half-open"
	default:
		return err
	}

	counts := cb.Counts()
	rejection := rb.rejection(counts, jperrors.NewCircuitBreakerError(
		"request rejected",
		"execute",
		state,
		jperrors.WithCause(err),
		jperrors.WithComponent(rb.name),
	))
	rb.logger.Warn("circuit breaker is open, request rejected",
		"state", state,
		"counts", counts)
	if rb.opts.onReject != nil {
		rb.opts.onReject(ctx, rb.name, rejection)
	}
	return rejection
}

// canceledOutcome carries an operation error caused by the caller's context
// through gobreaker so IsSuccessful can ignore it.
type canceledOutcome struct {
	err error
}

func (c *canceledOutcome) Error() string { return c.err.Error() }

func (c *canceledOutcome) Unwrap() error { return c.err }

func (rb *RatioBreaker) rejection(counts gobreaker.Counts, cause error) *CircuitOpenError {
	rb.rejected.Add(1)

	rb.mu.Lock()
	openedAt := rb.openedAt
	rb.mu.Unlock()

	var retryAfter time.Duration
	if !openedAt.IsZero() {
		retryAfter = rb.config.RecoveryTimeout - rb.opts.clock.Since(openedAt)
		if retryAfter < 0 {
			retryAfter = 0
		}
	}

	return &CircuitOpenError{
		Name:                rb.name,
		OpenedAt:            openedAt,
		RetryAfter:          retryAfter,
		ConsecutiveFailures: int(counts.ConsecutiveFailures),
		cause:               cause,
	}
}

// State returns the gobreaker state.
func (rb *RatioBreaker) State() State {
	return convertGobreakerState(rb.cb.Load().State())
}

// Snapshot implements Breaker. Totals cover the current gobreaker interval.
func (rb *RatioBreaker) Snapshot() BreakerSnapshot {
	cb := rb.cb.Load()
	state := convertGobreakerState(cb.State())
	counts := cb.Counts()

	rb.mu.Lock()
	openedAt := rb.openedAt
	rb.mu.Unlock()
	if state != StateOpen {
		openedAt = time.Time{}
	}

	return BreakerSnapshot{
		Name:                rb.name,
		State:               state,
		ConsecutiveFailures: int(counts.ConsecutiveFailures),
		OpenedAt:            openedAt,
		TotalRequests:       uint64(counts.Requests),
		TotalSuccesses:      uint64(counts.TotalSuccesses),
		TotalFailures:       uint64(counts.TotalFailures),
		TotalRejected:       rb.rejected.Load(),
	}
}

// Reset swaps in a fresh gobreaker instance.
func (rb *RatioBreaker) Reset() {
	from := rb.State()
	rb.cb.Store(rb.newGobreaker())

	rb.mu.Lock()
	rb.openedAt = time.Time{}
	rb.mu.Unlock()

	rb.logger.Info("circuit breaker manually reset",
		"from", from.String())
	if from != StateClosed && rb.opts.onStateChange != nil {
		rb.opts.onStateChange(rb.name, from, StateClosed)
	}
}

// Health returns the monitoring view of the breaker.
func (rb *RatioBreaker) Health() HealthStatus {
	return NewHealthStatus(rb.Snapshot())
}

// convertGobreakerState converts gobreaker.State to our State.
func convertGobreakerState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
