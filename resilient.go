package resilience

import (
	"context"
	"errors"
	"fmt"
)

// ResilientGuard runs a retry loop inside a circuit breaker:
//
//	breaker.Do(ctx, func(ctx) error { return retry.Do(ctx, op) })
//
// While the circuit admits calls, a guarded call may retry several times
// before the breaker sees a single outcome, so the breaker's failure count
// grows by at most one per guarded call. Several guards may share a breaker.
type ResilientGuard struct {
	retry   *RetryGuard
	breaker Breaker
}

// NewResilientGuard creates a guard that retries under policy inside breaker.
//
// Example:
//
//	llm := registry.MustGet(resilience.DependencyLLM)
//	guard, err := resilience.NewResilientGuard(resilience.DefaultRetryPolicy(), llm)
func NewResilientGuard(policy RetryPolicy, breaker Breaker, opts ...Option) (*ResilientGuard, error) {
	if breaker == nil {
		return nil, fmt.Errorf("%w: breaker is required", ErrInvalidConfig)
	}
	opts = append([]Option{WithName(breaker.Name())}, opts...)
	rg, err := NewRetryGuard(policy, opts...)
	if err != nil {
		return nil, err
	}
	return &ResilientGuard{retry: rg, breaker: breaker}, nil
}

// Do runs fn under retry inside the breaker.
func (g *ResilientGuard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.retry.Do(ctx, fn)
	})
}

// Breaker returns the guard's breaker.
func (g *ResilientGuard) Breaker() Breaker {
	return g.breaker
}

// RetryGuard returns the guard's retry loop.
func (g *ResilientGuard) RetryGuard() *RetryGuard {
	return g.retry
}

// Protect runs op under g and returns its typed result.
func Protect[T any](ctx context.Context, g *ResilientGuard, op Operation[T]) (T, error) {
	return run(ctx, g.Do, op)
}

// NewBreaker builds the breaker selected by config.Strategy.
func NewBreaker(name string, config CircuitBreakerConfig, opts ...Option) (Breaker, error) {
	switch config.Strategy {
	case "", StrategyConsecutive:
		cb, err := NewCircuitBreaker(name, config, opts...)
		if err != nil {
			return nil, err
		}
		return cb, nil
	case StrategyRatio:
		rb, err := NewRatioBreaker(name, config, opts...)
		if err != nil {
			return nil, err
		}
		return rb, nil
	default:
		return nil, fmt.Errorf("%w: unknown breaker strategy %q", ErrInvalidConfig, config.Strategy)
	}
}

// WrapWithResilience returns op guarded by retryPolicy inside a new breaker
// built from breakerConfig. The breaker is private to the returned operation;
// use WrapWithBreaker to share one across call sites.
func WrapWithResilience[T any](op Operation[T], retryPolicy RetryPolicy, breakerConfig CircuitBreakerConfig, opts ...Option) (Operation[T], error) {
	breaker, err := NewBreaker("resilient-operation", breakerConfig, opts...)
	if err != nil {
		return nil, err
	}
	return WrapWithBreaker(op, retryPolicy, breaker, opts...)
}

// WrapWithBreaker returns op guarded by retryPolicy inside a shared breaker.
func WrapWithBreaker[T any](op Operation[T], retryPolicy RetryPolicy, breaker Breaker, opts ...Option) (Operation[T], error) {
	g, err := NewResilientGuard(retryPolicy, breaker, opts...)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (T, error) {
		return Protect(ctx, g, op)
	}, nil
}

// Outcome names the guard error class of err for fallback dispatch and logs:
// "ok", "circuit_open", "retry_exhausted", "canceled" or "operation_error".
func Outcome(err error) string {
	var (
		open      *CircuitOpenError
		exhausted *RetryExhaustedError
		canceled  *CancellationError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &open):
		return "circuit_open"
	case errors.As(err, &exhausted):
		return "retry_exhausted"
	case errors.As(err, &canceled):
		return "canceled"
	default:
		return "operation_error"
	}
}
