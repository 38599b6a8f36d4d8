package resilience

import (
	"context"
	"fmt"
)

// CircuitBreakerWrapper wraps a ResilientClient with a Breaker.
// When the circuit is open, requests are rejected without calling the
// underlying client.
type CircuitBreakerWrapper[Req, Resp any] struct {
	client  ResilientClient[Req, Resp]
	breaker Breaker
}

// NewCircuitBreakerWrapper creates a circuit breaker wrapper around a
// ResilientClient. The breaker may be shared with other wrappers.
//
// Example:
//
//	breaker, _ := resilience.NewCircuitBreaker("llm", resilience.DefaultCircuitBreakerConfig())
//	wrapper, err := resilience.NewCircuitBreakerWrapper(client, breaker)
func NewCircuitBreakerWrapper[Req, Resp any](
	client ResilientClient[Req, Resp],
	breaker Breaker,
) (*CircuitBreakerWrapper[Req, Resp], error) {
	if breaker == nil {
		return nil, fmt.Errorf("%w: breaker is required", ErrInvalidConfig)
	}
	return &CircuitBreakerWrapper[Req, Resp]{client: client, breaker: breaker}, nil
}

// Execute executes the request through the circuit breaker.
// Rejections are returned as *CircuitOpenError, which matches ErrCircuitOpen
// from both this package and jp-go-errors.
func (w *CircuitBreakerWrapper[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	return Execute(ctx, w.breaker, func(ctx context.Context) (Resp, error) {
		return w.client.Execute(ctx, req)
	})
}

// State returns the current state of the circuit breaker.
func (w *CircuitBreakerWrapper[Req, Resp]) State() State {
	return w.breaker.Snapshot().State
}

// Snapshot returns the breaker snapshot.
func (w *CircuitBreakerWrapper[Req, Resp]) Snapshot() BreakerSnapshot {
	return w.breaker.Snapshot()
}

// GetHealth returns the health status of the circuit breaker.
func (w *CircuitBreakerWrapper[Req, Resp]) GetHealth() HealthStatus {
	return NewHealthStatus(w.breaker.Snapshot())
}

// CombinedWrapper is a ResilientClient with retry inside a circuit breaker.
type CombinedWrapper[Req, Resp any] struct {
	client ResilientClient[Req, Resp]
	guard  *ResilientGuard
}

// CombineRetryAndCircuitBreaker creates a wrapper with both retry and circuit
// breaker functionality. The retry loop runs inside the breaker, so one
// Execute counts as at most one breaker failure however many attempts it
// made, and an open circuit rejects the request before any attempt.
func CombineRetryAndCircuitBreaker[Req, Resp any](
	client ResilientClient[Req, Resp],
	policy RetryPolicy,
	breaker Breaker,
	opts ...Option,
) (*CombinedWrapper[Req, Resp], error) {
	guard, err := NewResilientGuard(policy, breaker, opts...)
	if err != nil {
		return nil, err
	}
	return &CombinedWrapper[Req, Resp]{client: client, guard: guard}, nil
}

// Execute performs the request under retry inside the breaker.
func (w *CombinedWrapper[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	return Protect(ctx, w.guard, func(ctx context.Context) (Resp, error) {
		return w.client.Execute(ctx, req)
	})
}

// GetHealth returns the health status of the breaker.
func (w *CombinedWrapper[Req, Resp]) GetHealth() HealthStatus {
	return NewHealthStatus(w.guard.Breaker().Snapshot())
}

// GetRetryStats returns statistics about the retry loop.
func (w *CombinedWrapper[Req, Resp]) GetRetryStats() RetryStats {
	return w.guard.RetryGuard().Stats()
}
