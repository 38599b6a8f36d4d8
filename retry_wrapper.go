package resilience

import (
	"context"
)

// RetryWrapper wraps a ResilientClient with a RetryGuard.
type RetryWrapper[Req, Resp any] struct {
	client ResilientClient[Req, Resp]
	guard  *RetryGuard
}

var _ ResilientClient[struct{}, struct{}] = (*RetryWrapper[struct{}, struct{}])(nil)

// NewRetryWrapper creates a new retry wrapper around a ResilientClient.
//
// Example:
//
//	wrapper, err := resilience.NewRetryWrapper(
//	    client,
//	    resilience.RetryPolicy{MaxAttempts: 5, MinWait: time.Second, MaxWait: 30 * time.Second, Jitter: true},
//	    resilience.WithLogger(logger),
//	)
func NewRetryWrapper[Req, Resp any](
	client ResilientClient[Req, Resp],
	policy RetryPolicy,
	opts ...Option,
) (*RetryWrapper[Req, Resp], error) {
	guard, err := NewRetryGuard(policy, opts...)
	if err != nil {
		return nil, err
	}
	return &RetryWrapper[Req, Resp]{client: client, guard: guard}, nil
}

// Execute performs the request under the retry policy.
func (w *RetryWrapper[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	return Retry(ctx, w.guard, func(ctx context.Context) (Resp, error) {
		return w.client.Execute(ctx, req)
	})
}

// Guard returns the underlying retry guard.
func (w *RetryWrapper[Req, Resp]) Guard() *RetryGuard {
	return w.guard
}

// GetRetryStats returns statistics about retry operations.
// This method is thread-safe and returns a snapshot of the current statistics.
func (w *RetryWrapper[Req, Resp]) GetRetryStats() RetryStats {
	return w.guard.Stats()
}
