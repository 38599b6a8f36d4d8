// Package resilience provides retry and circuit breaker guards for calls to
// downstream dependencies such as LLM providers, tool servers and databases.
//
// The three building blocks are RetryGuard, CircuitBreaker and ResilientGuard.
// ResilientGuard nests the retry loop inside the breaker, so retries absorb
// transient blips while the breaker observes one outcome per guarded call and
// absorbs sustained outages.
package resilience

import (
	"context"
)

// Operation is a fallible unit of work guarded by this package.
// The context carries cancellation; per-attempt timeouts are the operation's
// own responsibility.
type Operation[T any] func(ctx context.Context) (T, error)

// ResilientClient defines a generic interface for executing requests with retry and circuit breaker support.
// Type parameters Req and Resp can be any types, making this suitable for HTTP clients, gRPC clients,
// database clients, or any other operation that needs resilience patterns.
//
// Example:
//
//	type HTTPClient struct {
//	    client *http.Client
//	}
//
//	func (c *HTTPClient) Execute(ctx context.Context, req *http.Request) (*http.Response, error) {
//	    return c.client.Do(req.WithContext(ctx))
//	}
//
//	resilientClient, err := resilience.NewRetryWrapper(
//	    httpClient,
//	    resilience.RetryPolicy{MaxAttempts: 3, MinWait: time.Second, MaxWait: 10 * time.Second},
//	)
type ResilientClient[Req, Resp any] interface {
	// Execute performs a request and returns a response or error.
	// The context should be used to control timeouts and cancellation.
	Execute(ctx context.Context, req Req) (Resp, error)
}

// ClientFunc adapts a plain function to ResilientClient.
type ClientFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Execute calls f.
func (f ClientFunc[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// doFunc is the untyped shape shared by every guard: run fn under protection.
type doFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// run threads a typed result through an untyped guard.
func run[T any](ctx context.Context, do doFunc, op Operation[T]) (T, error) {
	var (
		zero   T
		result T
	)
	err := do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return zero, err
	}
	return result, nil
}
