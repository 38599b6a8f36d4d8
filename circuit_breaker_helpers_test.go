package resilience_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	resilience "github.com/JohnPlummer/jp-go-guard"
)

// mockClient implements ResilientClient for testing
type mockClient struct {
	executeFunc func(ctx context.Context, req string) (string, error)
	callCount   atomic.Int32
}

func (m *mockClient) Execute(ctx context.Context, req string) (string, error) {
	m.callCount.Add(1)
	return m.executeFunc(ctx, req)
}

func (m *mockClient) getCallCount() int {
	return int(m.callCount.Load())
}

// countingOp is an operation whose result is scripted per invocation.
type countingOp struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) error
}

func (o *countingOp) Do(ctx context.Context) error {
	o.mu.Lock()
	o.calls++
	call := o.calls
	o.mu.Unlock()
	return o.fn(call)
}

func (o *countingOp) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// failFirst returns an op failing its first n invocations with err.
func failFirst(n int, err error) *countingOp {
	return &countingOp{fn: func(call int) error {
		if call <= n {
			return err
		}
		return nil
	}}
}

// alwaysFail returns an op that always fails with err.
func alwaysFail(err error) *countingOp {
	return &countingOp{fn: func(int) error { return err }}
}

var (
	errUnavailable = resilience.NewOperationError(resilience.KindUnavailable, "test", errors.New("service unavailable"))
	errClient      = resilience.NewOperationError(resilience.KindClient, "test", errors.New("bad request"))
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// transition is a recorded breaker state change.
type transition struct {
	from, to resilience.State
}

// transitionRecorder collects state changes from WithStateChangeHandler.
type transitionRecorder struct {
	mu   sync.Mutex
	seen []transition
}

func (r *transitionRecorder) option() resilience.Option {
	return resilience.WithStateChangeHandler(func(_ string, from, to resilience.State) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.seen = append(r.seen, transition{from: from, to: to})
	})
}

func (r *transitionRecorder) transitions() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transition(nil), r.seen...)
}

// waitRecorder collects backoff waits from WithRetryHook.
type waitRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *waitRecorder) option() resilience.Option {
	return resilience.WithRetryHook(func(_ context.Context, _ string, ev resilience.RetryEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.waits = append(r.waits, ev.Wait)
	})
}

func (r *waitRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}
