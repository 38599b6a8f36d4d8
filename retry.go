package resilience

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-retry"
)

// RetryGuard re-invokes a failing operation with bounded exponential backoff.
// A RetryGuard is safe for concurrent use; every call gets its own attempt
// record and backoff schedule.
type RetryGuard struct {
	policy     RetryPolicy
	retryable  kindSet
	name       string
	logger     *slog.Logger
	clock      clockwork.Clock
	classifier ErrorClassifier
	opts       *options
	stats      *retryStats
}

// attemptRecord is the per-call retry state. It never leaves the goroutine
// running the call.
type attemptRecord struct {
	number   int
	lastErr  error
	nextWait time.Duration
}

// retryStats tracks retry operation statistics.
type retryStats struct {
	mu              sync.RWMutex
	totalAttempts   int64
	totalRetries    int64
	totalSuccesses  int64
	totalFailures   int64
	totalExhausted  int64
	lastAttemptTime time.Time
	lastError       error
}

// NewRetryGuard creates a RetryGuard for policy.
//
// Example:
//
//	guard, err := resilience.NewRetryGuard(
//	    resilience.RetryPolicy{MaxAttempts: 5, MinWait: time.Second, MaxWait: 30 * time.Second, Jitter: true},
//	    resilience.WithLogger(logger),
//	)
func NewRetryGuard(policy RetryPolicy, opts ...Option) (*RetryGuard, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if len(policy.RetryableKinds) == 0 {
		policy.RetryableKinds = append([]ErrorKind(nil), DefaultRetryableKinds...)
	}

	o := newOptions(opts)
	return &RetryGuard{
		policy:     policy,
		retryable:  newKindSet(policy.RetryableKinds),
		name:       o.name,
		logger:     o.logger,
		clock:      o.clock,
		classifier: o.classifier,
		opts:       o,
		stats:      &retryStats{},
	}, nil
}

// Policy returns a copy of the guard's policy.
func (g *RetryGuard) Policy() RetryPolicy {
	p := g.policy
	p.RetryableKinds = append([]ErrorKind(nil), g.policy.RetryableKinds...)
	return p
}

// Do runs fn under the retry policy.
//
// It returns nil on the first success, fn's error unchanged when that error
// is not retryable, a *RetryExhaustedError when every attempt failed, and a
// *CancellationError when ctx ends first.
func (g *RetryGuard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		g.logger.Warn("context already done before request (expected condition)",
			"guard", g.name,
			"error", err)
		return &CancellationError{Cause: err}
	}

	backoff := g.newBackoff()
	var rec attemptRecord

	for {
		rec.number++
		g.stats.recordAttempt(rec.number, g.clock.Now())

		err := fn(ctx)
		if err == nil {
			if rec.number > 1 {
				g.logger.Info("request succeeded after retry",
					"guard", g.name,
					"attempts", rec.number)
			}
			g.stats.recordSuccess()
			return nil
		}
		rec.lastErr = err

		if ce := canceledBy(ctx, err, rec.number); ce != nil {
			g.stats.recordFailure(ce)
			return ce
		}

		kind := g.classifier.Classify(err)
		if !g.retryable.has(kind) {
			g.logger.Debug("non-retryable error, giving up",
				"guard", g.name,
				"kind", kind,
				"error", err,
				"attempts", rec.number)
			g.stats.recordFailure(err)
			return err
		}

		// The schedule stops once MaxAttempts-1 retries were handed out.
		wait, stop := backoff.Next()
		if stop {
			exhausted := &RetryExhaustedError{Attempts: rec.number, Last: rec.lastErr, LastKind: kind}
			g.logger.Warn("request failed after retries",
				"guard", g.name,
				"attempts", rec.number,
				"error", err)
			g.stats.recordExhausted(exhausted)
			if g.opts.onExhausted != nil {
				g.opts.onExhausted(ctx, g.name, exhausted)
			}
			return exhausted
		}
		rec.nextWait = g.jitter(g.saturate(wait, rec.nextWait))

		g.logger.Debug("retrying request after delay",
			"guard", g.name,
			"attempt", rec.number,
			"kind", kind,
			"wait", rec.nextWait,
			"error", err)
		if g.opts.onRetry != nil {
			g.opts.onRetry(ctx, g.name, RetryEvent{Attempt: rec.number, Wait: rec.nextWait, Err: err, Kind: kind})
		}

		if err := g.sleep(ctx, rec.nextWait); err != nil {
			g.logger.Warn("context done during retry wait (expected condition)",
				"guard", g.name,
				"attempt", rec.number,
				"error", err)
			ce := &CancellationError{Attempts: rec.number, Cause: err}
			g.stats.recordFailure(ce)
			return ce
		}
	}
}

// Retry runs op under g and returns its typed result.
func Retry[T any](ctx context.Context, g *RetryGuard, op Operation[T]) (T, error) {
	return run(ctx, g.Do, op)
}

// WrapWithRetry returns op guarded by a new RetryGuard for policy.
//
// Example:
//
//	complete, err := resilience.WrapWithRetry(llm.Complete, resilience.DefaultRetryPolicy())
//	if err != nil {
//	    return err
//	}
//	answer, err := complete(ctx)
func WrapWithRetry[T any](op Operation[T], policy RetryPolicy, opts ...Option) (Operation[T], error) {
	g, err := NewRetryGuard(policy, opts...)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (T, error) {
		return Retry(ctx, g, op)
	}, nil
}

// newBackoff builds a fresh schedule: min(MaxWait, MinWait * 2^(n-1)),
// limited to MaxAttempts-1 retries.
func (g *RetryGuard) newBackoff() retry.Backoff {
	maxRetries := uint64(g.policy.MaxAttempts - 1) // #nosec G115 - Validate keeps MaxAttempts >= 1

	if g.policy.MinWait <= 0 {
		// NewExponential rejects a zero base, and the cap would lift zero to MaxWait.
		return retry.WithMaxRetries(maxRetries, retry.BackoffFunc(func() (time.Duration, bool) {
			return 0, false
		}))
	}

	return retry.WithMaxRetries(maxRetries,
		retry.WithCappedDuration(g.policy.MaxWait, retry.NewExponential(g.policy.MinWait)))
}

// saturate keeps the schedule at MaxWait once it got there; the exponential
// shift wraps around for very long schedules.
func (g *RetryGuard) saturate(wait, prev time.Duration) time.Duration {
	if wait < prev || wait > g.policy.MaxWait {
		return g.policy.MaxWait
	}
	return wait
}

// jitter applies full jitter when enabled.
func (g *RetryGuard) jitter(wait time.Duration) time.Duration {
	if !g.policy.Jitter || wait <= 0 {
		return wait
	}
	return time.Duration(rand.Int64N(int64(wait) + 1))
}

// sleep waits d on the guard's clock, returning ctx's error if it ends first.
func (g *RetryGuard) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := g.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

func (s *retryStats) recordAttempt(attempt int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalAttempts++
	if attempt > 1 {
		s.totalRetries++
	}
	s.lastAttemptTime = now
}

func (s *retryStats) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalSuccesses++
}

func (s *retryStats) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalFailures++
	s.lastError = err
}

func (s *retryStats) recordExhausted(err *RetryExhaustedError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalFailures++
	s.totalExhausted++
	s.lastError = err
}

// RetryStats holds statistics about retry operations.
type RetryStats struct {
	// TotalAttempts is the total number of attempts made (including initial and retries)
	TotalAttempts int64

	// TotalRetries is the number of retry attempts (not including initial attempts)
	TotalRetries int64

	// TotalSuccesses is the number of successful operations
	TotalSuccesses int64

	// TotalFailures is the number of failed operations, whatever the reason
	TotalFailures int64

	// TotalExhausted is the number of operations that ran out of attempts
	TotalExhausted int64

	// LastAttemptTime is the time of the last attempt
	LastAttemptTime time.Time

	// LastError is the last error returned to a caller (if any)
	LastError error
}

// Stats returns a snapshot of the guard's statistics.
func (g *RetryGuard) Stats() RetryStats {
	g.stats.mu.RLock()
	defer g.stats.mu.RUnlock()

	return RetryStats{
		TotalAttempts:   g.stats.totalAttempts,
		TotalRetries:    g.stats.totalRetries,
		TotalSuccesses:  g.stats.totalSuccesses,
		TotalFailures:   g.stats.totalFailures,
		TotalExhausted:  g.stats.totalExhausted,
		LastAttemptTime: g.stats.lastAttemptTime,
		LastError:       g.stats.lastError,
	}
}
