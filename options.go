package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryPolicy configures a RetryGuard. It is a plain value; copy it freely.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of invocations, including the first.
	// Default: 3
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts"`

	// MinWait is the wait before the first retry; later waits double.
	// Default: 1 second
	MinWait time.Duration `mapstructure:"min_wait" json:"min_wait"`

	// MaxWait caps every wait.
	// Default: 10 seconds
	MaxWait time.Duration `mapstructure:"max_wait" json:"max_wait"`

	// Jitter replaces each wait with a uniform random value in [0, wait].
	Jitter bool `mapstructure:"jitter" json:"jitter"`

	// RetryableKinds lists the error kinds that are retried. Any other kind
	// fails fast. Empty means DefaultRetryableKinds.
	RetryableKinds []ErrorKind `mapstructure:"retryable_kinds" json:"retryable_kinds,omitempty"`
}

// DefaultRetryPolicy returns the policy used for
// LLM, tool and database calls: 3 attempts, 1s..10s exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		MinWait:        time.Second,
		MaxWait:        10 * time.Second,
		RetryableKinds: append([]ErrorKind(nil), DefaultRetryableKinds...),
	}
}

// Validate checks the policy invariants.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidConfig, p.MaxAttempts)
	}
	if p.MinWait < 0 {
		return fmt.Errorf("%w: min wait must not be negative, got %s", ErrInvalidConfig, p.MinWait)
	}
	if p.MinWait > p.MaxWait {
		return fmt.Errorf("%w: min wait %s exceeds max wait %s", ErrInvalidConfig, p.MinWait, p.MaxWait)
	}
	return nil
}

// BreakerStrategy selects the breaker implementation built from a config.
type BreakerStrategy string

const (
	// StrategyConsecutive trips after FailureThreshold consecutive failures.
	StrategyConsecutive BreakerStrategy = "consecutive"

	// StrategyRatio trips on a failure ratio over a rolling interval.
	StrategyRatio BreakerStrategy = "ratio"
)

// CircuitBreakerConfig configures a breaker. It is a plain value; copy it freely.
type CircuitBreakerConfig struct {
	// Strategy selects the implementation. Default: StrategyConsecutive
	Strategy BreakerStrategy `mapstructure:"strategy" json:"strategy,omitempty"`

	// FailureThreshold is the number of consecutive counted failures that
	// opens the circuit.
	// Default: 5
	FailureThreshold int `mapstructure:"failure_threshold" json:"failure_threshold"`

	// RecoveryTimeout is how long the circuit stays open before a probe is admitted.
	// Default: 60 seconds
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout" json:"recovery_timeout"`

	// QualifyingKinds lists the error kinds the breaker considers qualifying.
	// Only consulted when CountQualifyingOnly is set.
	QualifyingKinds []ErrorKind `mapstructure:"qualifying_kinds" json:"qualifying_kinds,omitempty"`

	// CountQualifyingOnly restricts counting to QualifyingKinds. By default
	// every failure counts, whatever the retry policy thinks of it.
	CountQualifyingOnly bool `mapstructure:"count_qualifying_only" json:"count_qualifying_only,omitempty"`

	// MinRequests is the number of requests in an interval before the ratio
	// strategy may trip. Default: 3
	MinRequests uint32 `mapstructure:"min_requests" json:"min_requests,omitempty"`

	// FailureRatio trips the ratio strategy. Default: 0.6
	FailureRatio float64 `mapstructure:"failure_ratio" json:"failure_ratio,omitempty"`

	// Interval clears the ratio strategy's counts while closed. 0 never clears.
	Interval time.Duration `mapstructure:"interval" json:"interval,omitempty"`

	// MaxRequests is the number of half-open probes the ratio strategy admits.
	// Default: 1
	MaxRequests uint32 `mapstructure:"max_requests" json:"max_requests,omitempty"`
}

// DefaultCircuitBreakerConfig returns a consecutive breaker with threshold 5
// and a 60 second recovery timeout.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Strategy:         StrategyConsecutive,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// withDefaults fills the ratio fields left at zero.
func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.Strategy == "" {
		c.Strategy = StrategyConsecutive
	}
	if c.MinRequests == 0 {
		c.MinRequests = 3
	}
	if c.FailureRatio == 0 {
		c.FailureRatio = 0.6
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	return c
}

// Validate checks the config invariants.
func (c CircuitBreakerConfig) Validate() error {
	switch c.Strategy {
	case "", StrategyConsecutive:
		if c.FailureThreshold < 1 {
			return fmt.Errorf("%w: failure threshold must be at least 1, got %d", ErrInvalidConfig, c.FailureThreshold)
		}
	case StrategyRatio:
		if c.FailureRatio < 0 || c.FailureRatio > 1 {
			return fmt.Errorf("%w: failure ratio must be within [0, 1], got %v", ErrInvalidConfig, c.FailureRatio)
		}
	default:
		return fmt.Errorf("%w: unknown breaker strategy %q", ErrInvalidConfig, c.Strategy)
	}
	if c.RecoveryTimeout < 0 {
		return fmt.Errorf("%w: recovery timeout must not be negative, got %s", ErrInvalidConfig, c.RecoveryTimeout)
	}
	if c.CountQualifyingOnly && len(c.QualifyingKinds) == 0 {
		return fmt.Errorf("%w: count_qualifying_only requires qualifying kinds", ErrInvalidConfig)
	}
	return nil
}

// RetryEvent describes a failed attempt that is about to be retried.
type RetryEvent struct {
	// Attempt is the number of the attempt that just failed (1-based).
	Attempt int
	// Wait is the backoff before the next attempt.
	Wait time.Duration
	// Err is the error returned by the attempt.
	Err error
	// Kind is the classification of Err.
	Kind ErrorKind
}

// options holds the runtime collaborators shared by every guard.
type options struct {
	logger        *slog.Logger
	clock         clockwork.Clock
	classifier    ErrorClassifier
	onRetry       func(ctx context.Context, name string, ev RetryEvent)
	onExhausted   func(ctx context.Context, name string, err *RetryExhaustedError)
	onStateChange func(name string, from, to State)
	onReject      func(ctx context.Context, name string, err *CircuitOpenError)
	name          string
}

// Option configures a guard's runtime collaborators.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.classifier == nil {
		o.classifier = DefaultClassifier()
	}
	return o
}

// WithLogger sets the structured logger.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	resilience.WithLogger(logger)
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the clock used for backoff waits and breaker timing.
// Tests pass a clockwork.FakeClock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithClassifier sets the error classifier.
func WithClassifier(classifier ErrorClassifier) Option {
	return func(o *options) {
		o.classifier = classifier
	}
}

// WithName labels a retry guard in logs and hooks. Breakers take their name
// from the constructor.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithRetryHook registers fn to run before every backoff wait.
func WithRetryHook(fn func(ctx context.Context, name string, ev RetryEvent)) Option {
	return func(o *options) {
		o.onRetry = chain2(o.onRetry, fn)
	}
}

// WithExhaustedHook registers fn to run when a retry loop gives up.
func WithExhaustedHook(fn func(ctx context.Context, name string, err *RetryExhaustedError)) Option {
	return func(o *options) {
		o.onExhausted = chain2(o.onExhausted, fn)
	}
}

// WithStateChangeHandler registers fn to run on every breaker transition.
//
// Example:
//
//	resilience.WithStateChangeHandler(func(name string, from, to resilience.State) {
//	    log.Printf("Circuit %s changed from %s to %s", name, from, to)
//	})
func WithStateChangeHandler(fn func(name string, from, to State)) Option {
	return func(o *options) {
		prev := o.onStateChange
		if prev == nil {
			o.onStateChange = fn
			return
		}
		o.onStateChange = func(name string, from, to State) {
			prev(name, from, to)
			fn(name, from, to)
		}
	}
}

// WithRejectionHook registers fn to run whenever a breaker rejects a call.
func WithRejectionHook(fn func(ctx context.Context, name string, err *CircuitOpenError)) Option {
	return func(o *options) {
		o.onReject = chain2(o.onReject, fn)
	}
}

// chain2 composes hooks of the (ctx, name, value) shape.
func chain2[E any](prev, next func(context.Context, string, E)) func(context.Context, string, E) {
	if prev == nil {
		return next
	}
	return func(ctx context.Context, name string, ev E) {
		prev(ctx, name, ev)
		next(ctx, name, ev)
	}
}
