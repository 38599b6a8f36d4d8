package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"
)

// Sentinel errors for errors.Is checks against the guard error types.
var (
	// ErrCircuitOpen matches *CircuitOpenError. It is the jp-go-errors sentinel
	// so callers already handling jperrors.ErrCircuitOpen keep working.
	ErrCircuitOpen = jperrors.ErrCircuitOpen

	// ErrRetryExhausted matches *RetryExhaustedError.
	ErrRetryExhausted = errors.New("resilience: retry attempts exhausted")

	// ErrCanceled matches *CancellationError.
	ErrCanceled = errors.New("resilience: canceled")

	// ErrInvalidConfig is wrapped by policy and breaker validation errors.
	ErrInvalidConfig = errors.New("resilience: invalid configuration")
)

// OperationError tags a failure of the wrapped operation with an ErrorKind.
// Guards pass it through unchanged; it exists so operations can state their
// own classification instead of relying on DefaultClassifier heuristics.
type OperationError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewOperationError creates an OperationError for op.
func NewOperationError(kind ErrorKind, op string, err error) *OperationError {
	return &OperationError{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// ErrorKind reports the classification carried by the error.
func (e *OperationError) ErrorKind() ErrorKind {
	return e.Kind
}

// RetryExhaustedError is returned when every attempt allowed by the policy
// failed with a retryable error.
type RetryExhaustedError struct {
	// Attempts is the number of times the operation was invoked.
	Attempts int
	// Last is the error returned by the final attempt.
	Last error
	// LastKind is the classification of Last.
	LastKind ErrorKind
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("resilience: retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last underlying error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// Is reports whether target is ErrRetryExhausted.
func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// ErrorKind reports the kind of the last underlying error, so a breaker
// wrapping a retry loop classifies exhaustion by its cause.
func (e *RetryExhaustedError) ErrorKind() ErrorKind {
	return e.LastKind
}

// CircuitOpenError is returned when a breaker rejects a call without invoking
// the operation.
type CircuitOpenError struct {
	// Name is the breaker name.
	Name string
	// OpenedAt is when the breaker last opened. Zero if unknown.
	OpenedAt time.Time
	// RetryAfter is the remaining cooldown. Zero means a probe is already in
	// flight and the caller may try again shortly.
	RetryAfter time.Duration
	// ConsecutiveFailures at rejection time.
	ConsecutiveFailures int

	cause error
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("resilience: circuit breaker %q is open, retry after %s", e.Name, e.RetryAfter)
	}
	return fmt.Sprintf("resilience: circuit breaker %q is open, probe in flight", e.Name)
}

// Unwrap returns the breaker-specific cause, if any.
func (e *CircuitOpenError) Unwrap() error {
	return e.cause
}

// Is reports whether target is ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// ErrorKind reports KindUnavailable.
func (e *CircuitOpenError) ErrorKind() ErrorKind {
	return KindUnavailable
}

// CancellationError is returned when the caller's context ends while a guard
// is waiting or while the operation runs.
type CancellationError struct {
	// Attempts made before cancellation was observed.
	Attempts int
	// Cause is the context error (context.Canceled or context.DeadlineExceeded).
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("resilience: canceled after %d attempts: %v", e.Attempts, e.Cause)
}

// Unwrap returns the context error.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrCanceled.
func (e *CancellationError) Is(target error) bool {
	return target == ErrCanceled
}

// ErrorKind reports KindCanceled.
func (e *CancellationError) ErrorKind() ErrorKind {
	return KindCanceled
}

// IsCircuitOpen reports whether err is a breaker rejection.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsRetryExhausted reports whether err signals exhausted retries.
func IsRetryExhausted(err error) bool {
	return errors.Is(err, ErrRetryExhausted)
}

// IsCanceled reports whether err is a guard cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// canceledBy converts err into a CancellationError when it is the caller's
// own context ending, and returns nil otherwise.
func canceledBy(ctx context.Context, err error, attempts int) *CancellationError {
	var ce *CancellationError
	if errors.As(err, &ce) {
		return ce
	}
	if ctx.Err() == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &CancellationError{Attempts: attempts, Cause: ctx.Err()}
	}
	return nil
}
