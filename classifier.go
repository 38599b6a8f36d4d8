package resilience

import (
	"context"
	"errors"
	"slices"
	"strings"

	jperrors "github.com/JohnPlummer/jp-go-errors"
)

// ErrorKind classifies a failure for retry and breaker decisions.
type ErrorKind string

const (
	// KindTransient is a short-lived failure expected to succeed on retry.
	KindTransient ErrorKind = "transient"
	// KindTimeout is an operation-level timeout (not the caller's context).
	KindTimeout ErrorKind = "timeout"
	// KindRateLimited is a throttling response from the dependency.
	KindRateLimited ErrorKind = "rate_limited"
	// KindUnavailable means the dependency is down or unreachable.
	KindUnavailable ErrorKind = "unavailable"
	// KindServer is an internal failure of the dependency.
	KindServer ErrorKind = "server"
	// KindClient is a caller mistake; retrying cannot help.
	KindClient ErrorKind = "client"
	// KindAuth is an authentication or authorization failure.
	KindAuth ErrorKind = "auth"
	// KindCanceled is the caller's context ending.
	KindCanceled ErrorKind = "canceled"
	// KindUnknown is anything the classifier could not place.
	KindUnknown ErrorKind = "unknown"
)

// AllKinds lists every kind known to this package.
var AllKinds = []ErrorKind{
	KindTransient, KindTimeout, KindRateLimited, KindUnavailable,
	KindServer, KindClient, KindAuth, KindCanceled, KindUnknown,
}

// DefaultRetryableKinds are retried when a RetryPolicy leaves RetryableKinds empty.
var DefaultRetryableKinds = []ErrorKind{
	KindTransient, KindTimeout, KindRateLimited, KindUnavailable, KindServer, KindUnknown,
}

// ParseErrorKind normalizes s and reports whether it names a known kind.
func ParseErrorKind(s string) (ErrorKind, bool) {
	k := ErrorKind(strings.ToLower(strings.TrimSpace(s)))
	return k, slices.Contains(AllKinds, k)
}

// kindSet is the lookup form of a []ErrorKind.
type kindSet map[ErrorKind]struct{}

func newKindSet(kinds []ErrorKind) kindSet {
	s := make(kindSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

func (s kindSet) has(k ErrorKind) bool {
	_, ok := s[k]
	return ok
}

// ErrorClassifier maps an error to an ErrorKind.
// Implement this interface to customize retry and breaker decisions for your
// specific error types.
type ErrorClassifier interface {
	Classify(err error) ErrorKind
}

// ClassifierFunc adapts a function to ErrorClassifier.
type ClassifierFunc func(err error) ErrorKind

// Classify calls f.
func (f ClassifierFunc) Classify(err error) ErrorKind {
	return f(err)
}

// kinded is implemented by errors that carry their own classification.
type kinded interface {
	ErrorKind() ErrorKind
}

// HTTPError represents an error with an associated HTTP status code.
// Many HTTP client libraries provide errors that implement this interface.
type HTTPError interface {
	error
	StatusCode() int
}

// HTTPStatusClassifier classifies errors using jp-go-errors sentinels and
// HTTP status codes.
type HTTPStatusClassifier struct {
	// StatusKinds overrides the kind for specific status codes.
	// Codes not listed fall back to the built-in mapping.
	StatusKinds map[int]ErrorKind
}

// NewHTTPStatusClassifier creates a classifier with the built-in status mapping:
// 429 rate_limited, 500 server, 502/503/504 unavailable, 401/403 auth,
// other 4xx client, other 5xx server.
func NewHTTPStatusClassifier() *HTTPStatusClassifier {
	return &HTTPStatusClassifier{}
}

// Classify implements ErrorClassifier.
func (c *HTTPStatusClassifier) Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	// Self-classified errors win over every heuristic.
	var k kinded
	if errors.As(err, &k) {
		if kind := k.ErrorKind(); kind != "" {
			return kind
		}
	}

	// Guards catch the caller's own context ending before classifying, so a
	// deadline seen here belongs to the operation.
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	if errors.Is(err, jperrors.ErrRateLimited) {
		return KindRateLimited
	}
	if jperrors.IsTimeout(err) {
		return KindTimeout
	}

	if code := extractStatusCode(err); code != 0 {
		return c.kindForStatus(code)
	}

	return KindUnknown
}

func (c *HTTPStatusClassifier) kindForStatus(code int) ErrorKind {
	if kind, ok := c.StatusKinds[code]; ok {
		return kind
	}
	switch {
	case code == 429:
		return KindRateLimited
	case code == 401 || code == 403:
		return KindAuth
	case code == 502 || code == 503 || code == 504:
		return KindUnavailable
	case code >= 500:
		return KindServer
	case code >= 400:
		return KindClient
	default:
		return KindUnknown
	}
}

// extractStatusCode attempts to extract an HTTP status code from various error types.
func extractStatusCode(err error) int {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}

	// jp-go-errors types expose StatusCode without embedding error in the interface.
	type httpStatusProvider interface {
		StatusCode() int
	}
	var statusProvider httpStatusProvider
	if errors.As(err, &statusProvider) {
		return statusProvider.StatusCode()
	}

	return 0
}

// DefaultClassifier returns the classifier used when none is configured.
func DefaultClassifier() ErrorClassifier {
	return NewHTTPStatusClassifier()
}

// StatusCodeError wraps an error with an HTTP status code.
// Use this when you need to add status code information to an existing error.
type StatusCodeError struct {
	Err  error
	Code int
}

// Error implements the error interface.
func (e *StatusCodeError) Error() string {
	return e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *StatusCodeError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code.
// This implements the HTTPError interface.
func (e *StatusCodeError) StatusCode() int {
	return e.Code
}

// NewStatusCodeError creates a new StatusCodeError.
//
// Example:
//
//	err := doRequest()
//	if err != nil {
//	    return resilience.NewStatusCodeError(http.StatusServiceUnavailable, err)
//	}
func NewStatusCodeError(statusCode int, err error) error {
	return &StatusCodeError{
		Code: statusCode,
		Err:  err,
	}
}
