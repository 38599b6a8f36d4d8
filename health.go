package resilience

import "time"

// HealthStatus represents the health status of a circuit breaker.
// It provides a strongly-typed alternative to map[string]interface{} for health checks.
type HealthStatus struct {
	// Healthy indicates whether the circuit breaker is in a healthy state.
	// True for closed and half-open states, false for open state.
	Healthy bool `json:"healthy"`

	// Status is a short string description of the state ("closed", "half-open", "open", "unknown").
	Status string `json:"status"`

	// Name is the breaker name.
	Name string `json:"name"`

	// ConsecutiveFailures is the number of consecutive failures.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// OpenedAt is when the circuit opened; omitted while closed.
	OpenedAt *time.Time `json:"opened_at,omitempty"`

	// Requests is the total number of admitted requests.
	Requests uint64 `json:"requests"`

	// TotalSuccesses is the total number of successful requests.
	TotalSuccesses uint64 `json:"total_successes"`

	// TotalFailures is the total number of counted failures.
	TotalFailures uint64 `json:"total_failures"`

	// TotalRejected is the number of calls rejected while open.
	TotalRejected uint64 `json:"total_rejected"`
}

// NewHealthStatus builds a HealthStatus from a snapshot.
func NewHealthStatus(s BreakerSnapshot) HealthStatus {
	h := HealthStatus{
		Healthy:             s.State != StateOpen,
		Status:              s.State.String(),
		Name:                s.Name,
		ConsecutiveFailures: s.ConsecutiveFailures,
		Requests:            s.TotalRequests,
		TotalSuccesses:      s.TotalSuccesses,
		TotalFailures:       s.TotalFailures,
		TotalRejected:       s.TotalRejected,
	}
	if !s.OpenedAt.IsZero() {
		openedAt := s.OpenedAt
		h.OpenedAt = &openedAt
	}
	return h
}
