// Package observe records guard activity as OpenTelemetry metrics.
//
// Metrics are fed through the guard hooks:
//
//	m, err := observe.NewMetrics(otel.Meter("guard"))
//	registry := resilience.NewDependencyRegistry(m.Options()...)
package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	resilience "github.com/JohnPlummer/jp-go-guard"
)

// Instrument names.
const (
	MetricRetries     = "guard.retry.attempts"
	MetricRetryWait   = "guard.retry.wait_ms"
	MetricExhausted   = "guard.retry.exhausted"
	MetricRejections  = "guard.breaker.rejections"
	MetricTransitions = "guard.breaker.transitions"
	MetricBreakerOpen = "guard.breaker.open"
)

// Metrics records retries, exhaustions, rejections and breaker transitions.
// It is safe for concurrent use.
type Metrics struct {
	meter       metric.Meter
	retries     metric.Int64Counter
	retryWait   metric.Float64Histogram
	exhausted   metric.Int64Counter
	rejections  metric.Int64Counter
	transitions metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	retries, err := meter.Int64Counter(
		MetricRetries,
		metric.WithDescription("Number of failed attempts that were retried"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	retryWait, err := meter.Float64Histogram(
		MetricRetryWait,
		metric.WithDescription("Backoff wait before a retry in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	exhausted, err := meter.Int64Counter(
		MetricExhausted,
		metric.WithDescription("Number of guarded calls that ran out of attempts"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	rejections, err := meter.Int64Counter(
		MetricRejections,
		metric.WithDescription("Number of calls rejected by an open circuit"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		MetricTransitions,
		metric.WithDescription("Number of circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		meter:       meter,
		retries:     retries,
		retryWait:   retryWait,
		exhausted:   exhausted,
		rejections:  rejections,
		transitions: transitions,
	}, nil
}

// Options returns the guard options that feed m.
func (m *Metrics) Options() []resilience.Option {
	return []resilience.Option{
		resilience.WithRetryHook(m.RecordRetry),
		resilience.WithExhaustedHook(m.RecordExhausted),
		resilience.WithRejectionHook(m.RecordRejection),
		resilience.WithStateChangeHandler(m.RecordTransition),
	}
}

// RecordRetry records a failed attempt about to be retried.
func (m *Metrics) RecordRetry(ctx context.Context, name string, ev resilience.RetryEvent) {
	opt := metric.WithAttributes(
		attribute.String("guard.name", name),
		attribute.String("error.kind", string(ev.Kind)),
	)
	m.retries.Add(ctx, 1, opt)
	m.retryWait.Record(ctx, float64(ev.Wait)/float64(time.Millisecond), opt)
}

// RecordExhausted records a retry loop giving up.
func (m *Metrics) RecordExhausted(ctx context.Context, name string, err *resilience.RetryExhaustedError) {
	m.exhausted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("guard.name", name),
		attribute.String("error.kind", string(err.LastKind)),
	))
}

// RecordRejection records a call rejected by an open circuit.
func (m *Metrics) RecordRejection(ctx context.Context, name string, _ *resilience.CircuitOpenError) {
	m.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker.name", name),
	))
}

// RecordTransition records a breaker state change.
func (m *Metrics) RecordTransition(name string, from, to resilience.State) {
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("breaker.name", name),
		attribute.String("breaker.from", from.String()),
		attribute.String("breaker.to", to.String()),
	))
}

// ObserveRegistry registers a gauge reporting 1 for every open breaker in r
// and 0 otherwise. The returned registration stops the observation.
func (m *Metrics) ObserveRegistry(r *resilience.Registry) (metric.Registration, error) {
	if r == nil {
		return nil, errors.New("observe: registry is required")
	}

	gauge, err := m.meter.Int64ObservableGauge(
		MetricBreakerOpen,
		metric.WithDescription("Whether a circuit breaker is open (1) or not (0)"),
		metric.WithUnit("{breaker}"),
	)
	if err != nil {
		return nil, err
	}

	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, s := range r.Snapshots() {
			var open int64
			if s.State == resilience.StateOpen {
				open = 1
			}
			o.ObserveInt64(gauge, open, metric.WithAttributes(
				attribute.String("breaker.name", s.Name),
			))
		}
		return nil
	}, gauge)
}
