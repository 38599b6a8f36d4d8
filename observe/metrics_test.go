package observe_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	resilience "github.com/JohnPlummer/jp-go-guard"
	"github.com/JohnPlummer/jp-go-guard/observe"
)

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterTotal sums the data points of an int64 counter, zero when absent.
func counterTotal(rm metricdata.ResourceMetrics, name string) int64 {
	found := findMetric(rm, name)
	if found == nil {
		return 0
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	Expect(ok).To(BeTrue(), "expected Sum[int64], got %T", found.Data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

var _ = Describe("Metrics", func() {
	var (
		ctx     context.Context
		reader  *sdkmetric.ManualReader
		metrics *observe.Metrics
	)

	BeforeEach(func() {
		ctx = context.Background()
		reader = sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		DeferCleanup(func() { _ = mp.Shutdown(context.Background()) })

		var err error
		metrics, err = observe.NewMetrics(mp.Meter("test"))
		Expect(err).NotTo(HaveOccurred())
	})

	collect := func() metricdata.ResourceMetrics {
		var rm metricdata.ResourceMetrics
		Expect(reader.Collect(ctx, &rm)).To(Succeed())
		return rm
	}

	failing := func(ctx context.Context) error {
		return resilience.NewOperationError(resilience.KindUnavailable, "test", context.DeadlineExceeded)
	}

	It("counts retries and exhaustion through the guard hooks", func() {
		g, err := resilience.NewRetryGuard(
			resilience.RetryPolicy{MaxAttempts: 3, MaxWait: time.Second},
			append(metrics.Options(), resilience.WithName("llm"))...,
		)
		Expect(err).NotTo(HaveOccurred())

		Expect(resilience.IsRetryExhausted(g.Do(ctx, failing))).To(BeTrue())

		rm := collect()
		Expect(counterTotal(rm, observe.MetricRetries)).To(Equal(int64(2)))
		Expect(counterTotal(rm, observe.MetricExhausted)).To(Equal(int64(1)))

		retries := findMetric(rm, observe.MetricRetries).Data.(metricdata.Sum[int64])
		attrs := retries.DataPoints[0].Attributes
		name, ok := attrs.Value(attribute.Key("guard.name"))
		Expect(ok).To(BeTrue())
		Expect(name.AsString()).To(Equal("llm"))
		kind, ok := attrs.Value(attribute.Key("error.kind"))
		Expect(ok).To(BeTrue())
		Expect(kind.AsString()).To(Equal("unavailable"))

		Expect(findMetric(rm, observe.MetricRetryWait)).NotTo(BeNil())
	})

	It("counts rejections and transitions of registry breakers", func() {
		registry := resilience.NewRegistry(metrics.Options()...)
		_, err := registry.Register("db", resilience.CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
		Expect(err).NotTo(HaveOccurred())
		db := registry.MustGet("db")

		_ = db.Do(ctx, failing)
		Expect(resilience.IsCircuitOpen(db.Do(ctx, failing))).To(BeTrue())
		Expect(resilience.IsCircuitOpen(db.Do(ctx, failing))).To(BeTrue())

		rm := collect()
		Expect(counterTotal(rm, observe.MetricRejections)).To(Equal(int64(2)))
		Expect(counterTotal(rm, observe.MetricTransitions)).To(Equal(int64(1)))

		transitions := findMetric(rm, observe.MetricTransitions).Data.(metricdata.Sum[int64])
		to, ok := transitions.DataPoints[0].Attributes.Value(attribute.Key("breaker.to"))
		Expect(ok).To(BeTrue())
		Expect(to.AsString()).To(Equal("open"))
	})

	It("reports open breakers through the registry gauge", func() {
		registry := resilience.NewRegistry()
		_, err := registry.Register("a", resilience.CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
		Expect(err).NotTo(HaveOccurred())
		_, err = registry.Register("b", resilience.CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
		Expect(err).NotTo(HaveOccurred())
		_ = registry.MustGet("a").Do(ctx, failing)

		reg, err := metrics.ObserveRegistry(registry)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = reg.Unregister() })

		found := findMetric(collect(), observe.MetricBreakerOpen)
		Expect(found).NotTo(BeNil())
		gauge, ok := found.Data.(metricdata.Gauge[int64])
		Expect(ok).To(BeTrue())

		open := map[string]int64{}
		for _, dp := range gauge.DataPoints {
			name, _ := dp.Attributes.Value(attribute.Key("breaker.name"))
			open[name.AsString()] = dp.Value
		}
		Expect(open).To(Equal(map[string]int64{"a": 1, "b": 0}))
	})

	It("requires a registry to observe", func() {
		_, err := metrics.ObserveRegistry(nil)
		Expect(err).To(HaveOccurred())
	})
})
