package simulate_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	resilience "github.com/JohnPlummer/jp-go-guard"
	"github.com/JohnPlummer/jp-go-guard/internal/simulate"
	"github.com/JohnPlummer/jp-go-guard/observe"
)

var _ = Describe("FlakyDependency", func() {
	It("fails the first n invocations with an unavailable error", func() {
		dep := simulate.NewFlakyDependency(2)
		ctx := context.Background()

		for range 2 {
			_, err := dep.Call(ctx)
			Expect(err).To(MatchError(simulate.ErrDependencyDown))
			Expect(resilience.DefaultClassifier().Classify(err)).To(Equal(resilience.KindUnavailable))
		}

		resp, err := dep.Call(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp).To(Equal("response #3"))
		Expect(dep.Invocations()).To(Equal(int64(3)))
	})
})

var _ = Describe("Run", func() {
	var (
		ctx    context.Context
		quiet  resilience.Option
		policy resilience.RetryPolicy
	)

	BeforeEach(func() {
		ctx = context.Background()
		quiet = resilience.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
		policy = resilience.RetryPolicy{MaxAttempts: 3}
	})

	It("recovers through retries while the breaker stays closed", func() {
		registry := resilience.NewDependencyRegistry(quiet)

		report, err := simulate.Run(ctx, registry, simulate.Options{
			Dependency: resilience.DependencyLLM,
			Calls:      3,
			FailFirst:  2,
			Retry:      policy,
		}, quiet)
		Expect(err).NotTo(HaveOccurred())

		Expect(report.Calls).To(Equal(3))
		Expect(report.Invocations).To(Equal(int64(5)))
		Expect(report.Outcomes).To(Equal(map[string]int{"ok": 3}))
		Expect(report.Health.Healthy).To(BeTrue())
		Expect(report.Health.ConsecutiveFailures).To(BeZero())
	})

	It("opens the breaker after repeated exhaustion and rejects the rest", func() {
		registry := resilience.NewRegistry(quiet)
		_, err := registry.Register("db", resilience.CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour})
		Expect(err).NotTo(HaveOccurred())

		report, err := simulate.Run(ctx, registry, simulate.Options{
			Dependency: "db",
			Calls:      4,
			FailFirst:  100,
			Retry:      resilience.RetryPolicy{MaxAttempts: 2},
		}, quiet)
		Expect(err).NotTo(HaveOccurred())

		Expect(report.Invocations).To(Equal(int64(4)))
		Expect(report.Outcomes).To(Equal(map[string]int{"retry_exhausted": 2, "circuit_open": 2}))
		Expect(report.Health.Healthy).To(BeFalse())
		Expect(report.Health.Status).To(Equal("open"))
		Expect(report.Health.TotalRejected).To(Equal(uint64(2)))
	})

	It("bounds concurrent calls", func() {
		registry := resilience.NewDependencyRegistry(quiet)

		report, err := simulate.Run(ctx, registry, simulate.Options{
			Dependency:  resilience.DependencyDatabase,
			Calls:       20,
			Concurrency: 4,
			Retry:       policy,
		}, quiet)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Invocations).To(Equal(int64(20)))
		Expect(report.Outcomes["ok"]).To(Equal(20))
	})

	It("stops launching calls when the context ends during a pause", func() {
		registry := resilience.NewDependencyRegistry(quiet)
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		report, err := simulate.Run(canceled, registry, simulate.Options{
			Dependency: resilience.DependencyMCP,
			Calls:      5,
			Pause:      time.Hour,
			Retry:      policy,
			Clock:      clockwork.NewFakeClock(),
		}, quiet)
		Expect(err).To(MatchError(context.Canceled))
		Expect(report.Calls).To(Equal(1))
		Expect(report.Outcomes).To(Equal(map[string]int{"canceled": 1}))
		Expect(report.Invocations).To(BeZero())
	})

	It("rejects unknown dependencies", func() {
		_, err := simulate.Run(ctx, resilience.NewDependencyRegistry(quiet), simulate.Options{
			Dependency: "cache",
			Calls:      1,
			Retry:      policy,
		})
		Expect(err).To(MatchError(ContainSubstring(`unknown dependency "cache"`)))
		Expect(err).To(MatchError(ContainSubstring("database, llm, mcp")))
	})

	It("rejects invalid retry policies", func() {
		_, err := simulate.Run(ctx, resilience.NewDependencyRegistry(quiet), simulate.Options{
			Dependency: resilience.DependencyLLM,
			Calls:      1,
		})
		Expect(errors.Is(err, resilience.ErrInvalidConfig)).To(BeTrue())
	})
})

var _ = Describe("CollectCounters", func() {
	It("sums the guard counters recorded during a run", func() {
		ctx := context.Background()
		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		DeferCleanup(func() { _ = mp.Shutdown(context.Background()) })

		metrics, err := observe.NewMetrics(mp.Meter("simulate"))
		Expect(err).NotTo(HaveOccurred())
		opts := append(metrics.Options(), resilience.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

		registry := resilience.NewRegistry(opts...)
		_, err = registry.Register("db", resilience.CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
		Expect(err).NotTo(HaveOccurred())

		_, err = simulate.Run(ctx, registry, simulate.Options{
			Dependency: "db",
			Calls:      3,
			FailFirst:  100,
			Retry:      resilience.RetryPolicy{MaxAttempts: 2},
		}, opts...)
		Expect(err).NotTo(HaveOccurred())

		counters, err := simulate.CollectCounters(ctx, reader)
		Expect(err).NotTo(HaveOccurred())
		Expect(counters).To(HaveKeyWithValue(observe.MetricRetries, int64(1)))
		Expect(counters).To(HaveKeyWithValue(observe.MetricExhausted, int64(1)))
		Expect(counters).To(HaveKeyWithValue(observe.MetricRejections, int64(2)))
		Expect(counters).To(HaveKeyWithValue(observe.MetricTransitions, int64(1)))
	})
})
