package resilience_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	pkgerrors "github.com/JohnPlummer/jp-go-errors"
	resilience "github.com/JohnPlummer/jp-go-guard"
)

var _ = Describe("CircuitBreakerWrapper ErrorClassifier Integration", func() {
	var (
		client *mockClient
		ctx    context.Context
	)

	BeforeEach(func() {
		client = &mockClient{
			executeFunc: func(ctx context.Context, req string) (string, error) {
				return "success", nil
			},
		}
		ctx = context.Background()
	})

	// newWrapper builds a threshold-1 breaker that only counts server-side kinds.
	newWrapper := func(opts ...resilience.Option) *resilience.CircuitBreakerWrapper[string, string] {
		opts = append([]resilience.Option{resilience.WithLogger(quietLogger())}, opts...)
		breaker, err := resilience.NewCircuitBreaker("http", resilience.CircuitBreakerConfig{
			FailureThreshold: 1,
			RecoveryTimeout:  time.Minute,
			QualifyingKinds: []resilience.ErrorKind{
				resilience.KindServer, resilience.KindUnavailable, resilience.KindAuth, resilience.KindUnknown,
			},
			CountQualifyingOnly: true,
		}, opts...)
		Expect(err).NotTo(HaveOccurred())

		wrapper, err := resilience.NewCircuitBreakerWrapper[string, string](client, breaker)
		Expect(err).NotTo(HaveOccurred())
		return wrapper
	}

	failWith := func(err error) {
		client.executeFunc = func(ctx context.Context, req string) (string, error) {
			return "", err
		}
	}

	It("requires a breaker", func() {
		_, err := resilience.NewCircuitBreakerWrapper[string, string](client, nil)
		Expect(err).To(MatchError(resilience.ErrInvalidConfig))
	})

	It("passes successful responses through", func() {
		wrapper := newWrapper()
		resp, err := wrapper.Execute(ctx, "test")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp).To(Equal("success"))
		Expect(wrapper.State()).To(Equal(resilience.StateClosed))
		Expect(wrapper.GetHealth().Healthy).To(BeTrue())
	})

	Describe("Default HTTPStatusClassifier", func() {
		DescribeTable("trips on qualifying failures",
			func(err error) {
				wrapper := newWrapper()
				failWith(err)

				_, execErr := wrapper.Execute(ctx, "test")
				Expect(execErr).To(MatchError(err))
				Expect(wrapper.State()).To(Equal(resilience.StateOpen))

				_, execErr = wrapper.Execute(ctx, "test")
				Expect(resilience.IsCircuitOpen(execErr)).To(BeTrue())
				Expect(client.getCallCount()).To(Equal(1))
			},
			Entry("401", resilience.NewStatusCodeError(401, errors.New("unauthorized"))),
			Entry("403", resilience.NewStatusCodeError(403, errors.New("forbidden"))),
			Entry("500", resilience.NewStatusCodeError(500, errors.New("internal server error"))),
			Entry("502", resilience.NewStatusCodeError(502, errors.New("bad gateway"))),
			Entry("503", resilience.NewStatusCodeError(503, errors.New("service unavailable"))),
			Entry("504", resilience.NewStatusCodeError(504, errors.New("gateway timeout"))),
			Entry("unknown", errors.New("connection reset")),
		)

		DescribeTable("stays closed on non-qualifying failures",
			func(err error) {
				wrapper := newWrapper()
				failWith(err)

				_, _ = wrapper.Execute(ctx, "test")
				_, _ = wrapper.Execute(ctx, "test")

				Expect(wrapper.State()).To(Equal(resilience.StateClosed))
				Expect(client.getCallCount()).To(Equal(2))
			},
			Entry("429", resilience.NewStatusCodeError(429, errors.New("too many requests"))),
			Entry("rate limited sentinel", pkgerrors.ErrRateLimited),
			Entry("400", resilience.NewStatusCodeError(400, errors.New("bad request"))),
			Entry("404", resilience.NewStatusCodeError(404, errors.New("not found"))),
			Entry("operation timeout", pkgerrors.NewTimeoutError("slow", "execute", time.Second)),
			Entry("context canceled from the operation", context.Canceled),
		)
	})

	Describe("Custom ErrorClassifier", func() {
		It("uses the custom classifier to decide what counts", func() {
			special := errors.New("special")
			wrapper := newWrapper(resilience.WithClassifier(resilience.ClassifierFunc(func(err error) resilience.ErrorKind {
				if errors.Is(err, special) {
					return resilience.KindServer
				}
				return resilience.KindClient
			})))

			failWith(resilience.NewStatusCodeError(503, errors.New("unavailable")))
			_, _ = wrapper.Execute(ctx, "test")
			Expect(wrapper.State()).To(Equal(resilience.StateClosed))

			failWith(special)
			_, _ = wrapper.Execute(ctx, "test")
			Expect(wrapper.State()).To(Equal(resilience.StateOpen))

			health := wrapper.GetHealth()
			Expect(health.Healthy).To(BeFalse())
			Expect(health.Name).To(Equal("http"))
			Expect(wrapper.Snapshot().TotalFailures).To(Equal(uint64(1)))
		})
	})
})
