package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	pkgerrors "github.com/JohnPlummer/jp-go-errors"
	resilience "github.com/JohnPlummer/jp-go-guard"
)

var _ = Describe("HTTPStatusClassifier", func() {
	classifier := resilience.DefaultClassifier()

	DescribeTable("Classify",
		func(err error, expected resilience.ErrorKind) {
			Expect(classifier.Classify(err)).To(Equal(expected))
		},
		Entry("self-classified", resilience.NewOperationError(resilience.KindTransient, "op", errors.New("blip")), resilience.KindTransient),
		Entry("wrapped self-classified", fmt.Errorf("call: %w", errUnavailable), resilience.KindUnavailable),
		Entry("context canceled", context.Canceled, resilience.KindCanceled),
		Entry("operation deadline", context.DeadlineExceeded, resilience.KindTimeout),
		Entry("rate limited sentinel", pkgerrors.ErrRateLimited, resilience.KindRateLimited),
		Entry("jp-go-errors timeout", pkgerrors.NewTimeoutError("slow", "op", time.Second), resilience.KindTimeout),
		Entry("429", resilience.NewStatusCodeError(429, errors.New("slow down")), resilience.KindRateLimited),
		Entry("401", resilience.NewStatusCodeError(401, errors.New("who")), resilience.KindAuth),
		Entry("403", resilience.NewStatusCodeError(403, errors.New("no")), resilience.KindAuth),
		Entry("404", resilience.NewStatusCodeError(404, errors.New("gone")), resilience.KindClient),
		Entry("500", resilience.NewStatusCodeError(500, errors.New("boom")), resilience.KindServer),
		Entry("501", resilience.NewStatusCodeError(501, errors.New("nope")), resilience.KindServer),
		Entry("502", resilience.NewStatusCodeError(502, errors.New("gateway")), resilience.KindUnavailable),
		Entry("503", resilience.NewStatusCodeError(503, errors.New("down")), resilience.KindUnavailable),
		Entry("504", resilience.NewStatusCodeError(504, errors.New("late")), resilience.KindUnavailable),
		Entry("circuit open", &resilience.CircuitOpenError{Name: "llm"}, resilience.KindUnavailable),
		Entry("plain error", errors.New("connection reset"), resilience.KindUnknown),
	)

	It("lets StatusKinds override the built-in mapping", func() {
		c := &resilience.HTTPStatusClassifier{StatusKinds: map[int]resilience.ErrorKind{404: resilience.KindTransient}}
		Expect(c.Classify(resilience.NewStatusCodeError(404, errors.New("eventually consistent")))).To(Equal(resilience.KindTransient))
		Expect(c.Classify(resilience.NewStatusCodeError(400, errors.New("bad")))).To(Equal(resilience.KindClient))
	})

	Describe("ParseErrorKind", func() {
		It("normalizes known kinds", func() {
			kind, ok := resilience.ParseErrorKind("  Rate_Limited ")
			Expect(ok).To(BeTrue())
			Expect(kind).To(Equal(resilience.KindRateLimited))
		})

		It("rejects unknown kinds", func() {
			_, ok := resilience.ParseErrorKind("flaky")
			Expect(ok).To(BeFalse())
		})
	})
})

var _ = Describe("Guard errors", func() {
	It("keeps the three guard errors distinct", func() {
		open := &resilience.CircuitOpenError{Name: "llm", RetryAfter: time.Second}
		exhausted := &resilience.RetryExhaustedError{Attempts: 3, Last: errUnavailable}
		canceled := &resilience.CancellationError{Attempts: 1, Cause: context.DeadlineExceeded}

		Expect(resilience.IsCircuitOpen(open)).To(BeTrue())
		Expect(resilience.IsRetryExhausted(open)).To(BeFalse())
		Expect(resilience.IsCanceled(open)).To(BeFalse())

		Expect(resilience.IsRetryExhausted(exhausted)).To(BeTrue())
		Expect(resilience.IsCircuitOpen(exhausted)).To(BeFalse())
		Expect(errors.Is(exhausted, errUnavailable)).To(BeTrue())

		Expect(resilience.IsCanceled(canceled)).To(BeTrue())
		Expect(errors.Is(canceled, context.DeadlineExceeded)).To(BeTrue())
		Expect(resilience.IsRetryExhausted(canceled)).To(BeFalse())
	})

	It("describes the breaker state in CircuitOpenError messages", func() {
		Expect((&resilience.CircuitOpenError{Name: "llm", RetryAfter: time.Second}).Error()).To(ContainSubstring("retry after 1s"))
		Expect((&resilience.CircuitOpenError{Name: "llm"}).Error()).To(ContainSubstring("probe in flight"))
	})

	It("formats OperationError with and without an operation name", func() {
		Expect(resilience.NewOperationError(resilience.KindAuth, "login", errors.New("denied")).Error()).To(Equal("login: auth: denied"))
		Expect(resilience.NewOperationError(resilience.KindAuth, "", errors.New("denied")).Error()).To(Equal("auth: denied"))
	})
})
