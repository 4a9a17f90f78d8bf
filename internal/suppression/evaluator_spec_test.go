package suppression_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ngerakines/workflow-deploy/internal/suppression"
)

var _ = Describe("Evaluator", func() {
	var now time.Time

	BeforeEach(func() {
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	Context("when a window covers now", func() {
		It("reports the instant as suppressed", func() {
			e := suppression.NewEvaluator([]suppression.Range{
				{Min: now.Add(-time.Minute), Max: now.Add(time.Minute)},
			})
			Expect(e.IsSuppressed(now)).To(BeTrue())
		})
	})

	Context("when no window covers now", func() {
		It("reports the instant as not suppressed", func() {
			e := suppression.NewEvaluator([]suppression.Range{
				{Min: now.Add(time.Hour), Max: now.Add(2 * time.Hour)},
			})
			Expect(e.IsSuppressed(now)).To(BeFalse())
		})
	})

	Context("with no windows at all", func() {
		It("never suppresses", func() {
			Expect(suppression.NewEvaluator(nil).IsSuppressed(now)).To(BeFalse())
		})
	})

	DescribeTable("parsing a single RFC3339 timestamp always yields a one-hour window",
		func(value string) {
			r, ok := suppression.ParseOne(value)
			Expect(ok).To(BeTrue())
			Expect(r.Max.Sub(r.Min)).To(Equal(time.Hour))
		},
		Entry("midnight UTC", "2026-01-01T00:00:00Z"),
		Entry("mid-afternoon UTC", "2026-06-15T15:30:00Z"),
	)

	DescribeTable("malformed suppression strings are rejected",
		func(value string) {
			_, ok := suppression.ParseOne(value)
			Expect(ok).To(BeFalse())
		},
		Entry("not a date", "not-a-date"),
		Entry("three fields", "a b c"),
		Entry("inverted range", "2026-01-01T02:00:00Z 2026-01-01T00:00:00Z"),
	)
})
