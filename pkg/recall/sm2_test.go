package recall_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramhq/engram/pkg/recall"
)

func TestRecall(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Recall Suite")
}

// sm2EaseDelta is the SM-2 ease factor adjustment for one review grade.
func sm2EaseDelta(quality int) float64 {
	miss := float64(5 - quality)
	return 0.1 - miss*(0.08+miss*0.02)
}

var _ = Describe("Advance", func() {
	var (
		now   time.Time
		fresh recall.Strength
	)

	BeforeEach(func() {
		now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		fresh = recall.Strength{
			RecallItemID: "item-1",
			IntervalDays: 1,
			EaseFactor:   recall.InitialEaseFactor,
		}
	})

	It("rejects out-of-range quality", func() {
		_, err := recall.Advance(fresh, -1, now)
		Expect(err).To(MatchError(recall.ErrInvalidQuality))

		_, err = recall.Advance(fresh, 6, now)
		Expect(err).To(MatchError(recall.ErrInvalidQuality))
	})

	It("records the review time and strength estimate", func() {
		next, err := recall.Advance(fresh, 4, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(next.LastReviewAt).NotTo(BeNil())
		Expect(*next.LastReviewAt).To(Equal(now))
		Expect(next.Strength).To(BeNumerically("~", 0.8, 1e-12))
	})

	Context("first two successful reviews", func() {
		It("uses the fixed 1 then 6 day intervals", func() {
			first, err := recall.Advance(fresh, 5, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.ReviewCount).To(Equal(1))
			Expect(first.IntervalDays).To(Equal(1))
			Expect(first.NextReviewAt).To(Equal(now.AddDate(0, 0, 1)))

			second, err := recall.Advance(first, 5, now.AddDate(0, 0, 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ReviewCount).To(Equal(2))
			Expect(second.IntervalDays).To(Equal(6))
		})
	})

	Context("steady-state growth", func() {
		It("multiplies the interval by the updated ease factor", func() {
			s := recall.Strength{
				RecallItemID: "item-1",
				IntervalDays: 6,
				EaseFactor:   recall.InitialEaseFactor,
				ReviewCount:  2,
			}

			next, err := recall.Advance(s, 5, now)
			Expect(err).NotTo(HaveOccurred())

			wantEF := recall.InitialEaseFactor + sm2EaseDelta(5)
			Expect(next.EaseFactor).To(BeNumerically("~", wantEF, 1e-12))
			Expect(next.ReviewCount).To(Equal(3))
			Expect(next.IntervalDays).To(Equal(16)) // round(6 * 2.6)
		})

		It("compounds the ease factor across reviews", func() {
			s := recall.Strength{
				RecallItemID: "item-1",
				IntervalDays: 1,
				EaseFactor:   recall.InitialEaseFactor,
			}

			ef := recall.InitialEaseFactor
			for i := 0; i < 4; i++ {
				var err error
				s, err = recall.Advance(s, 5, now)
				Expect(err).NotTo(HaveOccurred())

				ef += sm2EaseDelta(5)
				Expect(s.EaseFactor).To(BeNumerically("~", ef, 1e-9))
			}
			Expect(s.ReviewCount).To(Equal(4))
		})
	})

	It("leaves the ease factor unchanged for a grade of four", func() {
		next, err := recall.Advance(fresh, 4, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(next.EaseFactor).To(BeNumerically("~", recall.InitialEaseFactor, 1e-12))
	})

	Context("failed recall", func() {
		It("restarts the spacing curve without resetting the ease factor", func() {
			s := recall.Strength{
				RecallItemID: "item-1",
				IntervalDays: 40,
				EaseFactor:   2.7,
				ReviewCount:  5,
			}

			next, err := recall.Advance(s, 1, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(next.ReviewCount).To(Equal(0))
			Expect(next.IntervalDays).To(Equal(1))
			Expect(next.NextReviewAt).To(Equal(now.AddDate(0, 0, 1)))

			// EF follows the formula, it is not reset to 2.5.
			wantEF := 2.7 + sm2EaseDelta(1)
			Expect(next.EaseFactor).To(BeNumerically("~", wantEF, 1e-12))
		})

		It("fails on the very first review without going below one day", func() {
			next, err := recall.Advance(fresh, 0, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(next.ReviewCount).To(Equal(0))
			Expect(next.IntervalDays).To(Equal(1))
			Expect(next.Strength).To(BeZero())
		})

		It("clamps the ease factor at the lower bound", func() {
			s := recall.Strength{
				RecallItemID: "item-1",
				IntervalDays: 1,
				EaseFactor:   recall.MinEaseFactor,
			}

			next, err := recall.Advance(s, 0, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(next.EaseFactor).To(Equal(recall.MinEaseFactor))
		})
	})

	Context("after a failure", func() {
		It("walks the fixed intervals again", func() {
			s := recall.Strength{
				RecallItemID: "item-1",
				IntervalDays: 40,
				EaseFactor:   2.7,
				ReviewCount:  5,
			}

			failed, err := recall.Advance(s, 2, now)
			Expect(err).NotTo(HaveOccurred())

			retry, err := recall.Advance(failed, 4, now.AddDate(0, 0, 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(retry.ReviewCount).To(Equal(1))
			Expect(retry.IntervalDays).To(Equal(1))
		})
	})
})
