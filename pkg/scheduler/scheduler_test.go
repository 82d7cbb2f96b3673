package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramhq/engram/pkg/logger"
	"github.com/engramhq/engram/pkg/recall"
	"github.com/engramhq/engram/pkg/scheduler"
	"github.com/engramhq/engram/pkg/storage"
	"github.com/engramhq/engram/pkg/storage/inmemory"
)

func TestScheduler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Scheduler Suite")
}

// staleOnceDriver makes the first compare-and-swap fail the way a concurrent
// review would, then behaves normally.
type staleOnceDriver struct {
	*inmemory.Driver
	stale bool
}

func (d *staleOnceDriver) UpdateStrength(ctx context.Context, s *recall.Strength, expected int) error {
	if !d.stale {
		d.stale = true
		return storage.ErrStaleUpdate
	}
	return d.Driver.UpdateStrength(ctx, s, expected)
}

var _ = Describe("Scheduler", func() {
	var (
		store *inmemory.Driver
		sched *scheduler.Scheduler
		ctx   context.Context
	)

	validCreate := func(userID, chunkID string) scheduler.CreateRequest {
		return scheduler.CreateRequest{
			UserID:    userID,
			ChunkID:   chunkID,
			Content:   "the mitochondria is the powerhouse of the cell",
			DelayDays: 1,
		}
	}

	BeforeEach(func() {
		store = inmemory.NewDriver()
		sched = scheduler.NewScheduler(store, logger.Nop())
		ctx = context.Background()
	})

	Describe("Create", func() {
		It("creates an active item with initial scheduling state", func() {
			entry, err := sched.Create(ctx, validCreate("user-1", "chunk-1"))
			Expect(err).NotTo(HaveOccurred())

			Expect(entry.Item.Status).To(Equal(recall.StatusActive))
			Expect(entry.Item.Type).To(Equal(recall.TypeExplicit))
			Expect(entry.Strength.EaseFactor).To(Equal(recall.InitialEaseFactor))
			Expect(entry.Strength.ReviewCount).To(BeZero())
			Expect(entry.Strength.LastReviewAt).To(BeNil())
			Expect(entry.Strength.NextReviewAt).To(
				BeTemporally("~", time.Now().UTC().AddDate(0, 0, 1), time.Minute))

			stored, err := store.GetStrength(ctx, entry.Item.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.IntervalDays).To(Equal(1))
		})

		It("accepts a derived memory id in place of a chunk id", func() {
			entry, err := sched.Create(ctx, scheduler.CreateRequest{
				UserID:    "user-1",
				MemoryID:  "memory-9",
				Content:   "derived fact",
				DelayDays: 3,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.Item.SourceChunkID).To(BeEmpty())
			Expect(entry.Item.Metadata.SourceMemoryID).To(Equal("memory-9"))
		})

		It("rejects missing content", func() {
			req := validCreate("user-1", "chunk-1")
			req.Content = ""
			_, err := sched.Create(ctx, req)
			Expect(err).To(MatchError(scheduler.ErrMissingContent))
		})

		It("rejects a request with no source", func() {
			req := validCreate("user-1", "")
			_, err := sched.Create(ctx, req)
			Expect(err).To(MatchError(scheduler.ErrMissingSource))
		})

		It("rejects out-of-range delays", func() {
			req := validCreate("user-1", "chunk-1")
			req.DelayDays = 0
			_, err := sched.Create(ctx, req)
			Expect(err).To(MatchError(scheduler.ErrInvalidDelay))

			req.DelayDays = 366
			_, err = sched.Create(ctx, req)
			Expect(err).To(MatchError(scheduler.ErrInvalidDelay))
		})

		It("returns a conflict carrying the existing item id", func() {
			first, err := sched.Create(ctx, validCreate("user-1", "chunk-1"))
			Expect(err).NotTo(HaveOccurred())

			_, err = sched.Create(ctx, validCreate("user-1", "chunk-1"))
			var dup storage.DuplicateItemError
			Expect(errors.As(err, &dup)).To(BeTrue())
			Expect(dup.ExistingID).To(Equal(first.Item.ID))

			n, err := store.CountActive(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
		})

		It("allows different users to track the same chunk", func() {
			_, err := sched.Create(ctx, validCreate("user-1", "chunk-1"))
			Expect(err).NotTo(HaveOccurred())

			_, err = sched.Create(ctx, validCreate("user-2", "chunk-1"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("leaves no item behind when the strength insert fails", func() {
			store.FailStrengthInsert = true

			_, err := sched.Create(ctx, validCreate("user-1", "chunk-1"))
			Expect(err).To(HaveOccurred())

			_, err = store.FindActiveItemBySource(ctx, "user-1", "chunk-1")
			Expect(storage.IsNotFound(err)).To(BeTrue())

			// Retrying after the fault clears succeeds; nothing is half-created.
			store.FailStrengthInsert = false
			_, err = sched.Create(ctx, validCreate("user-1", "chunk-1"))
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("SubmitReview", func() {
		var itemID string

		BeforeEach(func() {
			entry, err := sched.Create(ctx, validCreate("user-1", "chunk-1"))
			Expect(err).NotTo(HaveOccurred())
			itemID = entry.Item.ID
		})

		It("validates quality before touching storage", func() {
			_, err := sched.SubmitReview(ctx, "user-1", "no-such-item", 9)
			Expect(err).To(MatchError(recall.ErrInvalidQuality))
		})

		It("returns not found for an unknown item", func() {
			_, err := sched.SubmitReview(ctx, "user-1", "no-such-item", 4)
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("rejects reviews from a different user", func() {
			_, err := sched.SubmitReview(ctx, "user-2", itemID, 4)
			Expect(err).To(MatchError(scheduler.ErrNotOwner))
		})

		It("rejects reviews of non-active items", func() {
			suggestion, err := sched.Suggest(ctx, scheduler.CreateRequest{
				UserID:  "user-1",
				ChunkID: "chunk-2",
				Content: "suggested content",
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = sched.SubmitReview(ctx, "user-1", suggestion.ID, 4)
			Expect(err).To(MatchError(scheduler.ErrNotActive))
		})

		It("advances the schedule and logs the review", func() {
			next, err := sched.SubmitReview(ctx, "user-1", itemID, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(next.ReviewCount).To(Equal(1))
			Expect(next.LastReviewAt).NotTo(BeNil())

			stored, err := store.GetStrength(ctx, itemID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ReviewCount).To(Equal(1))

			n, err := store.CountReviewsSince(ctx, "user-1", time.Now().UTC().Add(-time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
		})

		It("retries once when a concurrent review wins the swap", func() {
			wrapped := &staleOnceDriver{Driver: store}
			retrySched := scheduler.NewScheduler(wrapped, logger.Nop())

			next, err := retrySched.SubmitReview(ctx, "user-1", itemID, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(next.ReviewCount).To(Equal(1))
		})
	})

	Describe("Due and Implicit", func() {
		backdate := func(itemID string, to time.Time) {
			s, err := store.GetStrength(ctx, itemID)
			Expect(err).NotTo(HaveOccurred())
			s.NextReviewAt = to
			Expect(store.UpdateStrength(ctx, s, s.ReviewCount)).To(Succeed())
		}

		It("partitions active items exactly by their next review time", func() {
			overdue, err := sched.Create(ctx, validCreate("user-1", "chunk-1"))
			Expect(err).NotTo(HaveOccurred())
			upcoming, err := sched.Create(ctx, validCreate("user-1", "chunk-2"))
			Expect(err).NotTo(HaveOccurred())

			backdate(overdue.Item.ID, time.Now().UTC().Add(-time.Hour))

			due, err := sched.Due(ctx, "user-1", 10)
			Expect(err).NotTo(HaveOccurred())
			implicit, err := sched.Implicit(ctx, "user-1", 10)
			Expect(err).NotTo(HaveOccurred())

			Expect(due).To(HaveLen(1))
			Expect(due[0].Item.ID).To(Equal(overdue.Item.ID))
			Expect(implicit).To(HaveLen(1))
			Expect(implicit[0].Item.ID).To(Equal(upcoming.Item.ID))
		})

		It("orders the due queue oldest overdue first", func() {
			older, err := sched.Create(ctx, validCreate("user-1", "chunk-1"))
			Expect(err).NotTo(HaveOccurred())
			newer, err := sched.Create(ctx, validCreate("user-1", "chunk-2"))
			Expect(err).NotTo(HaveOccurred())

			backdate(older.Item.ID, time.Now().UTC().Add(-48*time.Hour))
			backdate(newer.Item.ID, time.Now().UTC().Add(-time.Hour))

			due, err := sched.Due(ctx, "user-1", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(due).To(HaveLen(2))
			Expect(due[0].Item.ID).To(Equal(older.Item.ID))
		})

		It("puts never-reviewed items first in the implicit queue", func() {
			reviewed, err := sched.Create(ctx, validCreate("user-1", "chunk-1"))
			Expect(err).NotTo(HaveOccurred())
			_, err = sched.SubmitReview(ctx, "user-1", reviewed.Item.ID, 5)
			Expect(err).NotTo(HaveOccurred())

			fresh, err := sched.Create(ctx, validCreate("user-1", "chunk-2"))
			Expect(err).NotTo(HaveOccurred())

			implicit, err := sched.Implicit(ctx, "user-1", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(implicit).To(HaveLen(2))
			Expect(implicit[0].Item.ID).To(Equal(fresh.Item.ID))
		})

		It("caps results at the default page size", func() {
			for i := 0; i < 15; i++ {
				_, err := sched.Create(ctx, validCreate("user-1", "chunk-"+string(rune('a'+i))))
				Expect(err).NotTo(HaveOccurred())
			}

			implicit, err := sched.Implicit(ctx, "user-1", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(implicit).To(HaveLen(scheduler.DefaultPageSize))
		})
	})

	Describe("Suggestions", func() {
		var suggestionID string

		BeforeEach(func() {
			item, err := sched.Suggest(ctx, scheduler.CreateRequest{
				UserID:  "user-1",
				ChunkID: "chunk-1",
				Content: "suggested content",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(item.Status).To(Equal(recall.StatusSuggested))
			suggestionID = item.ID
		})

		It("creates no scheduling state until accepted", func() {
			_, err := store.GetStrength(ctx, suggestionID)
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("accepts a suggestion into the active queue", func() {
			entry, err := sched.Accept(ctx, "user-1", suggestionID, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.Item.Status).To(Equal(recall.StatusActive))
			Expect(entry.Strength.IntervalDays).To(Equal(2))

			_, err = store.GetStrength(ctx, suggestionID)
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects acceptance by a different user", func() {
			_, err := sched.Accept(ctx, "user-2", suggestionID, 2)
			Expect(err).To(MatchError(scheduler.ErrNotOwner))
		})

		It("rejects invalid delays before loading the item", func() {
			_, err := sched.Accept(ctx, "user-1", suggestionID, 0)
			Expect(err).To(MatchError(scheduler.ErrInvalidDelay))
		})

		It("dismisses a suggestion without scheduling it", func() {
			Expect(sched.Dismiss(ctx, "user-1", suggestionID)).To(Succeed())

			item, err := store.GetItem(ctx, suggestionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(item.Status).To(Equal(recall.StatusDismissed))

			_, err = store.GetStrength(ctx, suggestionID)
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("refuses to accept a suggestion for an already tracked source", func() {
			active, err := sched.Create(ctx, validCreate("user-1", "chunk-1"))
			Expect(err).NotTo(HaveOccurred())

			_, err = sched.Accept(ctx, "user-1", suggestionID, 2)
			var dup storage.DuplicateItemError
			Expect(errors.As(err, &dup)).To(BeTrue())
			Expect(dup.ExistingID).To(Equal(active.Item.ID))

			count, err := store.CountActive(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))

			_, err = store.GetStrength(ctx, suggestionID)
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("refuses to accept a dismissed suggestion", func() {
			Expect(sched.Dismiss(ctx, "user-1", suggestionID)).To(Succeed())

			_, err := sched.Accept(ctx, "user-1", suggestionID, 2)
			Expect(err).To(MatchError(storage.ErrNotSuggested))
		})
	})

	Describe("Stats", func() {
		It("summarizes due, active, and reviewed-today counts", func() {
			first, err := sched.Create(ctx, validCreate("user-1", "chunk-1"))
			Expect(err).NotTo(HaveOccurred())
			_, err = sched.Create(ctx, validCreate("user-1", "chunk-2"))
			Expect(err).NotTo(HaveOccurred())

			s, err := store.GetStrength(ctx, first.Item.ID)
			Expect(err).NotTo(HaveOccurred())
			s.NextReviewAt = time.Now().UTC().Add(-time.Hour)
			Expect(store.UpdateStrength(ctx, s, s.ReviewCount)).To(Succeed())

			_, err = sched.SubmitReview(ctx, "user-1", first.Item.ID, 5)
			Expect(err).NotTo(HaveOccurred())

			stats, err := sched.Stats(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalActive).To(Equal(2))
			Expect(stats.ReviewedToday).To(Equal(1))
			Expect(stats.Streak).To(Equal(1))
		})

		It("counts consecutive review days as a streak", func() {
			_, err := sched.Create(ctx, validCreate("user-1", "chunk-1"))
			Expect(err).NotTo(HaveOccurred())

			now := time.Now().UTC()
			for _, daysAgo := range []int{1, 2, 3, 5} {
				Expect(store.AppendReview(ctx, &recall.ReviewRecord{
					RecallItemID: "item-x",
					UserID:       "user-1",
					Quality:      4,
					ReviewedAt:   now.AddDate(0, 0, -daysAgo),
				})).To(Succeed())
			}

			// No review yet today: the streak ends yesterday and spans the
			// three consecutive days; the gap before day five breaks it.
			stats, err := sched.Stats(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Streak).To(Equal(3))
		})

		It("reports a zero streak for a user with no reviews", func() {
			stats, err := sched.Stats(ctx, "user-2")
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Streak).To(BeZero())
			Expect(stats.TotalActive).To(BeZero())
		})
	})
})
