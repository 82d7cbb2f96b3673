package scheduler_test

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramhq/engram/pkg/dispatch"
	"github.com/engramhq/engram/pkg/logger"
	"github.com/engramhq/engram/pkg/scheduler"
	"github.com/engramhq/engram/pkg/storage/inmemory"
)

var _ = Describe("ReviewHandler", func() {
	var (
		store   *inmemory.Driver
		sched   *scheduler.Scheduler
		handler dispatch.Handler
		ctx     context.Context
		itemID  string
	)

	payload := func(userID, itemID string, quality int) []byte {
		data, err := json.Marshal(dispatch.ReviewPayload{
			UserID:       userID,
			RecallItemID: itemID,
			Quality:      quality,
		})
		Expect(err).NotTo(HaveOccurred())
		return data
	}

	BeforeEach(func() {
		store = inmemory.NewDriver()
		sched = scheduler.NewScheduler(store, logger.Nop())
		handler = scheduler.ReviewHandler(sched)
		ctx = context.Background()

		entry, err := sched.Create(ctx, scheduler.CreateRequest{
			UserID:    "user-1",
			ChunkID:   "chunk-1",
			Content:   "content",
			DelayDays: 1,
		})
		Expect(err).NotTo(HaveOccurred())
		itemID = entry.Item.ID
	})

	It("applies the review from the payload", func() {
		Expect(handler(ctx, payload("user-1", itemID, 4))).To(Succeed())

		s, err := store.GetStrength(ctx, itemID)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.ReviewCount).To(Equal(1))
	})

	It("fails permanently on malformed payloads", func() {
		err := handler(ctx, []byte(`{nope`))
		Expect(errors.Is(err, dispatch.ErrPermanent)).To(BeTrue())
	})

	It("fails permanently on invalid quality", func() {
		err := handler(ctx, payload("user-1", itemID, 9))
		Expect(errors.Is(err, dispatch.ErrPermanent)).To(BeTrue())
	})

	It("fails permanently for a different user's item", func() {
		err := handler(ctx, payload("user-2", itemID, 4))
		Expect(errors.Is(err, dispatch.ErrPermanent)).To(BeTrue())
	})

	It("fails permanently for unknown items", func() {
		err := handler(ctx, payload("user-1", "gone", 4))
		Expect(errors.Is(err, dispatch.ErrPermanent)).To(BeTrue())
	})
})
