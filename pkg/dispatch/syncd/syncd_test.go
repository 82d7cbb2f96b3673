package syncd_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramhq/engram/pkg/dispatch"
	"github.com/engramhq/engram/pkg/dispatch/syncd"
)

func TestSyncd(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Syncd Suite")
}

var _ = Describe("Dispatcher", func() {
	var d *syncd.Dispatcher

	BeforeEach(func() {
		d = syncd.NewDispatcher()
	})

	It("runs the handler inline and returns its result", func() {
		var got []byte
		d.Handle("topic-a", func(_ context.Context, payload []byte) error {
			got = payload
			return nil
		})

		err := d.Enqueue(context.Background(), "topic-a", dispatch.ReviewPayload{
			UserID:       "user-1",
			RecallItemID: "item-1",
			Quality:      4,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(got)).To(MatchJSON(`{"user_id":"user-1","recall_item_id":"item-1","quality":4}`))
	})

	It("surfaces handler errors to the caller", func() {
		boom := errors.New("boom")
		d.Handle("topic-a", func(context.Context, []byte) error { return boom })

		Expect(d.Enqueue(context.Background(), "topic-a", struct{}{})).To(MatchError(boom))
	})

	It("rejects unregistered topics", func() {
		err := d.Enqueue(context.Background(), "nope", struct{}{})
		Expect(err).To(MatchError(dispatch.ErrUnknownTopic))
	})
})
