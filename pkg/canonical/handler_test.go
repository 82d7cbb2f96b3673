package canonical_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramhq/engram/pkg/canonical"
	"github.com/engramhq/engram/pkg/dispatch"
	"github.com/engramhq/engram/pkg/logger"
	"github.com/engramhq/engram/pkg/storage/inmemory"
	testutils "github.com/engramhq/engram/pkg/utils/test"
)

var _ = Describe("CanonicalizeHandler", func() {
	var (
		store   *inmemory.Driver
		handler dispatch.Handler
		ctx     context.Context
	)

	BeforeEach(func() {
		store = inmemory.NewDriver()
		engine := canonical.NewEngine(canonical.Config{}, store, nil, logger.Nop())
		handler = canonical.CanonicalizeHandler(engine)
		ctx = context.Background()
	})

	It("canonicalizes the chunk named in the payload", func() {
		ch := testutils.NewTestChunk("chunk-1", "user-1", "hello", []float32{1, 0})
		Expect(store.PutChunk(ctx, ch)).To(Succeed())

		Expect(handler(ctx, []byte(`{"chunk_id":"chunk-1"}`))).To(Succeed())

		_, err := store.GetMapping(ctx, "chunk-1")
		Expect(err).NotTo(HaveOccurred())
	})

	It("fails permanently on malformed payloads", func() {
		err := handler(ctx, []byte(`{nope`))
		Expect(errors.Is(err, dispatch.ErrPermanent)).To(BeTrue())
	})

	It("fails permanently on an empty chunk id", func() {
		err := handler(ctx, []byte(`{}`))
		Expect(errors.Is(err, dispatch.ErrPermanent)).To(BeTrue())
	})

	It("fails permanently when the chunk does not exist", func() {
		err := handler(ctx, []byte(`{"chunk_id":"gone"}`))
		Expect(errors.Is(err, dispatch.ErrPermanent)).To(BeTrue())
	})

	It("leaves missing-embedding failures retryable", func() {
		ch := testutils.NewTestChunk("chunk-1", "user-1", "hello", nil)
		Expect(store.PutChunk(ctx, ch)).To(Succeed())

		err := handler(ctx, []byte(`{"chunk_id":"chunk-1"}`))
		Expect(err).To(MatchError(canonical.ErrNoEmbedding))
		Expect(errors.Is(err, dispatch.ErrPermanent)).To(BeFalse())
	})
})
