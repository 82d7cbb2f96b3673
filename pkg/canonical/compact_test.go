package canonical_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramhq/engram/pkg/canonical"
	"github.com/engramhq/engram/pkg/chunk"
	"github.com/engramhq/engram/pkg/logger"
	"github.com/engramhq/engram/pkg/storage"
	"github.com/engramhq/engram/pkg/storage/inmemory"
	testutils "github.com/engramhq/engram/pkg/utils/test"
)

var _ = Describe("Compact", func() {
	var (
		store *inmemory.Driver
		index *testutils.MockVectorDriver
		ctx   context.Context
	)

	seedCanonical := func(id, ownerID string, embedding []float32, createdAt time.Time) {
		Expect(store.CreateCanonical(ctx, &chunk.Canonical{
			ID:        id,
			OwnerID:   ownerID,
			Text:      "text for " + id,
			Embedding: embedding,
			CreatedAt: createdAt,
		})).To(Succeed())
	}

	seedMapping := func(chunkID, canonicalID string) {
		inserted, err := store.CreateMapping(ctx, &chunk.Mapping{
			ChunkID:     chunkID,
			CanonicalID: canonicalID,
			Score:       1.0,
			CreatedAt:   time.Now().UTC(),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(inserted).To(BeTrue())
	}

	BeforeEach(func() {
		store = inmemory.NewDriver()
		index = testutils.NewMockVectorDriver()
		ctx = context.Background()
	})

	It("merges sibling clusters into the oldest representative", func() {
		t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		seedCanonical("canon-old", "user-1", []float32{1, 0}, t0)
		seedCanonical("canon-new", "user-1", []float32{1, 0.1}, t0.Add(time.Hour))
		seedMapping("chunk-1", "canon-old")
		seedMapping("chunk-2", "canon-new")
		seedMapping("chunk-3", "canon-new")

		engine := canonical.NewEngine(canonical.Config{}, store, index, logger.Nop())
		report, err := engine.Compact(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(report.Merged).To(Equal(1))
		Expect(report.Repointed).To(Equal(2))
		Expect(report.Deleted).To(BeZero())

		_, err = store.GetCanonical(ctx, "canon-new")
		Expect(storage.IsNotFound(err)).To(BeTrue())
		Expect(index.Deleted).To(ContainElement("canon-new"))

		for _, chunkID := range []string{"chunk-1", "chunk-2", "chunk-3"} {
			m, err := store.GetMapping(ctx, chunkID)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.CanonicalID).To(Equal("canon-old"))
		}
	})

	It("leaves dissimilar clusters alone", func() {
		t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		seedCanonical("canon-a", "user-1", []float32{1, 0}, t0)
		seedCanonical("canon-b", "user-1", []float32{0, 1}, t0.Add(time.Hour))
		seedMapping("chunk-1", "canon-a")
		seedMapping("chunk-2", "canon-b")

		engine := canonical.NewEngine(canonical.Config{}, store, index, logger.Nop())
		report, err := engine.Compact(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(report.Merged).To(BeZero())
		Expect(report.Deleted).To(BeZero())
	})

	It("garbage-collects representatives with no mappings", func() {
		t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		seedCanonical("canon-live", "user-1", []float32{1, 0}, t0)
		seedCanonical("canon-orphan", "user-1", []float32{0, 1}, t0.Add(time.Hour))
		seedMapping("chunk-1", "canon-live")

		engine := canonical.NewEngine(canonical.Config{}, store, index, logger.Nop())
		report, err := engine.Compact(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(report.Deleted).To(Equal(1))
		_, err = store.GetCanonical(ctx, "canon-orphan")
		Expect(storage.IsNotFound(err)).To(BeTrue())
		Expect(index.Deleted).To(ContainElement("canon-orphan"))

		_, err = store.GetCanonical(ctx, "canon-live")
		Expect(err).NotTo(HaveOccurred())
	})

	It("compacts each owner independently", func() {
		t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		seedCanonical("u1-a", "user-1", []float32{1, 0}, t0)
		seedCanonical("u2-a", "user-2", []float32{1, 0}, t0.Add(time.Hour))
		seedMapping("chunk-1", "u1-a")
		seedMapping("chunk-2", "u2-a")

		engine := canonical.NewEngine(canonical.Config{}, store, index, logger.Nop())
		report, err := engine.Compact(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(report.Merged).To(BeZero())
		Expect(report.Deleted).To(BeZero())
	})

	It("is idempotent", func() {
		t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		seedCanonical("canon-old", "user-1", []float32{1, 0}, t0)
		seedCanonical("canon-new", "user-1", []float32{1, 0.1}, t0.Add(time.Hour))
		seedMapping("chunk-1", "canon-old")
		seedMapping("chunk-2", "canon-new")

		engine := canonical.NewEngine(canonical.Config{}, store, index, logger.Nop())
		first, err := engine.Compact(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Merged).To(Equal(1))

		second, err := engine.Compact(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(canonical.Report{}))
	})

	It("cleans up after a lost canonicalization race", func() {
		// Simulate two first-arrivals: both founded clusters but only one
		// mapping per chunk exists, pointing at the first cluster.
		t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		seedCanonical("canon-winner", "user-1", []float32{1, 0}, t0)
		seedCanonical("canon-loser", "user-1", []float32{1, 0.05}, t0.Add(time.Second))
		seedMapping("chunk-1", "canon-winner")
		seedMapping("chunk-2", "canon-winner")

		engine := canonical.NewEngine(canonical.Config{}, store, index, logger.Nop())
		report, err := engine.Compact(ctx)
		Expect(err).NotTo(HaveOccurred())

		// The loser is similar to the winner, so it merges rather than GCs;
		// either way it is gone and every mapping points at the winner.
		Expect(report.Merged + report.Deleted).To(Equal(1))
		_, err = store.GetCanonical(ctx, "canon-loser")
		Expect(storage.IsNotFound(err)).To(BeTrue())
	})
})
