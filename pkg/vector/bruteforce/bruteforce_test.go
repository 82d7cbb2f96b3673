package bruteforce_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramhq/engram/pkg/vector"
	"github.com/engramhq/engram/pkg/vector/bruteforce"
)

func TestBruteforce(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Bruteforce Suite")
}

var _ = Describe("Driver", func() {
	var (
		driver *bruteforce.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		driver = bruteforce.NewDriver()
		ctx = context.Background()
	})

	doc := func(id, ownerID string, embedding []float32) vector.Document {
		return vector.Document{ID: id, OwnerID: ownerID, Embedding: embedding}
	}

	It("returns matches ordered by similarity, best first", func() {
		Expect(driver.Add(ctx, []vector.Document{
			doc("far", "user-1", []float32{0, 1}),
			doc("near", "user-1", []float32{1, 0.1}),
			doc("exact", "user-1", []float32{1, 0}),
		})).To(Succeed())

		results, err := driver.Query(ctx, "user-1", []float32{1, 0}, 10)
		Expect(err).NotTo(HaveOccurred())

		Expect(results).To(HaveLen(3))
		Expect(results[0].ID).To(Equal("exact"))
		Expect(results[0].Score).To(BeNumerically("~", 1.0, 1e-12))
		Expect(results[1].ID).To(Equal("near"))
		Expect(results[2].ID).To(Equal("far"))
	})

	It("never returns documents of other owners", func() {
		Expect(driver.Add(ctx, []vector.Document{
			doc("mine", "user-1", []float32{1, 0}),
			doc("theirs", "user-2", []float32{1, 0}),
		})).To(Succeed())

		results, err := driver.Query(ctx, "user-1", []float32{1, 0}, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].ID).To(Equal("mine"))
	})

	It("caps results at topK", func() {
		Expect(driver.Add(ctx, []vector.Document{
			doc("a", "user-1", []float32{1, 0}),
			doc("b", "user-1", []float32{1, 0.1}),
			doc("c", "user-1", []float32{1, 0.2}),
		})).To(Succeed())

		results, err := driver.Query(ctx, "user-1", []float32{1, 0}, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
	})

	It("updates a document on re-add", func() {
		Expect(driver.Add(ctx, []vector.Document{doc("a", "user-1", []float32{1, 0})})).To(Succeed())
		Expect(driver.Add(ctx, []vector.Document{doc("a", "user-1", []float32{0, 1})})).To(Succeed())

		results, err := driver.Query(ctx, "user-1", []float32{0, 1}, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Score).To(BeNumerically("~", 1.0, 1e-12))
	})

	It("removes deleted documents from queries", func() {
		Expect(driver.Add(ctx, []vector.Document{
			doc("keep", "user-1", []float32{1, 0}),
			doc("drop", "user-1", []float32{1, 0.1}),
		})).To(Succeed())

		Expect(driver.Delete(ctx, []string{"drop"})).To(Succeed())

		results, err := driver.Query(ctx, "user-1", []float32{1, 0}, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].ID).To(Equal("keep"))
	})

	It("returns nothing for an empty index", func() {
		results, err := driver.Query(ctx, "user-1", []float32{1, 0}, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(BeEmpty())
	})
})
