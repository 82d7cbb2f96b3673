// Package bruteforce provides an exact in-memory vector index. It scans every
// document per query, which is acceptable for the bounded candidate sets this
// core operates on (hundreds of representatives per owner) and for tests.
package bruteforce

import (
	"context"
	"sort"
	"sync"

	"github.com/engramhq/engram/pkg/vector"
)

// Driver implements vector.Driver with a map and a linear cosine scan.
type Driver struct {
	mu   sync.RWMutex
	docs map[string]vector.Document
}

var _ vector.Driver = (*Driver)(nil)

// NewDriver creates an empty brute-force index.
func NewDriver() *Driver {
	return &Driver{
		docs: make(map[string]vector.Document),
	}
}

// Add stores documents, replacing any with the same ID.
func (d *Driver) Add(_ context.Context, docs []vector.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, doc := range docs {
		d.docs[doc.ID] = doc
	}
	return nil
}

// Query scans the owner's documents and returns the topK by exact cosine
// similarity, best first.
func (d *Driver) Query(_ context.Context, ownerID string, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var results []vector.QueryResult
	for _, doc := range d.docs {
		if doc.OwnerID != ownerID {
			continue
		}
		results = append(results, vector.QueryResult{
			Document: doc,
			Score:    vector.Cosine(embedding, doc.Embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(_ context.Context, ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range ids {
		delete(d.docs, id)
	}
	return nil
}

// Close is a no-op.
func (d *Driver) Close() error {
	return nil
}
