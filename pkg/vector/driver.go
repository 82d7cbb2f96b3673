// Package vector provides the similarity index used to prefilter canonical
// candidates, plus the cosine math the canonicalization decision rule runs on.
package vector

import "context"

// Document is an indexed embedding, keyed by the canonical chunk id it
// represents and scoped to one owner.
type Document struct {
	// ID is the canonical chunk id.
	ID string

	// OwnerID scopes queries; results never cross owners.
	OwnerID string

	// Embedding is the representative embedding.
	Embedding []float32
}

// QueryResult is a search hit with an index-reported similarity score.
// Index scores are advisory; the canonicalization engine recomputes exact
// cosine similarity before applying the dedup threshold.
type QueryResult struct {
	Document

	// Score is the index similarity (higher = more similar).
	Score float64
}

// Driver handles storage and retrieval of representative embeddings.
type Driver interface {
	// Add stores documents. An existing document with the same ID is updated.
	Add(ctx context.Context, docs []Document) error

	// Query finds up to topK documents for the owner most similar to the
	// given embedding.
	Query(ctx context.Context, ownerID string, embedding []float32, topK int) ([]QueryResult, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the driver.
	Close() error
}
