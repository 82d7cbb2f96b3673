// Package chunk defines the persisted units of ingested content and their
// canonical (deduplicated) representatives.
//
// A Chunk is owned by the ingestion pipeline: it is immutable once embedded,
// and many chunks belong to one capture. The canonicalization engine collapses
// near-duplicate chunks into a shared Canonical representative via Mapping
// rows; every chunk has at most one mapping, and a canonical chunk with zero
// mappings is removable garbage.
package chunk

import "time"

// Chunk is a unit of ingested, embedded text belonging to one capture.
type Chunk struct {
	// ID uniquely identifies the chunk.
	ID string `json:"id"`

	// CaptureID identifies the ingested item this chunk was split from.
	CaptureID string `json:"capture_id"`

	// OwnerID is the user that owns the capture.
	OwnerID string `json:"owner_id"`

	// Content is the chunk text.
	Content string `json:"content"`

	// Embedding is the vector representation of Content. A chunk without an
	// embedding is not eligible for canonicalization.
	Embedding []float32 `json:"embedding,omitempty"`

	// SequenceIndex is the chunk's position within its capture.
	SequenceIndex int `json:"sequence_index"`

	// CreatedAt is when the chunk was ingested.
	CreatedAt time.Time `json:"created_at"`
}

// Canonical is the deduplicated representative of a cluster of
// near-identical chunks.
type Canonical struct {
	ID string `json:"id"`

	// OwnerID scopes the cluster to a single user; candidate retrieval never
	// crosses owners.
	OwnerID string `json:"owner_id"`

	// Text is the canonical text, taken from the founding chunk.
	Text string `json:"canonical_text"`

	// Embedding is the founding chunk's embedding. It is never recomputed as
	// a centroid, which keeps merges idempotent and cheap at the cost of some
	// clustering tightness.
	Embedding []float32 `json:"representative_embedding"`

	CreatedAt time.Time `json:"created_at"`
}

// Mapping links one chunk to its canonical representative. At most one
// mapping exists per chunk.
type Mapping struct {
	ChunkID     string `json:"chunk_id"`
	CanonicalID string `json:"canonical_id"`

	// Score is the cosine similarity between the chunk and the canonical
	// representative at link time. Founding chunks record 1.0.
	Score float64 `json:"similarity_score"`

	CreatedAt time.Time `json:"created_at"`
}
