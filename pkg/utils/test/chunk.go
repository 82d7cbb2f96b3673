package testutils

import (
	"time"

	"github.com/engramhq/engram/pkg/chunk"
)

// NewTestChunk creates a simple chunk for testing
func NewTestChunk(id, ownerID, content string, embedding []float32) *chunk.Chunk {
	return &chunk.Chunk{
		ID:        id,
		CaptureID: "capture-" + id,
		OwnerID:   ownerID,
		Content:   content,
		Embedding: embedding,
		CreatedAt: time.Now().UTC(),
	}
}
