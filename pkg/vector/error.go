package vector

import "errors"

var (
	// ErrNotFound is returned when a document is not found in the index.
	ErrNotFound = errors.New("document not found")

	// ErrEmbedding is returned when embedding generation fails.
	ErrEmbedding = errors.New("embedding failed")

	// ErrConnection is returned when the index backend is unreachable.
	ErrConnection = errors.New("vector index connection failed")
)
