// Package storage defines the persistence contract shared by the
// canonicalization engine and the recall scheduler.
//
// The Driver is the only cross-request shared mutable state in the core.
// Canonical rows are mutated exclusively through insert-or-no-op operations
// so that retries stay idempotent; recall scheduling state is mutated through
// a compare-and-swap update keyed on the stored review count.
package storage

import (
	"context"
	"time"

	"github.com/engramhq/engram/pkg/chunk"
	"github.com/engramhq/engram/pkg/recall"
)

// QueueEntry pairs a recall item with its scheduling state for queue reads.
type QueueEntry struct {
	Item     recall.Item     `json:"item"`
	Strength recall.Strength `json:"strength"`
}

// Driver persists chunks, canonical clusters, and recall scheduling state.
type Driver interface {
	// PutChunk stores a chunk. Chunks are written by the ingestion pipeline;
	// the core only reads them back.
	PutChunk(ctx context.Context, c *chunk.Chunk) error

	// GetChunk retrieves a chunk by id. Returns ErrNotFound if absent.
	GetChunk(ctx context.Context, id string) (*chunk.Chunk, error)

	// CreateCanonical stores a new canonical representative.
	CreateCanonical(ctx context.Context, c *chunk.Canonical) error

	// GetCanonical retrieves a canonical chunk by id.
	GetCanonical(ctx context.Context, id string) (*chunk.Canonical, error)

	// ListCanonical returns all canonical representatives for one owner,
	// ordered by creation time then id. The result set is the candidate pool
	// for similarity scans and is expected to stay bounded (hundreds).
	ListCanonical(ctx context.Context, ownerID string) ([]*chunk.Canonical, error)

	// DeleteCanonical removes a canonical chunk. Callers must only delete
	// representatives with zero mappings.
	DeleteCanonical(ctx context.Context, id string) error

	// CanonicalOwners returns the distinct owner ids with at least one
	// canonical chunk. Used by the compaction pass to walk owners.
	CanonicalOwners(ctx context.Context) ([]string, error)

	// CreateMapping links a chunk to a canonical representative. Returns
	// false with no error if the chunk is already mapped; a duplicate insert
	// is "already canonicalized", never a failure.
	CreateMapping(ctx context.Context, m *chunk.Mapping) (bool, error)

	// GetMapping retrieves the mapping for a chunk, or ErrNotFound.
	GetMapping(ctx context.Context, chunkID string) (*chunk.Mapping, error)

	// CountMappings returns the number of chunks linked to a canonical id.
	CountMappings(ctx context.Context, canonicalID string) (int, error)

	// RepointMappings moves every mapping from one canonical id to another,
	// returning the number of rows moved. Used by the compaction pass when
	// merging sibling clusters.
	RepointMappings(ctx context.Context, fromID, toID string) (int, error)

	// CreateItemWithStrength inserts a recall item and its scheduling state
	// as one atomic pair: both rows exist afterwards or neither does. An
	// existing active item for the same (user, source) yields
	// DuplicateItemError carrying the existing id.
	CreateItemWithStrength(ctx context.Context, item *recall.Item, s *recall.Strength) error

	// CreateSuggestion inserts a suggested item with no scheduling state.
	CreateSuggestion(ctx context.Context, item *recall.Item) error

	// ActivateItem transitions a suggested item to active, creating its
	// scheduling state in the same atomic step.
	ActivateItem(ctx context.Context, itemID string, s *recall.Strength) error

	// DismissItem marks a suggested item dismissed.
	DismissItem(ctx context.Context, itemID string) error

	// DeleteItem removes an item and any scheduling state.
	DeleteItem(ctx context.Context, itemID string) error

	// GetItem retrieves a recall item by id.
	GetItem(ctx context.Context, id string) (*recall.Item, error)

	// FindActiveItemBySource returns the active item tracking the given
	// source for a user, or ErrNotFound.
	FindActiveItemBySource(ctx context.Context, userID, source string) (*recall.Item, error)

	// GetStrength retrieves scheduling state for an item.
	GetStrength(ctx context.Context, itemID string) (*recall.Strength, error)

	// UpdateStrength writes new scheduling state only if the stored review
	// count still equals expectedReviewCount. A lost race returns
	// ErrStaleUpdate so the caller can re-read and retry; stale in-memory
	// state is never blindly overwritten.
	UpdateStrength(ctx context.Context, s *recall.Strength, expectedReviewCount int) error

	// AppendReview records one review outcome in the append-only log.
	AppendReview(ctx context.Context, r *recall.ReviewRecord) error

	// DueEntries returns active items due at now (next_review_at <= now),
	// oldest overdue first.
	DueEntries(ctx context.Context, userID string, now time.Time, limit int) ([]QueueEntry, error)

	// ImplicitEntries returns active items not yet due, ordered by last
	// review time with never-reviewed items first.
	ImplicitEntries(ctx context.Context, userID string, now time.Time, limit int) ([]QueueEntry, error)

	// CountDue returns the number of active items due at now.
	CountDue(ctx context.Context, userID string, now time.Time) (int, error)

	// CountActive returns the number of active items for a user.
	CountActive(ctx context.Context, userID string) (int, error)

	// CountReviewsSince returns the number of logged reviews at or after the
	// given time.
	CountReviewsSince(ctx context.Context, userID string, since time.Time) (int, error)

	// ReviewDays returns the distinct UTC calendar days with at least one
	// review, most recent first.
	ReviewDays(ctx context.Context, userID string) ([]time.Time, error)

	// Close releases driver resources.
	Close() error
}
