// Package recall defines the spaced-repetition domain model: items tracked
// for review and the SM-2 scheduling state attached to active items.
package recall

import "time"

// Type distinguishes how an item is surfaced to the user.
type Type string

const (
	// TypeExplicit items are reviewed through the active "due" queue.
	TypeExplicit Type = "explicit"

	// TypeImplicit items are resurfaced passively, outside the due queue.
	TypeImplicit Type = "implicit"
)

// Status is the lifecycle state of a recall item.
type Status string

const (
	// StatusActive items are scheduled and reviewable.
	StatusActive Status = "active"

	// StatusSuggested items were proposed by a background job and carry no
	// scheduling state until accepted.
	StatusSuggested Status = "suggested"

	// StatusDismissed items were rejected by the user and never schedule.
	StatusDismissed Status = "dismissed"
)

// Metadata is the typed optional sub-structure attached to an item.
type Metadata struct {
	// Note is free-form user text attached at creation.
	Note string `json:"note,omitempty"`

	// SourceMemoryID points at a derived memory when the item does not track
	// a raw chunk.
	SourceMemoryID string `json:"source_memory_id,omitempty"`
}

// Item is a unit tracked for spaced-repetition review.
type Item struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// Content is the text shown at review time.
	Content string `json:"content"`

	// SourceChunkID is the chunk this item tracks. Empty when the item tracks
	// a derived memory instead (see Metadata.SourceMemoryID).
	SourceChunkID string `json:"source_chunk_id,omitempty"`

	Type     Type     `json:"recall_type"`
	Status   Status   `json:"status"`
	Metadata Metadata `json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
}

// Source returns the identifier this item tracks, preferring the chunk id.
// Two active items for the same (user, source) pair are a conflict.
func (i Item) Source() string {
	if i.SourceChunkID != "" {
		return i.SourceChunkID
	}
	return i.Metadata.SourceMemoryID
}

// Strength is the SM-2 scheduling state for one recall item. Exactly one row
// exists per active item, created together with the item.
type Strength struct {
	RecallItemID string `json:"recall_item_id"`

	// Strength is the retention estimate from the most recent review,
	// quality/5 in [0,1]. Zero until the first review.
	Strength float64 `json:"strength"`

	// IntervalDays is the current repetition interval. Never below 1.
	IntervalDays int `json:"interval_days"`

	// EaseFactor is the SM-2 ease factor, bounded below by MinEaseFactor.
	EaseFactor float64 `json:"ease_factor"`

	// ReviewCount is the number of consecutive successful reviews. Reset to
	// zero by a failed recall.
	ReviewCount int `json:"review_count"`

	// LastReviewAt is nil until the item has been reviewed once.
	LastReviewAt *time.Time `json:"last_review_at,omitempty"`

	NextReviewAt time.Time `json:"next_review_at"`
}

// ReviewRecord is one row of the append-only review log, used for derived
// stats (reviewed-today counts, streaks) and operator visibility.
type ReviewRecord struct {
	RecallItemID string    `json:"recall_item_id"`
	UserID       string    `json:"user_id"`
	Quality      int       `json:"quality"`
	ReviewedAt   time.Time `json:"reviewed_at"`
}
