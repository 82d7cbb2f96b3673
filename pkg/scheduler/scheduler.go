// Package scheduler implements the spaced-repetition recall scheduler: it
// creates recall items with their scheduling state, applies SM-2 review
// outcomes, and selects the due and implicit queues.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/recall"
	"github.com/engramhq/engram/pkg/storage"
)

const (
	// MinDelayDays and MaxDelayDays bound the initial review delay.
	MinDelayDays = 1
	MaxDelayDays = 365

	// DefaultPageSize caps queue reads when no limit is given.
	DefaultPageSize = 10

	// maxReviewRetries bounds automatic retries when a concurrent review
	// wins the compare-and-swap. The review call sits on the interactive
	// path, so retries stay small.
	maxReviewRetries = 2
)

var (
	// ErrInvalidDelay is returned for initial delays outside [1,365] days.
	ErrInvalidDelay = fmt.Errorf("delay days must be between %d and %d", MinDelayDays, MaxDelayDays)

	// ErrMissingContent is returned when an item has no review content.
	ErrMissingContent = errors.New("content is required")

	// ErrMissingSource is returned when an item tracks neither a chunk nor a
	// derived memory.
	ErrMissingSource = errors.New("a source chunk id or memory id is required")

	// ErrNotOwner is returned when a caller operates on another user's item.
	// Authorization failures are hard rejections, never retried.
	ErrNotOwner = errors.New("recall item belongs to another user")

	// ErrNotActive is returned when reviewing an item that is not active.
	ErrNotActive = errors.New("recall item is not active")
)

// Stats is the derived, read-only recall summary for one user.
type Stats struct {
	DueToday      int `json:"due_today"`
	TotalActive   int `json:"total_active"`
	ReviewedToday int `json:"reviewed_today"`
	Streak        int `json:"streak"`
}

// CreateRequest describes a new recall item.
type CreateRequest struct {
	UserID    string
	ChunkID   string
	MemoryID  string
	Content   string
	Note      string
	DelayDays int
}

// Scheduler governs the recall item lifecycle over a storage driver.
type Scheduler struct {
	store    storage.Driver
	logger   *zap.Logger
	pageSize int

	now    func() time.Time
	nextID func() string
}

// NewScheduler creates a scheduler with the default page size.
func NewScheduler(store storage.Driver, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		logger:   logger,
		pageSize: DefaultPageSize,
		now:      time.Now,
		nextID:   uuid.NewString,
	}
}

func (r CreateRequest) validate() error {
	if r.Content == "" {
		return ErrMissingContent
	}
	if r.ChunkID == "" && r.MemoryID == "" {
		return ErrMissingSource
	}
	if r.DelayDays < MinDelayDays || r.DelayDays > MaxDelayDays {
		return ErrInvalidDelay
	}
	return nil
}

func (s *Scheduler) newItem(r CreateRequest, status recall.Status) *recall.Item {
	return &recall.Item{
		ID:            s.nextID(),
		UserID:        r.UserID,
		Content:       r.Content,
		SourceChunkID: r.ChunkID,
		Type:          recall.TypeExplicit,
		Status:        status,
		Metadata: recall.Metadata{
			Note:           r.Note,
			SourceMemoryID: r.MemoryID,
		},
		CreatedAt: s.now().UTC(),
	}
}

func (s *Scheduler) initialStrength(itemID string, delayDays int) *recall.Strength {
	return &recall.Strength{
		RecallItemID: itemID,
		Strength:     0,
		IntervalDays: delayDays,
		EaseFactor:   recall.InitialEaseFactor,
		ReviewCount:  0,
		NextReviewAt: s.now().UTC().AddDate(0, 0, delayDays),
	}
}

// Create inserts an active recall item with its scheduling state as one
// atomic pair. A second create for the same (user, source) returns
// storage.DuplicateItemError carrying the existing item id.
func (s *Scheduler) Create(ctx context.Context, r CreateRequest) (*storage.QueueEntry, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	item := s.newItem(r, recall.StatusActive)
	strength := s.initialStrength(item.ID, r.DelayDays)

	if err := s.store.CreateItemWithStrength(ctx, item, strength); err != nil {
		return nil, err
	}

	s.logger.Info("recall item created",
		zap.String("item_id", item.ID),
		zap.String("user_id", item.UserID),
		zap.Time("next_review_at", strength.NextReviewAt),
	)
	return &storage.QueueEntry{Item: *item, Strength: *strength}, nil
}

// SubmitReview applies one SM-2 review outcome. The state update is a
// compare-and-swap on the stored review count with bounded retries; two
// reviews racing for the same item serialize through storage rather than
// overwriting each other from stale in-memory state.
func (s *Scheduler) SubmitReview(ctx context.Context, userID, itemID string, quality int) (*recall.Strength, error) {
	if quality < recall.MinQuality || quality > recall.MaxQuality {
		return nil, recall.ErrInvalidQuality
	}

	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.UserID != userID {
		return nil, ErrNotOwner
	}
	if item.Status != recall.StatusActive {
		return nil, ErrNotActive
	}

	now := s.now().UTC()
	var next recall.Strength
	for attempt := 0; ; attempt++ {
		current, err := s.store.GetStrength(ctx, itemID)
		if err != nil {
			return nil, err
		}

		next, err = recall.Advance(*current, quality, now)
		if err != nil {
			return nil, err
		}

		err = s.store.UpdateStrength(ctx, &next, current.ReviewCount)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrStaleUpdate) || attempt == maxReviewRetries {
			return nil, err
		}
		s.logger.Debug("review lost compare-and-swap, retrying",
			zap.String("item_id", itemID),
			zap.Int("attempt", attempt+1),
		)
	}

	if err := s.store.AppendReview(ctx, &recall.ReviewRecord{
		RecallItemID: itemID,
		UserID:       userID,
		Quality:      quality,
		ReviewedAt:   now,
	}); err != nil {
		// The scheduling update already committed; losing a log row only
		// skews derived stats.
		s.logger.Warn("failed to append review log",
			zap.String("item_id", itemID),
			zap.Error(err),
		)
	}

	s.logger.Info("review applied",
		zap.String("item_id", itemID),
		zap.Int("quality", quality),
		zap.Int("interval_days", next.IntervalDays),
		zap.Time("next_review_at", next.NextReviewAt),
	)
	return &next, nil
}

// Due returns items whose scheduled review time has passed, oldest overdue
// first.
func (s *Scheduler) Due(ctx context.Context, userID string, limit int) ([]storage.QueueEntry, error) {
	if limit <= 0 {
		limit = s.pageSize
	}
	return s.store.DueEntries(ctx, userID, s.now().UTC(), limit)
}

// Implicit returns not-yet-due items for passive resurfacing, never-reviewed
// items first. This queue optimizes for freshness, not review debt, and is
// disjoint from the due queue at any point in time.
func (s *Scheduler) Implicit(ctx context.Context, userID string, limit int) ([]storage.QueueEntry, error) {
	if limit <= 0 {
		limit = s.pageSize
	}
	return s.store.ImplicitEntries(ctx, userID, s.now().UTC(), limit)
}

// Suggest inserts a suggested recall item with no scheduling state. State is
// only created if the user accepts the suggestion.
func (s *Scheduler) Suggest(ctx context.Context, r CreateRequest) (*recall.Item, error) {
	if r.Content == "" {
		return nil, ErrMissingContent
	}
	if r.ChunkID == "" && r.MemoryID == "" {
		return nil, ErrMissingSource
	}

	item := s.newItem(r, recall.StatusSuggested)
	if err := s.store.CreateSuggestion(ctx, item); err != nil {
		return nil, err
	}

	s.logger.Info("recall suggestion created",
		zap.String("item_id", item.ID),
		zap.String("user_id", item.UserID),
	)
	return item, nil
}

// Accept transitions a suggested item to active, creating its scheduling
// state in the same atomic step as a direct create.
func (s *Scheduler) Accept(ctx context.Context, userID, itemID string, delayDays int) (*storage.QueueEntry, error) {
	if delayDays < MinDelayDays || delayDays > MaxDelayDays {
		return nil, ErrInvalidDelay
	}

	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.UserID != userID {
		return nil, ErrNotOwner
	}

	strength := s.initialStrength(itemID, delayDays)
	if err := s.store.ActivateItem(ctx, itemID, strength); err != nil {
		return nil, err
	}

	item.Status = recall.StatusActive
	s.logger.Info("recall suggestion accepted",
		zap.String("item_id", itemID),
		zap.Time("next_review_at", strength.NextReviewAt),
	)
	return &storage.QueueEntry{Item: *item, Strength: *strength}, nil
}

// Dismiss marks a suggested item dismissed. No scheduling state is created.
func (s *Scheduler) Dismiss(ctx context.Context, userID, itemID string) error {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.UserID != userID {
		return ErrNotOwner
	}
	return s.store.DismissItem(ctx, itemID)
}

// Stats returns the derived recall summary for a user. Read-only; no state
// is mutated.
func (s *Scheduler) Stats(ctx context.Context, userID string) (*Stats, error) {
	now := s.now().UTC()
	midnight := now.Truncate(24 * time.Hour)

	due, err := s.store.CountDue(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	active, err := s.store.CountActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	reviewed, err := s.store.CountReviewsSince(ctx, userID, midnight)
	if err != nil {
		return nil, err
	}
	days, err := s.store.ReviewDays(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &Stats{
		DueToday:      due,
		TotalActive:   active,
		ReviewedToday: reviewed,
		Streak:        streak(days, midnight),
	}, nil
}

// streak counts consecutive review days ending today, or ending yesterday
// when today has no review yet.
func streak(days []time.Time, today time.Time) int {
	if len(days) == 0 {
		return 0
	}

	expected := today
	if !days[0].Equal(today) {
		expected = today.AddDate(0, 0, -1)
	}

	n := 0
	for _, day := range days {
		if !day.Equal(expected) {
			break
		}
		n++
		expected = expected.AddDate(0, 0, -1)
	}
	return n
}
