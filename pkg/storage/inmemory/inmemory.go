// Package inmemory provides a mutex-guarded in-memory storage driver used by
// unit tests and development mode.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/engramhq/engram/pkg/chunk"
	"github.com/engramhq/engram/pkg/recall"
	"github.com/engramhq/engram/pkg/storage"
)

// Driver implements storage.Driver with in-process maps.
type Driver struct {
	mu sync.Mutex

	chunks     map[string]*chunk.Chunk
	canonicals map[string]*chunk.Canonical
	mappings   map[string]*chunk.Mapping // keyed by chunk id
	items      map[string]*recall.Item
	strengths  map[string]*recall.Strength
	reviews    []*recall.ReviewRecord

	// FailStrengthInsert forces the strength half of an atomic pair creation
	// to fail, for exercising rollback behavior in tests.
	FailStrengthInsert bool
}

var _ storage.Driver = (*Driver)(nil)

// errInjectedFailure backs the FailStrengthInsert test hook.
var errInjectedFailure = errors.New("injected strength insert failure")

// NewDriver creates an empty in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		chunks:     make(map[string]*chunk.Chunk),
		canonicals: make(map[string]*chunk.Canonical),
		mappings:   make(map[string]*chunk.Mapping),
		items:      make(map[string]*recall.Item),
		strengths:  make(map[string]*recall.Strength),
	}
}

func (d *Driver) PutChunk(_ context.Context, c *chunk.Chunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.chunks[c.ID]; ok {
		return nil
	}
	cp := *c
	d.chunks[c.ID] = &cp
	return nil
}

func (d *Driver) GetChunk(_ context.Context, id string) (*chunk.Chunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.chunks[id]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "chunk", ID: id}
	}
	cp := *c
	return &cp, nil
}

func (d *Driver) CreateCanonical(_ context.Context, c *chunk.Canonical) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp := *c
	d.canonicals[c.ID] = &cp
	return nil
}

func (d *Driver) GetCanonical(_ context.Context, id string) (*chunk.Canonical, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.canonicals[id]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "canonical chunk", ID: id}
	}
	cp := *c
	return &cp, nil
}

func (d *Driver) ListCanonical(_ context.Context, ownerID string) ([]*chunk.Canonical, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*chunk.Canonical
	for _, c := range d.canonicals {
		if c.OwnerID == ownerID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *Driver) DeleteCanonical(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.canonicals, id)
	return nil
}

func (d *Driver) CanonicalOwners(_ context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[string]bool)
	var owners []string
	for _, c := range d.canonicals {
		if !seen[c.OwnerID] {
			seen[c.OwnerID] = true
			owners = append(owners, c.OwnerID)
		}
	}
	sort.Strings(owners)
	return owners, nil
}

func (d *Driver) CreateMapping(_ context.Context, m *chunk.Mapping) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.mappings[m.ChunkID]; ok {
		return false, nil
	}
	cp := *m
	d.mappings[m.ChunkID] = &cp
	return true, nil
}

func (d *Driver) GetMapping(_ context.Context, chunkID string) (*chunk.Mapping, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.mappings[chunkID]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "canonical mapping", ID: chunkID}
	}
	cp := *m
	return &cp, nil
}

func (d *Driver) CountMappings(_ context.Context, canonicalID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, m := range d.mappings {
		if m.CanonicalID == canonicalID {
			n++
		}
	}
	return n, nil
}

func (d *Driver) RepointMappings(_ context.Context, fromID, toID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, m := range d.mappings {
		if m.CanonicalID == fromID {
			m.CanonicalID = toID
			n++
		}
	}
	return n, nil
}

func (d *Driver) CreateItemWithStrength(_ context.Context, item *recall.Item, s *recall.Strength) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing := d.findActiveLocked(item.UserID, item.Source()); existing != nil {
		return storage.DuplicateItemError{ExistingID: existing.ID}
	}

	itemCopy := *item
	d.items[item.ID] = &itemCopy

	if d.FailStrengthInsert {
		// Compensating delete keeps the pair atomic.
		delete(d.items, item.ID)
		return errInjectedFailure
	}

	strengthCopy := *s
	d.strengths[s.RecallItemID] = &strengthCopy
	return nil
}

func (d *Driver) CreateSuggestion(_ context.Context, item *recall.Item) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp := *item
	cp.Status = recall.StatusSuggested
	d.items[item.ID] = &cp
	return nil
}

func (d *Driver) ActivateItem(_ context.Context, itemID string, s *recall.Strength) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	item, ok := d.items[itemID]
	if !ok {
		return storage.ErrNotFound{Kind: "recall item", ID: itemID}
	}
	if item.Status != recall.StatusSuggested {
		return storage.ErrNotSuggested
	}
	if existing := d.findActiveLocked(item.UserID, item.Source()); existing != nil {
		return storage.DuplicateItemError{ExistingID: existing.ID}
	}

	if d.FailStrengthInsert {
		return errInjectedFailure
	}

	item.Status = recall.StatusActive
	cp := *s
	d.strengths[s.RecallItemID] = &cp
	return nil
}

func (d *Driver) DismissItem(_ context.Context, itemID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	item, ok := d.items[itemID]
	if !ok {
		return storage.ErrNotFound{Kind: "recall item", ID: itemID}
	}
	if item.Status != recall.StatusSuggested {
		return storage.ErrNotSuggested
	}
	item.Status = recall.StatusDismissed
	return nil
}

func (d *Driver) DeleteItem(_ context.Context, itemID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.items, itemID)
	delete(d.strengths, itemID)
	return nil
}

func (d *Driver) GetItem(_ context.Context, id string) (*recall.Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	item, ok := d.items[id]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "recall item", ID: id}
	}
	cp := *item
	return &cp, nil
}

func (d *Driver) findActiveLocked(userID, source string) *recall.Item {
	for _, item := range d.items {
		if item.UserID == userID && item.Source() == source && item.Status == recall.StatusActive {
			return item
		}
	}
	return nil
}

func (d *Driver) FindActiveItemBySource(_ context.Context, userID, source string) (*recall.Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	item := d.findActiveLocked(userID, source)
	if item == nil {
		return nil, storage.ErrNotFound{Kind: "recall item", ID: source}
	}
	cp := *item
	return &cp, nil
}

func (d *Driver) GetStrength(_ context.Context, itemID string) (*recall.Strength, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.strengths[itemID]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "memory strength", ID: itemID}
	}
	cp := *s
	return &cp, nil
}

func (d *Driver) UpdateStrength(_ context.Context, s *recall.Strength, expectedReviewCount int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored, ok := d.strengths[s.RecallItemID]
	if !ok {
		return storage.ErrNotFound{Kind: "memory strength", ID: s.RecallItemID}
	}
	if stored.ReviewCount != expectedReviewCount {
		return storage.ErrStaleUpdate
	}
	cp := *s
	d.strengths[s.RecallItemID] = &cp
	return nil
}

func (d *Driver) AppendReview(_ context.Context, r *recall.ReviewRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp := *r
	d.reviews = append(d.reviews, &cp)
	return nil
}

func (d *Driver) activeEntriesLocked(userID string) []storage.QueueEntry {
	var entries []storage.QueueEntry
	for _, item := range d.items {
		if item.UserID != userID || item.Status != recall.StatusActive {
			continue
		}
		s, ok := d.strengths[item.ID]
		if !ok {
			continue
		}
		entries = append(entries, storage.QueueEntry{Item: *item, Strength: *s})
	}
	return entries
}

func (d *Driver) DueEntries(_ context.Context, userID string, now time.Time, limit int) ([]storage.QueueEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var due []storage.QueueEntry
	for _, e := range d.activeEntriesLocked(userID) {
		if !e.Strength.NextReviewAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].Strength.NextReviewAt.Before(due[j].Strength.NextReviewAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (d *Driver) ImplicitEntries(_ context.Context, userID string, now time.Time, limit int) ([]storage.QueueEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var pending []storage.QueueEntry
	for _, e := range d.activeEntriesLocked(userID) {
		if e.Strength.NextReviewAt.After(now) {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		li, lj := pending[i].Strength.LastReviewAt, pending[j].Strength.LastReviewAt
		switch {
		case li == nil && lj == nil:
			return pending[i].Strength.NextReviewAt.Before(pending[j].Strength.NextReviewAt)
		case li == nil:
			return true
		case lj == nil:
			return false
		default:
			return li.Before(*lj)
		}
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (d *Driver) CountDue(_ context.Context, userID string, now time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, e := range d.activeEntriesLocked(userID) {
		if !e.Strength.NextReviewAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (d *Driver) CountActive(_ context.Context, userID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, item := range d.items {
		if item.UserID == userID && item.Status == recall.StatusActive {
			n++
		}
	}
	return n, nil
}

func (d *Driver) CountReviewsSince(_ context.Context, userID string, since time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, r := range d.reviews {
		if r.UserID == userID && !r.ReviewedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (d *Driver) ReviewDays(_ context.Context, userID string) ([]time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[time.Time]bool)
	var days []time.Time
	for _, r := range d.reviews {
		if r.UserID != userID {
			continue
		}
		day := r.ReviewedAt.UTC().Truncate(24 * time.Hour)
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	return days, nil
}

func (d *Driver) Close() error {
	return nil
}
