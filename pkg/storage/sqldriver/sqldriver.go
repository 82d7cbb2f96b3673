// Package sqldriver implements storage.Driver on database/sql. The SQLite and
// PostgreSQL drivers are thin constructors around this shared implementation;
// dialect differences are limited to placeholder style and column types.
package sqldriver

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/engramhq/engram/pkg/chunk"
	"github.com/engramhq/engram/pkg/recall"
	"github.com/engramhq/engram/pkg/storage"
)

// Dialect selects SQL flavor details for a backing database.
type Dialect string

const (
	// DialectSQLite targets SQLite via github.com/mattn/go-sqlite3.
	DialectSQLite Dialect = "sqlite"

	// DialectPostgres targets PostgreSQL via the pgx stdlib driver.
	DialectPostgres Dialect = "postgres"
)

// SQLDriver implements storage.Driver over a *sql.DB.
type SQLDriver struct {
	DB      *sql.DB
	Dialect Dialect
}

var _ storage.Driver = (*SQLDriver)(nil)

// rebind converts ?-style placeholders to $N for PostgreSQL.
func (d *SQLDriver) rebind(query string) string {
	if d.Dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// encodeEmbedding packs a float32 vector into a little-endian blob.
func encodeEmbedding(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeEmbedding unpacks a little-endian blob into a float32 vector.
func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d: must be divisible by 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func (d *SQLDriver) PutChunk(ctx context.Context, c *chunk.Chunk) error {
	_, err := d.DB.ExecContext(ctx, d.rebind(`
		INSERT INTO chunks (id, capture_id, owner_id, content, embedding, sequence_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`), c.ID, c.CaptureID, c.OwnerID, c.Content, encodeEmbedding(c.Embedding), c.SequenceIndex, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
	}
	return nil
}

func (d *SQLDriver) GetChunk(ctx context.Context, id string) (*chunk.Chunk, error) {
	row := d.DB.QueryRowContext(ctx, d.rebind(`
		SELECT id, capture_id, owner_id, content, embedding, sequence_index, created_at
		FROM chunks WHERE id = ?
	`), id)

	var c chunk.Chunk
	var blob []byte
	err := row.Scan(&c.ID, &c.CaptureID, &c.OwnerID, &c.Content, &blob, &c.SequenceIndex, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "chunk", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("querying chunk %s: %w", id, err)
	}

	if c.Embedding, err = decodeEmbedding(blob); err != nil {
		return nil, fmt.Errorf("decoding embedding for chunk %s: %w", id, err)
	}
	return &c, nil
}

func (d *SQLDriver) CreateCanonical(ctx context.Context, c *chunk.Canonical) error {
	_, err := d.DB.ExecContext(ctx, d.rebind(`
		INSERT INTO canonical_chunks (id, owner_id, canonical_text, representative_embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), c.ID, c.OwnerID, c.Text, encodeEmbedding(c.Embedding), c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting canonical chunk %s: %w", c.ID, err)
	}
	return nil
}

func (d *SQLDriver) GetCanonical(ctx context.Context, id string) (*chunk.Canonical, error) {
	row := d.DB.QueryRowContext(ctx, d.rebind(`
		SELECT id, owner_id, canonical_text, representative_embedding, created_at
		FROM canonical_chunks WHERE id = ?
	`), id)
	return scanCanonical(row, id)
}

func scanCanonical(row *sql.Row, id string) (*chunk.Canonical, error) {
	var c chunk.Canonical
	var blob []byte
	err := row.Scan(&c.ID, &c.OwnerID, &c.Text, &blob, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "canonical chunk", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("querying canonical chunk %s: %w", id, err)
	}
	if c.Embedding, err = decodeEmbedding(blob); err != nil {
		return nil, fmt.Errorf("decoding embedding for canonical chunk %s: %w", id, err)
	}
	return &c, nil
}

func (d *SQLDriver) ListCanonical(ctx context.Context, ownerID string) ([]*chunk.Canonical, error) {
	rows, err := d.DB.QueryContext(ctx, d.rebind(`
		SELECT id, owner_id, canonical_text, representative_embedding, created_at
		FROM canonical_chunks
		WHERE owner_id = ?
		ORDER BY created_at ASC, id ASC
	`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing canonical chunks: %w", err)
	}
	defer rows.Close()

	var out []*chunk.Canonical
	for rows.Next() {
		var c chunk.Canonical
		var blob []byte
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Text, &blob, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning canonical chunk: %w", err)
		}
		if c.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for canonical chunk %s: %w", c.ID, err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (d *SQLDriver) DeleteCanonical(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, d.rebind(`DELETE FROM canonical_chunks WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting canonical chunk %s: %w", id, err)
	}
	return nil
}

func (d *SQLDriver) CanonicalOwners(ctx context.Context) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT DISTINCT owner_id FROM canonical_chunks ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("listing canonical owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scanning owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

func (d *SQLDriver) CreateMapping(ctx context.Context, m *chunk.Mapping) (bool, error) {
	res, err := d.DB.ExecContext(ctx, d.rebind(`
		INSERT INTO canonical_map (chunk_id, canonical_id, similarity_score, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (chunk_id) DO NOTHING
	`), m.ChunkID, m.CanonicalID, m.Score, m.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("inserting mapping for chunk %s: %w", m.ChunkID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking mapping insert for chunk %s: %w", m.ChunkID, err)
	}
	return n > 0, nil
}

func (d *SQLDriver) GetMapping(ctx context.Context, chunkID string) (*chunk.Mapping, error) {
	row := d.DB.QueryRowContext(ctx, d.rebind(`
		SELECT chunk_id, canonical_id, similarity_score, created_at
		FROM canonical_map WHERE chunk_id = ?
	`), chunkID)

	var m chunk.Mapping
	err := row.Scan(&m.ChunkID, &m.CanonicalID, &m.Score, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "canonical mapping", ID: chunkID}
	}
	if err != nil {
		return nil, fmt.Errorf("querying mapping for chunk %s: %w", chunkID, err)
	}
	return &m, nil
}

func (d *SQLDriver) CountMappings(ctx context.Context, canonicalID string) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, d.rebind(`
		SELECT COUNT(*) FROM canonical_map WHERE canonical_id = ?
	`), canonicalID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting mappings for canonical %s: %w", canonicalID, err)
	}
	return n, nil
}

func (d *SQLDriver) RepointMappings(ctx context.Context, fromID, toID string) (int, error) {
	res, err := d.DB.ExecContext(ctx, d.rebind(`
		UPDATE canonical_map SET canonical_id = ? WHERE canonical_id = ?
	`), toID, fromID)
	if err != nil {
		return 0, fmt.Errorf("repointing mappings %s -> %s: %w", fromID, toID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking repointed rows: %w", err)
	}
	return int(n), nil
}

func (d *SQLDriver) CreateItemWithStrength(ctx context.Context, item *recall.Item, s *recall.Strength) error {
	if existing, err := d.FindActiveItemBySource(ctx, item.UserID, item.Source()); err == nil {
		return storage.DuplicateItemError{ExistingID: existing.ID}
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertItem(ctx, tx, d, item); err != nil {
		// A unique violation on the (user, source) partial index means a
		// concurrent create won the race; surface the winner's id. Release
		// the transaction before querying so its connection is free.
		tx.Rollback()
		if existing, ferr := d.FindActiveItemBySource(ctx, item.UserID, item.Source()); ferr == nil {
			return storage.DuplicateItemError{ExistingID: existing.ID}
		}
		return err
	}

	if err := insertStrength(ctx, tx, d, s); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing item creation: %w", err)
	}
	return nil
}

func insertItem(ctx context.Context, tx *sql.Tx, d *SQLDriver, item *recall.Item) error {
	_, err := tx.ExecContext(ctx, d.rebind(`
		INSERT INTO recall_items (id, user_id, content, source_id, source_chunk_id, source_memory_id, note, recall_type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), item.ID, item.UserID, item.Content, item.Source(), item.SourceChunkID,
		item.Metadata.SourceMemoryID, item.Metadata.Note, string(item.Type), string(item.Status), item.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting recall item %s: %w", item.ID, err)
	}
	return nil
}

func insertStrength(ctx context.Context, tx *sql.Tx, d *SQLDriver, s *recall.Strength) error {
	var last sql.NullTime
	if s.LastReviewAt != nil {
		last = sql.NullTime{Time: s.LastReviewAt.UTC(), Valid: true}
	}
	_, err := tx.ExecContext(ctx, d.rebind(`
		INSERT INTO memory_strengths (recall_item_id, strength, interval_days, ease_factor, review_count, last_review_at, next_review_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), s.RecallItemID, s.Strength, s.IntervalDays, s.EaseFactor, s.ReviewCount, last, s.NextReviewAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting memory strength for item %s: %w", s.RecallItemID, err)
	}
	return nil
}

func (d *SQLDriver) CreateSuggestion(ctx context.Context, item *recall.Item) error {
	_, err := d.DB.ExecContext(ctx, d.rebind(`
		INSERT INTO recall_items (id, user_id, content, source_id, source_chunk_id, source_memory_id, note, recall_type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), item.ID, item.UserID, item.Content, item.Source(), item.SourceChunkID,
		item.Metadata.SourceMemoryID, item.Metadata.Note, string(item.Type), string(recall.StatusSuggested), item.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting suggestion %s: %w", item.ID, err)
	}
	return nil
}

func (d *SQLDriver) ActivateItem(ctx context.Context, itemID string, s *recall.Strength) error {
	item, err := d.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	// An active item for the same source would trip idx_recall_active_source
	// mid-transaction; surface it as the same conflict a direct create gets.
	existing, err := d.FindActiveItemBySource(ctx, item.UserID, item.Source())
	if err == nil {
		return storage.DuplicateItemError{ExistingID: existing.ID}
	}
	if !storage.IsNotFound(err) {
		return err
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, d.rebind(`
		UPDATE recall_items SET status = ? WHERE id = ? AND status = ?
	`), string(recall.StatusActive), itemID, string(recall.StatusSuggested))
	if err != nil {
		return fmt.Errorf("activating item %s: %w", itemID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking activation of item %s: %w", itemID, err)
	}
	if n == 0 {
		tx.Rollback()
		if _, gerr := d.GetItem(ctx, itemID); gerr != nil {
			return gerr
		}
		return storage.ErrNotSuggested
	}

	if err := insertStrength(ctx, tx, d, s); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing activation: %w", err)
	}
	return nil
}

func (d *SQLDriver) DismissItem(ctx context.Context, itemID string) error {
	res, err := d.DB.ExecContext(ctx, d.rebind(`
		UPDATE recall_items SET status = ? WHERE id = ? AND status = ?
	`), string(recall.StatusDismissed), itemID, string(recall.StatusSuggested))
	if err != nil {
		return fmt.Errorf("dismissing item %s: %w", itemID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking dismissal of item %s: %w", itemID, err)
	}
	if n == 0 {
		if _, gerr := d.GetItem(ctx, itemID); gerr != nil {
			return gerr
		}
		return storage.ErrNotSuggested
	}
	return nil
}

func (d *SQLDriver) DeleteItem(ctx context.Context, itemID string) error {
	// memory_strengths and review_log cascade via foreign keys.
	_, err := d.DB.ExecContext(ctx, d.rebind(`DELETE FROM recall_items WHERE id = ?`), itemID)
	if err != nil {
		return fmt.Errorf("deleting item %s: %w", itemID, err)
	}
	return nil
}

const itemColumns = `id, user_id, content, source_chunk_id, source_memory_id, note, recall_type, status, created_at`

func scanItem(s interface{ Scan(...any) error }) (*recall.Item, error) {
	var item recall.Item
	var itemType, status string
	err := s.Scan(&item.ID, &item.UserID, &item.Content, &item.SourceChunkID,
		&item.Metadata.SourceMemoryID, &item.Metadata.Note, &itemType, &status, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	item.Type = recall.Type(itemType)
	item.Status = recall.Status(status)
	return &item, nil
}

func (d *SQLDriver) GetItem(ctx context.Context, id string) (*recall.Item, error) {
	row := d.DB.QueryRowContext(ctx, d.rebind(`
		SELECT `+itemColumns+` FROM recall_items WHERE id = ?
	`), id)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "recall item", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("querying recall item %s: %w", id, err)
	}
	return item, nil
}

func (d *SQLDriver) FindActiveItemBySource(ctx context.Context, userID, source string) (*recall.Item, error) {
	row := d.DB.QueryRowContext(ctx, d.rebind(`
		SELECT `+itemColumns+` FROM recall_items
		WHERE user_id = ? AND source_id = ? AND status = ?
	`), userID, source, string(recall.StatusActive))

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "recall item", ID: source}
	}
	if err != nil {
		return nil, fmt.Errorf("querying active item for source %s: %w", source, err)
	}
	return item, nil
}

func (d *SQLDriver) GetStrength(ctx context.Context, itemID string) (*recall.Strength, error) {
	row := d.DB.QueryRowContext(ctx, d.rebind(`
		SELECT recall_item_id, strength, interval_days, ease_factor, review_count, last_review_at, next_review_at
		FROM memory_strengths WHERE recall_item_id = ?
	`), itemID)

	var s recall.Strength
	var last sql.NullTime
	err := row.Scan(&s.RecallItemID, &s.Strength, &s.IntervalDays, &s.EaseFactor, &s.ReviewCount, &last, &s.NextReviewAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "memory strength", ID: itemID}
	}
	if err != nil {
		return nil, fmt.Errorf("querying memory strength for item %s: %w", itemID, err)
	}
	if last.Valid {
		t := last.Time
		s.LastReviewAt = &t
	}
	return &s, nil
}

func (d *SQLDriver) UpdateStrength(ctx context.Context, s *recall.Strength, expectedReviewCount int) error {
	var last sql.NullTime
	if s.LastReviewAt != nil {
		last = sql.NullTime{Time: s.LastReviewAt.UTC(), Valid: true}
	}

	res, err := d.DB.ExecContext(ctx, d.rebind(`
		UPDATE memory_strengths
		SET strength = ?, interval_days = ?, ease_factor = ?, review_count = ?, last_review_at = ?, next_review_at = ?
		WHERE recall_item_id = ? AND review_count = ?
	`), s.Strength, s.IntervalDays, s.EaseFactor, s.ReviewCount, last, s.NextReviewAt.UTC(),
		s.RecallItemID, expectedReviewCount)
	if err != nil {
		return fmt.Errorf("updating memory strength for item %s: %w", s.RecallItemID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking strength update for item %s: %w", s.RecallItemID, err)
	}
	if n == 0 {
		if _, gerr := d.GetStrength(ctx, s.RecallItemID); gerr != nil {
			return gerr
		}
		return storage.ErrStaleUpdate
	}
	return nil
}

func (d *SQLDriver) AppendReview(ctx context.Context, r *recall.ReviewRecord) error {
	_, err := d.DB.ExecContext(ctx, d.rebind(`
		INSERT INTO review_log (recall_item_id, user_id, quality, reviewed_at)
		VALUES (?, ?, ?, ?)
	`), r.RecallItemID, r.UserID, r.Quality, r.ReviewedAt.UTC())
	if err != nil {
		return fmt.Errorf("appending review for item %s: %w", r.RecallItemID, err)
	}
	return nil
}

const queueSelect = `
	SELECT i.id, i.user_id, i.content, i.source_chunk_id, i.source_memory_id, i.note, i.recall_type, i.status, i.created_at,
		s.recall_item_id, s.strength, s.interval_days, s.ease_factor, s.review_count, s.last_review_at, s.next_review_at
	FROM recall_items i
	INNER JOIN memory_strengths s ON s.recall_item_id = i.id
	WHERE i.user_id = ? AND i.status = ?`

func (d *SQLDriver) queryEntries(ctx context.Context, query string, args ...any) ([]storage.QueueEntry, error) {
	rows, err := d.DB.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying queue entries: %w", err)
	}
	defer rows.Close()

	var entries []storage.QueueEntry
	for rows.Next() {
		var e storage.QueueEntry
		var itemType, status string
		var last sql.NullTime
		err := rows.Scan(&e.Item.ID, &e.Item.UserID, &e.Item.Content, &e.Item.SourceChunkID,
			&e.Item.Metadata.SourceMemoryID, &e.Item.Metadata.Note, &itemType, &status, &e.Item.CreatedAt,
			&e.Strength.RecallItemID, &e.Strength.Strength, &e.Strength.IntervalDays,
			&e.Strength.EaseFactor, &e.Strength.ReviewCount, &last, &e.Strength.NextReviewAt)
		if err != nil {
			return nil, fmt.Errorf("scanning queue entry: %w", err)
		}
		e.Item.Type = recall.Type(itemType)
		e.Item.Status = recall.Status(status)
		if last.Valid {
			t := last.Time
			e.Strength.LastReviewAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (d *SQLDriver) DueEntries(ctx context.Context, userID string, now time.Time, limit int) ([]storage.QueueEntry, error) {
	return d.queryEntries(ctx, queueSelect+`
		AND s.next_review_at <= ?
		ORDER BY s.next_review_at ASC
		LIMIT ?
	`, userID, string(recall.StatusActive), now.UTC(), limit)
}

func (d *SQLDriver) ImplicitEntries(ctx context.Context, userID string, now time.Time, limit int) ([]storage.QueueEntry, error) {
	return d.queryEntries(ctx, queueSelect+`
		AND s.next_review_at > ?
		ORDER BY s.last_review_at ASC NULLS FIRST, s.next_review_at ASC
		LIMIT ?
	`, userID, string(recall.StatusActive), now.UTC(), limit)
}

func (d *SQLDriver) CountDue(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, d.rebind(`
		SELECT COUNT(*) FROM recall_items i
		INNER JOIN memory_strengths s ON s.recall_item_id = i.id
		WHERE i.user_id = ? AND i.status = ? AND s.next_review_at <= ?
	`), userID, string(recall.StatusActive), now.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting due items: %w", err)
	}
	return n, nil
}

func (d *SQLDriver) CountActive(ctx context.Context, userID string) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, d.rebind(`
		SELECT COUNT(*) FROM recall_items WHERE user_id = ? AND status = ?
	`), userID, string(recall.StatusActive)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active items: %w", err)
	}
	return n, nil
}

func (d *SQLDriver) CountReviewsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, d.rebind(`
		SELECT COUNT(*) FROM review_log WHERE user_id = ? AND reviewed_at >= ?
	`), userID, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting reviews: %w", err)
	}
	return n, nil
}

func (d *SQLDriver) ReviewDays(ctx context.Context, userID string) ([]time.Time, error) {
	// Distinct-day grouping happens in Go so the query stays dialect-free.
	rows, err := d.DB.QueryContext(ctx, d.rebind(`
		SELECT reviewed_at FROM review_log WHERE user_id = ? ORDER BY reviewed_at DESC
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("querying review log: %w", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("scanning review time: %w", err)
		}
		day := at.UTC().Truncate(24 * time.Hour)
		if len(days) == 0 || !days[len(days)-1].Equal(day) {
			days = append(days, day)
		}
	}
	return days, rows.Err()
}

func (d *SQLDriver) Close() error {
	return d.DB.Close()
}
