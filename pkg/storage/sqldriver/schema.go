package sqldriver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schemaTemplate is the shared DDL. %[1]s is the blob type, %[2]s the
// timestamp type. Statements are append-only; new columns and indexes may be
// added but existing ones never change shape.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	capture_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding %[1]s,
	sequence_index INTEGER NOT NULL DEFAULT 0,
	created_at %[2]s NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_capture ON chunks (capture_id);

CREATE TABLE IF NOT EXISTS canonical_chunks (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	canonical_text TEXT NOT NULL,
	representative_embedding %[1]s NOT NULL,
	created_at %[2]s NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_canonical_owner ON canonical_chunks (owner_id);

CREATE TABLE IF NOT EXISTS canonical_map (
	chunk_id TEXT PRIMARY KEY,
	canonical_id TEXT NOT NULL,
	similarity_score DOUBLE PRECISION NOT NULL,
	created_at %[2]s NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_canonical_map_canonical ON canonical_map (canonical_id);

CREATE TABLE IF NOT EXISTS recall_items (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	source_id TEXT NOT NULL,
	source_chunk_id TEXT NOT NULL DEFAULT '',
	source_memory_id TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT '',
	recall_type TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at %[2]s NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_recall_active_source
	ON recall_items (user_id, source_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS memory_strengths (
	recall_item_id TEXT PRIMARY KEY REFERENCES recall_items (id) ON DELETE CASCADE,
	strength DOUBLE PRECISION NOT NULL,
	interval_days INTEGER NOT NULL,
	ease_factor DOUBLE PRECISION NOT NULL,
	review_count INTEGER NOT NULL,
	last_review_at %[2]s,
	next_review_at %[2]s NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_strength_next_review ON memory_strengths (next_review_at);

CREATE TABLE IF NOT EXISTS review_log (
	recall_item_id TEXT NOT NULL REFERENCES recall_items (id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	quality INTEGER NOT NULL,
	reviewed_at %[2]s NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_review_log_user_time ON review_log (user_id, reviewed_at);
`

// CreateSchema applies the DDL for the given dialect.
func CreateSchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	blobType, timeType := "BLOB", "TIMESTAMP"
	if dialect == DialectPostgres {
		blobType, timeType = "BYTEA", "TIMESTAMPTZ"
	}

	ddl := fmt.Sprintf(schemaTemplate, blobType, timeType)
	for _, stmt := range strings.Split(ddl, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement: %w", err)
		}
	}
	return nil
}
