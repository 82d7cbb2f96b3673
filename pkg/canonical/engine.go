// Package canonical implements the canonicalization engine: it collapses
// near-duplicate chunks into shared canonical representatives and maintains
// the chunk-to-canonical mapping.
package canonical

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/chunk"
	"github.com/engramhq/engram/pkg/embeddings"
	"github.com/engramhq/engram/pkg/storage"
	"github.com/engramhq/engram/pkg/vector"
)

const (
	// DefaultThreshold is the cosine similarity at or above which a chunk is
	// linked to an existing canonical representative instead of founding a
	// new cluster.
	DefaultThreshold = 0.92

	// defaultEpsilon bounds floating-point ties during best-candidate
	// selection. Candidates within epsilon of the max score tie, and the
	// oldest cluster wins.
	defaultEpsilon = 1e-9

	// defaultCandidateLimit caps index prefilter pulls.
	defaultCandidateLimit = 64
)

// ErrNoEmbedding is returned when a chunk has not been embedded yet. The
// dispatch layer may retry once the embedding exists.
var ErrNoEmbedding = errors.New("chunk has no embedding")

// Config holds engine tuning knobs.
type Config struct {
	// Threshold overrides DefaultThreshold when non-zero.
	Threshold float64

	// CandidateLimit overrides the index prefilter pull size when non-zero.
	CandidateLimit int

	// Embedder, when set, backfills embeddings for chunks that arrived
	// without one. Without it such chunks fail with ErrNoEmbedding.
	Embedder embeddings.Embedder
}

// Engine decides whether a chunk duplicates existing content and links it
// accordingly. Safe for concurrent use across different chunks; all mutation
// goes through insert-or-no-op storage operations.
type Engine struct {
	store          storage.Driver
	index          vector.Driver
	embedder       embeddings.Embedder
	threshold      float64
	candidateLimit int
	logger         *zap.Logger

	now    func() time.Time
	nextID func() string
}

// NewEngine creates a canonicalization engine. The index is optional: when
// nil, candidates are scanned brute-force from storage, which is fine for the
// bounded per-owner representative counts this core targets.
func NewEngine(c Config, store storage.Driver, index vector.Driver, logger *zap.Logger) *Engine {
	threshold := c.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	limit := c.CandidateLimit
	if limit == 0 {
		limit = defaultCandidateLimit
	}

	return &Engine{
		store:          store,
		index:          index,
		embedder:       c.Embedder,
		threshold:      threshold,
		candidateLimit: limit,
		logger:         logger,
		now:            time.Now,
		nextID:         uuid.NewString,
	}
}

// Threshold returns the configured dedup threshold.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Canonicalize links the chunk to its best-matching canonical representative,
// founding a new cluster when nothing is similar enough. Calling it again for
// an already-mapped chunk is a no-op, so dispatch-layer retries are safe.
func (e *Engine) Canonicalize(ctx context.Context, chunkID string) error {
	if _, err := e.store.GetMapping(ctx, chunkID); err == nil {
		e.logger.Debug("chunk already canonicalized", zap.String("chunk_id", chunkID))
		return nil
	} else if !storage.IsNotFound(err) {
		return fmt.Errorf("checking existing mapping: %w", err)
	}

	ch, err := e.store.GetChunk(ctx, chunkID)
	if err != nil {
		return fmt.Errorf("loading chunk: %w", err)
	}
	if len(ch.Embedding) == 0 {
		if e.embedder == nil {
			return fmt.Errorf("chunk %s: %w", chunkID, ErrNoEmbedding)
		}
		embedding, err := e.embedder.Embed(ctx, ch.Content)
		if err != nil {
			return fmt.Errorf("embedding chunk %s: %w", chunkID, err)
		}
		ch.Embedding = embedding
	}

	candidates, err := e.candidates(ctx, ch)
	if err != nil {
		return fmt.Errorf("fetching candidates: %w", err)
	}

	best, bestScore := pickBest(ch.Embedding, candidates)

	if best != nil && bestScore >= e.threshold {
		return e.link(ctx, ch, best.ID, bestScore)
	}
	return e.found(ctx, ch)
}

// candidates returns the owner's canonical representatives, prefiltered
// through the vector index when one is configured. Index scores are only a
// recall aid; the exact embeddings are reloaded from storage.
func (e *Engine) candidates(ctx context.Context, ch *chunk.Chunk) ([]*chunk.Canonical, error) {
	if e.index == nil {
		return e.store.ListCanonical(ctx, ch.OwnerID)
	}

	hits, err := e.index.Query(ctx, ch.OwnerID, ch.Embedding, e.candidateLimit)
	if err != nil {
		e.logger.Warn("vector index query failed, falling back to storage scan",
			zap.String("chunk_id", ch.ID),
			zap.Error(err),
		)
		return e.store.ListCanonical(ctx, ch.OwnerID)
	}

	candidates := make([]*chunk.Canonical, 0, len(hits))
	for _, hit := range hits {
		c, err := e.store.GetCanonical(ctx, hit.ID)
		if storage.IsNotFound(err) {
			// Index lag after a compaction delete; skip the ghost.
			continue
		}
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates, nil
}

// pickBest selects the highest-similarity candidate. Candidates must be
// ordered oldest first; scores tying within epsilon keep the earlier cluster,
// so repeated runs always resolve to the same representative.
func pickBest(embedding []float32, candidates []*chunk.Canonical) (*chunk.Canonical, float64) {
	var best *chunk.Canonical
	bestScore := 0.0

	for _, c := range candidates {
		score := vector.Cosine(embedding, c.Embedding)
		if best == nil || score > bestScore+defaultEpsilon {
			best = c
			bestScore = score
		}
	}
	return best, bestScore
}

// link maps the chunk onto an existing cluster.
func (e *Engine) link(ctx context.Context, ch *chunk.Chunk, canonicalID string, score float64) error {
	inserted, err := e.store.CreateMapping(ctx, &chunk.Mapping{
		ChunkID:     ch.ID,
		CanonicalID: canonicalID,
		Score:       score,
		CreatedAt:   e.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("linking chunk %s to canonical %s: %w", ch.ID, canonicalID, err)
	}
	if !inserted {
		e.logger.Debug("mapping already present, treating as canonicalized",
			zap.String("chunk_id", ch.ID),
		)
		return nil
	}

	e.logger.Info("chunk linked to canonical cluster",
		zap.String("chunk_id", ch.ID),
		zap.String("canonical_id", canonicalID),
		zap.Float64("similarity", score),
	)
	return nil
}

// found creates a new canonical cluster seeded by the chunk. Two concurrent
// first-arrivals of near-duplicates can each found a cluster; the per-chunk
// mapping invariant still holds and the compaction pass merges the siblings,
// so this is surfaced as a warning rather than an error.
func (e *Engine) found(ctx context.Context, ch *chunk.Chunk) error {
	canonical := &chunk.Canonical{
		ID:        e.nextID(),
		OwnerID:   ch.OwnerID,
		Text:      ch.Content,
		Embedding: ch.Embedding,
		CreatedAt: e.now().UTC(),
	}

	if err := e.store.CreateCanonical(ctx, canonical); err != nil {
		return fmt.Errorf("creating canonical chunk: %w", err)
	}

	inserted, err := e.store.CreateMapping(ctx, &chunk.Mapping{
		ChunkID:     ch.ID,
		CanonicalID: canonical.ID,
		Score:       1.0,
		CreatedAt:   e.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("linking founding chunk %s: %w", ch.ID, err)
	}
	if !inserted {
		// A concurrent call mapped this chunk first. Our canonical chunk has
		// zero references and will be garbage-collected by Compact.
		e.logger.Warn("lost canonicalization race, orphan canonical left for compaction",
			zap.String("chunk_id", ch.ID),
			zap.String("orphan_canonical_id", canonical.ID),
		)
		return nil
	}

	if e.index != nil {
		if err := e.index.Add(ctx, []vector.Document{{
			ID:        canonical.ID,
			OwnerID:   canonical.OwnerID,
			Embedding: canonical.Embedding,
		}}); err != nil {
			// The index is a prefilter; storage remains the source of truth.
			e.logger.Warn("failed to index canonical representative",
				zap.String("canonical_id", canonical.ID),
				zap.Error(err),
			)
		}
	}

	e.logger.Info("founded new canonical cluster",
		zap.String("chunk_id", ch.ID),
		zap.String("canonical_id", canonical.ID),
	)
	return nil
}
