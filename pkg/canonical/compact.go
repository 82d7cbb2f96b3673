package canonical

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/chunk"
	"github.com/engramhq/engram/pkg/vector"
)

// Report summarizes one compaction pass.
type Report struct {
	// Merged counts canonical chunks folded into an older sibling.
	Merged int `json:"merged"`

	// Deleted counts zero-reference canonical chunks removed.
	Deleted int `json:"deleted"`

	// Repointed counts mappings moved during merges.
	Repointed int `json:"repointed"`
}

// Compact reconciles the precision loss left behind by concurrent
// first-arrivals: sibling clusters whose representatives exceed the dedup
// threshold against each other are merged (newer into older), and canonical
// chunks with zero mappings are garbage-collected. The pass is idempotent and
// intended to run periodically or via the compact command.
func (e *Engine) Compact(ctx context.Context) (Report, error) {
	var report Report

	owners, err := e.store.CanonicalOwners(ctx)
	if err != nil {
		return report, fmt.Errorf("listing owners: %w", err)
	}

	for _, owner := range owners {
		if err := e.compactOwner(ctx, owner, &report); err != nil {
			return report, fmt.Errorf("compacting owner %s: %w", owner, err)
		}
	}

	e.logger.Info("compaction pass complete",
		zap.Int("merged", report.Merged),
		zap.Int("deleted", report.Deleted),
		zap.Int("repointed", report.Repointed),
	)
	return report, nil
}

func (e *Engine) compactOwner(ctx context.Context, ownerID string, report *Report) error {
	reps, err := e.store.ListCanonical(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("listing canonical chunks: %w", err)
	}

	// Merge newer representatives into the oldest similar sibling. reps is
	// ordered oldest first, so scanning earlier entries finds the oldest
	// surviving match.
	alive := make([]*chunk.Canonical, 0, len(reps))
	for _, rep := range reps {
		target := e.mergeTarget(rep, alive)
		if target == nil {
			alive = append(alive, rep)
			continue
		}

		moved, err := e.store.RepointMappings(ctx, rep.ID, target.ID)
		if err != nil {
			return fmt.Errorf("repointing mappings: %w", err)
		}
		if err := e.deleteRepresentative(ctx, rep.ID); err != nil {
			return err
		}

		report.Merged++
		report.Repointed += moved
		e.logger.Info("merged sibling canonical cluster",
			zap.String("from", rep.ID),
			zap.String("into", target.ID),
			zap.Int("mappings_moved", moved),
		)
	}

	// Garbage-collect representatives nothing points at.
	for _, rep := range alive {
		n, err := e.store.CountMappings(ctx, rep.ID)
		if err != nil {
			return fmt.Errorf("counting mappings: %w", err)
		}
		if n > 0 {
			continue
		}

		if err := e.deleteRepresentative(ctx, rep.ID); err != nil {
			return err
		}
		report.Deleted++
		e.logger.Debug("deleted orphan canonical chunk", zap.String("canonical_id", rep.ID))
	}

	return nil
}

// mergeTarget returns the oldest surviving representative similar enough to
// absorb rep, or nil when rep should stand on its own.
func (e *Engine) mergeTarget(rep *chunk.Canonical, alive []*chunk.Canonical) *chunk.Canonical {
	for _, candidate := range alive {
		if vector.Cosine(rep.Embedding, candidate.Embedding) >= e.threshold {
			return candidate
		}
	}
	return nil
}

func (e *Engine) deleteRepresentative(ctx context.Context, id string) error {
	if err := e.store.DeleteCanonical(ctx, id); err != nil {
		return fmt.Errorf("deleting canonical chunk %s: %w", id, err)
	}
	if e.index != nil {
		if err := e.index.Delete(ctx, []string{id}); err != nil {
			e.logger.Warn("failed to remove canonical from index",
				zap.String("canonical_id", id),
				zap.Error(err),
			)
		}
	}
	return nil
}
