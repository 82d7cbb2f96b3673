package canonical

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/engramhq/engram/pkg/dispatch"
	"github.com/engramhq/engram/pkg/storage"
)

// CanonicalizeHandler adapts the engine to the dispatch contract for
// TopicCanonicalize jobs. Re-running a job is safe because Canonicalize is
// idempotent; jobs for chunks that no longer exist fail permanently.
func CanonicalizeHandler(e *Engine) dispatch.Handler {
	return func(ctx context.Context, payload []byte) error {
		var p dispatch.CanonicalizePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return dispatch.Permanent(fmt.Errorf("decoding canonicalize payload: %w", err))
		}
		if p.ChunkID == "" {
			return dispatch.Permanent(fmt.Errorf("canonicalize payload missing chunk id"))
		}

		err := e.Canonicalize(ctx, p.ChunkID)
		if storage.IsNotFound(err) {
			return dispatch.Permanent(err)
		}
		return err
	}
}
