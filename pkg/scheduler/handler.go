package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/engramhq/engram/pkg/dispatch"
	"github.com/engramhq/engram/pkg/recall"
	"github.com/engramhq/engram/pkg/storage"
)

// ReviewHandler adapts the scheduler to the dispatch contract for
// TopicSubmitReview jobs. Validation, authorization, and missing-row failures
// are permanent; only storage-level errors are worth redelivering.
func ReviewHandler(s *Scheduler) dispatch.Handler {
	return func(ctx context.Context, payload []byte) error {
		var p dispatch.ReviewPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return dispatch.Permanent(fmt.Errorf("decoding review payload: %w", err))
		}

		_, err := s.SubmitReview(ctx, p.UserID, p.RecallItemID, p.Quality)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, recall.ErrInvalidQuality),
			errors.Is(err, ErrNotOwner),
			errors.Is(err, ErrNotActive),
			storage.IsNotFound(err):
			return dispatch.Permanent(err)
		default:
			return err
		}
	}
}
