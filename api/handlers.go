package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/dispatch"
	"github.com/engramhq/engram/pkg/recall"
	"github.com/engramhq/engram/pkg/scheduler"
	"github.com/engramhq/engram/pkg/storage"
	"github.com/engramhq/engram/pkg/utils"
)

// ErrorResponse is the JSON body for all error replies.
type ErrorResponse struct {
	Error string `json:"error"`

	// ExistingItemID is set on duplicate-create conflicts so the caller can
	// address the surviving item.
	ExistingItemID string `json:"existing_item_id,omitempty"`
}

// CreateItemRequest is the body for POST /recall/items and
// POST /recall/suggestions.
type CreateItemRequest struct {
	UserID    string `json:"user_id"`
	ChunkID   string `json:"chunk_id"`
	MemoryID  string `json:"memory_id"`
	Content   string `json:"content"`
	Note      string `json:"note"`
	DelayDays int    `json:"delay_days"`
}

// ReviewRequest is the body for POST /recall/items/:id/review.
type ReviewRequest struct {
	UserID string `json:"user_id"`

	// Quality is a pointer so a missing field is rejected instead of being
	// read as a valid quality of zero.
	Quality *int `json:"quality"`
}

// ReviewResponse is the updated scheduling state after a review.
type ReviewResponse struct {
	NextReviewAt string  `json:"next_review_at"`
	IntervalDays int     `json:"interval_days"`
	EaseFactor   float64 `json:"ease_factor"`
	Strength     float64 `json:"strength"`
}

// AcceptRequest is the body for POST /recall/suggestions/:id/accept.
type AcceptRequest struct {
	UserID    string `json:"user_id"`
	DelayDays int    `json:"delay_days"`
}

// DismissRequest is the body for POST /recall/suggestions/:id/dismiss.
type DismissRequest struct {
	UserID string `json:"user_id"`
}

// CanonicalizeRequest is the body for POST /canonicalize.
type CanonicalizeRequest struct {
	ChunkID string `json:"chunk_id"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleCreateItem creates an active recall item with its scheduling state.
func (s *Server) handleCreateItem(c *fiber.Ctx) error {
	var req CreateItemRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "user_id is required"})
	}

	entry, err := s.sched.Create(c.Context(), scheduler.CreateRequest{
		UserID:    req.UserID,
		ChunkID:   req.ChunkID,
		MemoryID:  req.MemoryID,
		Content:   req.Content,
		Note:      req.Note,
		DelayDays: req.DelayDays,
	})
	if err != nil {
		return s.renderError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"item_id":        entry.Item.ID,
		"next_review_at": entry.Strength.NextReviewAt,
	})
}

// handleSubmitReview applies one review outcome to an item.
func (s *Server) handleSubmitReview(c *fiber.Ctx) error {
	itemID := c.Params("id")

	var req ReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "user_id is required"})
	}
	if req.Quality == nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "quality is required"})
	}

	strength, err := s.sched.SubmitReview(c.Context(), req.UserID, itemID, *req.Quality)
	if err != nil {
		return s.renderError(c, err)
	}

	return c.JSON(ReviewResponse{
		NextReviewAt: strength.NextReviewAt.Format("2006-01-02T15:04:05Z07:00"),
		IntervalDays: strength.IntervalDays,
		EaseFactor:   strength.EaseFactor,
		Strength:     strength.Strength,
	})
}

// handleDue returns the active review queue for a user.
func (s *Server) handleDue(c *fiber.Ctx) error {
	userID, limit, err := queueParams(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	entries, err := s.sched.Due(c.Context(), userID, limit)
	if err != nil {
		return s.renderError(c, err)
	}

	return c.JSON(fiber.Map{
		"count": len(entries),
		"items": entries,
	})
}

// handleImplicit returns the passive resurfacing queue for a user.
func (s *Server) handleImplicit(c *fiber.Ctx) error {
	userID, limit, err := queueParams(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	entries, err := s.sched.Implicit(c.Context(), userID, limit)
	if err != nil {
		return s.renderError(c, err)
	}

	return c.JSON(fiber.Map{
		"count": len(entries),
		"items": entries,
	})
}

// handleStats returns the derived recall summary for a user.
func (s *Server) handleStats(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "user_id parameter is required"})
	}

	stats, err := s.sched.Stats(c.Context(), userID)
	if err != nil {
		return s.renderError(c, err)
	}

	return c.JSON(stats)
}

// handleCreateSuggestion inserts a suggested item with no scheduling state.
func (s *Server) handleCreateSuggestion(c *fiber.Ctx) error {
	var req CreateItemRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "user_id is required"})
	}

	item, err := s.sched.Suggest(c.Context(), scheduler.CreateRequest{
		UserID:   req.UserID,
		ChunkID:  req.ChunkID,
		MemoryID: req.MemoryID,
		Content:  req.Content,
		Note:     req.Note,
	})
	if err != nil {
		return s.renderError(c, err)
	}

	s.logger.Debug("suggestion created",
		zap.String("item_id", item.ID),
		zap.String("content", utils.Truncate(item.Content, 80)),
	)
	return c.Status(fiber.StatusCreated).JSON(item)
}

// handleAcceptSuggestion transitions a suggestion to active.
func (s *Server) handleAcceptSuggestion(c *fiber.Ctx) error {
	itemID := c.Params("id")

	var req AcceptRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "user_id is required"})
	}

	entry, err := s.sched.Accept(c.Context(), req.UserID, itemID, req.DelayDays)
	if err != nil {
		return s.renderError(c, err)
	}

	return c.JSON(entry)
}

// handleDismissSuggestion marks a suggestion dismissed.
func (s *Server) handleDismissSuggestion(c *fiber.Ctx) error {
	itemID := c.Params("id")

	var req DismissRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "user_id is required"})
	}

	if err := s.sched.Dismiss(c.Context(), req.UserID, itemID); err != nil {
		return s.renderError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// handleCanonicalize enqueues a canonicalization job for one chunk. The reply
// is 202: the work happens in the background and re-submission is harmless.
func (s *Server) handleCanonicalize(c *fiber.Ctx) error {
	var req CanonicalizeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.ChunkID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "chunk_id is required"})
	}

	err := s.dispatcher.Enqueue(c.Context(), dispatch.TopicCanonicalize, dispatch.CanonicalizePayload{
		ChunkID: req.ChunkID,
	})
	if err != nil {
		s.logger.Error("failed to enqueue canonicalize job",
			zap.String("chunk_id", req.ChunkID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "failed to enqueue job"})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":   "queued",
		"chunk_id": req.ChunkID,
	})
}

// queueParams extracts the shared user_id/limit query parameters.
func queueParams(c *fiber.Ctx) (string, int, error) {
	userID := c.Query("user_id")
	if userID == "" {
		return "", 0, errors.New("user_id parameter is required")
	}

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return "", 0, errors.New("limit must be a positive integer")
		}
		limit = parsed
	}
	return userID, limit, nil
}

// renderError maps domain errors onto HTTP statuses.
func (s *Server) renderError(c *fiber.Ctx, err error) error {
	var dup storage.DuplicateItemError
	if errors.As(err, &dup) {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Error:          "an active recall item already tracks this source",
			ExistingItemID: dup.ExistingID,
		})
	}

	switch {
	case errors.Is(err, recall.ErrInvalidQuality),
		errors.Is(err, scheduler.ErrInvalidDelay),
		errors.Is(err, scheduler.ErrMissingContent),
		errors.Is(err, scheduler.ErrMissingSource):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})

	case errors.Is(err, scheduler.ErrNotOwner):
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{Error: err.Error()})

	case errors.Is(err, scheduler.ErrNotActive),
		errors.Is(err, storage.ErrNotSuggested):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})

	case storage.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
	}

	s.logger.Error("request failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "internal error"})
}
