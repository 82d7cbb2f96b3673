// Package dispatch provides the job-dispatch boundary for the engram core.
//
// The core only assumes an enqueue/handle contract: background work is
// submitted as (topic, payload) pairs and executed by registered handlers.
// Whether jobs run on an in-process worker pool or flow through a broker is a
// transport decision; tests can inject the synchronous syncd dispatcher.
package dispatch

import (
	"context"
	"errors"
	"fmt"
)

const (
	// TopicCanonicalize carries CanonicalizePayload jobs, one per ingested
	// chunk.
	TopicCanonicalize = "engram.chunk.canonicalize"

	// TopicSubmitReview carries ReviewPayload jobs, one per review
	// submission.
	TopicSubmitReview = "engram.recall.review"
)

// CanonicalizePayload asks the canonicalization engine to process one chunk.
type CanonicalizePayload struct {
	ChunkID string `json:"chunk_id"`
}

// ReviewPayload asks the recall scheduler to apply one review outcome.
type ReviewPayload struct {
	UserID       string `json:"user_id"`
	RecallItemID string `json:"recall_item_id"`
	Quality      int    `json:"quality"`
}

// Handler executes one job. Returning an error marks the job failed; the
// dispatcher may retry up to its attempt bound. Handlers must therefore be
// idempotent.
type Handler func(ctx context.Context, payload []byte) error

// Dispatcher submits jobs for asynchronous execution.
type Dispatcher interface {
	// Enqueue submits a payload for the topic. The payload is marshaled to
	// JSON at enqueue time so the caller's value can be reused.
	Enqueue(ctx context.Context, topic string, payload any) error

	// Close stops accepting jobs and drains in-flight work.
	Close() error
}

var (
	// ErrUnknownTopic is returned when no handler is registered for a topic.
	ErrUnknownTopic = errors.New("no handler registered for topic")

	// ErrQueueFull is returned when the dispatcher cannot accept more work.
	ErrQueueFull = errors.New("dispatch queue full")

	// ErrClosed is returned when enqueueing on a closed dispatcher.
	ErrClosed = errors.New("dispatcher closed")

	// ErrPermanent marks handler failures that retrying cannot fix
	// (validation, authorization, missing rows). Dispatchers fail such jobs
	// immediately instead of burning attempts.
	ErrPermanent = errors.New("permanent job failure")
)

// Permanent wraps err so dispatchers skip retries for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}
