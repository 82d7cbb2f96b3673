package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// EnqueuedJob is one recorded Enqueue call.
type EnqueuedJob struct {
	Topic   string
	Payload []byte
}

// RecordingDispatcher records enqueued jobs without running anything. Use it
// to assert that a code path emitted the right job.
type RecordingDispatcher struct {
	mu   sync.Mutex
	Jobs []EnqueuedJob

	// FailEnqueue causes Enqueue to return an error.
	FailEnqueue bool
}

func NewRecordingDispatcher() *RecordingDispatcher {
	return &RecordingDispatcher{
		Jobs: make([]EnqueuedJob, 0),
	}
}

func (d *RecordingDispatcher) Enqueue(_ context.Context, topic string, payload any) error {
	if d.FailEnqueue {
		return fmt.Errorf("mock enqueue failure for: %s", topic)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.Jobs = append(d.Jobs, EnqueuedJob{Topic: topic, Payload: data})
	return nil
}

func (d *RecordingDispatcher) Close() error {
	return nil
}
