// Package syncd provides a synchronous in-memory dispatcher for tests and
// development mode: Enqueue runs the handler inline and returns its error.
package syncd

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/engramhq/engram/pkg/dispatch"
)

// Dispatcher executes jobs inline on the calling goroutine.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[string]dispatch.Handler
}

var _ dispatch.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher creates an empty synchronous dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]dispatch.Handler),
	}
}

// Handle registers the handler for a topic.
func (d *Dispatcher) Handle(topic string, h dispatch.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[topic] = h
}

// Enqueue marshals the payload and runs the topic's handler immediately.
func (d *Dispatcher) Enqueue(ctx context.Context, topic string, payload any) error {
	d.mu.Lock()
	handler, ok := d.handlers[topic]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", dispatch.ErrUnknownTopic, topic)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}
	return handler(ctx, data)
}

// Close is a no-op.
func (d *Dispatcher) Close() error {
	return nil
}
