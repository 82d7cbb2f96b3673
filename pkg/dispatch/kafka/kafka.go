// Package kafka provides a Kafka-backed job transport. The publisher side
// implements dispatch.Dispatcher by writing transport-neutral job envelopes;
// the consumer side feeds envelopes back into registered handlers, so workers
// can run in a separate process from the API server.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/dispatch"
)

// SchemaVersionV1 is the first version of the job envelope schema.
const SchemaVersionV1 = 1

// Envelope is the wire format for one dispatched job.
type Envelope struct {
	SchemaVersion int             `json:"schema_version"`
	JobID         string          `json:"job_id"`
	Topic         string          `json:"topic"`
	EmittedAt     time.Time       `json:"emitted_at"`
	Payload       json.RawMessage `json:"payload"`
}

// Config holds broker settings shared by publisher and consumer.
type Config struct {
	// Brokers is the list of Kafka bootstrap addresses.
	Brokers []string

	// Topic is the Kafka topic carrying engram job envelopes. The dispatch
	// topic travels inside the envelope, not as the Kafka topic.
	Topic string

	// GroupID is the consumer group id (consumer only).
	GroupID string
}

// Publisher implements dispatch.Dispatcher over a Kafka writer.
type Publisher struct {
	writer *kafkago.Writer
	logger *zap.Logger
}

var _ dispatch.Dispatcher = (*Publisher)(nil)

// NewPublisher creates a Kafka-backed dispatcher.
func NewPublisher(c Config, logger *zap.Logger) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if c.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}

	logger.Info("kafka dispatcher initialized",
		zap.Strings("brokers", c.Brokers),
		zap.String("topic", c.Topic),
	)

	return &Publisher{
		writer: writer,
		logger: logger,
	}, nil
}

// Enqueue wraps the payload in an envelope and writes it to the stream. The
// dispatch topic becomes the message key so jobs for one topic keep ordering
// within a partition.
func (p *Publisher) Enqueue(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}

	env := Envelope{
		SchemaVersion: SchemaVersionV1,
		JobID:         uuid.NewString(),
		Topic:         topic,
		EmittedAt:     time.Now().UTC(),
		Payload:       data,
	}

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope for %s: %w", topic, err)
	}

	if err := p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(topic),
		Value: value,
	}); err != nil {
		return fmt.Errorf("writing job to kafka: %w", err)
	}

	p.logger.Debug("job published",
		zap.String("topic", topic),
		zap.String("job_id", env.JobID),
	)
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Consumer reads job envelopes from Kafka and runs registered handlers.
type Consumer struct {
	reader *kafkago.Reader
	logger *zap.Logger

	mu       sync.Mutex
	handlers map[string]dispatch.Handler
}

// NewConsumer creates a consumer for the configured stream.
func NewConsumer(c Config, logger *zap.Logger) (*Consumer, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if c.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if c.GroupID == "" {
		return nil, fmt.Errorf("group id is required")
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: c.Brokers,
		Topic:   c.Topic,
		GroupID: c.GroupID,
	})

	return &Consumer{
		reader:   reader,
		logger:   logger,
		handlers: make(map[string]dispatch.Handler),
	}, nil
}

// Handle registers the handler for a dispatch topic.
func (c *Consumer) Handle(topic string, h dispatch.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = h
}

// Run consumes envelopes until the context is canceled. Offsets commit only
// after the handler returns, so a crashed worker re-delivers; handlers are
// idempotent by contract.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("fetching message: %w", err)
		}

		var env Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			c.logger.Error("dropping undecodable envelope", zap.Error(err))
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				return fmt.Errorf("committing offset: %w", err)
			}
			continue
		}

		c.mu.Lock()
		handler := c.handlers[env.Topic]
		c.mu.Unlock()

		if handler == nil {
			c.logger.Error("no handler for job topic", zap.String("topic", env.Topic))
		} else if err := handler(ctx, env.Payload); err != nil {
			c.logger.Error("job handler failed",
				zap.String("topic", env.Topic),
				zap.String("job_id", env.JobID),
				zap.Error(err),
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("committing offset: %w", err)
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
