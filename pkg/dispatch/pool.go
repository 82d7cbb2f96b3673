package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	defaultNumWorkers  uint = 3
	defaultQueueSize   uint = 256
	defaultMaxAttempts      = 3
	defaultRetryDelay       = 500 * time.Millisecond
)

// PoolConfig configures the in-process worker pool.
type PoolConfig struct {
	// NumWorkers is the number of background workers (default 3).
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (default 256).
	QueueSize uint

	// MaxAttempts bounds executions per job, initial try included
	// (default 3). Handlers are idempotent, so re-running a partially
	// applied job is safe.
	MaxAttempts int

	// RetryDelay is the pause between attempts (default 500ms).
	RetryDelay time.Duration

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

type poolJob struct {
	topic   string
	payload []byte
}

// Pool processes jobs asynchronously via an in-process worker pool. It
// implements Dispatcher.
type Pool struct {
	config   *PoolConfig
	handlers map[string]Handler
	queue    chan poolJob
	wg       sync.WaitGroup
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
}

var _ Dispatcher = (*Pool)(nil)

// NewPool creates a pool and starts its worker goroutines. Handlers must be
// registered with Handle before the corresponding topics are enqueued.
func NewPool(c *PoolConfig) (*Pool, error) {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = defaultRetryDelay
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	p := &Pool{
		config:   c,
		handlers: make(map[string]Handler),
		queue:    make(chan poolJob, c.QueueSize),
		logger:   c.Logger,
	}

	p.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go p.worker(i)
	}

	return p, nil
}

// Handle registers the handler for a topic, replacing any previous one.
func (p *Pool) Handle(topic string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[topic] = h
}

// Enqueue submits a job for processing. It fails fast when the topic has no
// handler or the queue is full; callers validate payloads before enqueueing,
// so nothing invalid ever enters the queue.
func (p *Pool) Enqueue(_ context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}

	// The send happens under the mutex so Close cannot close the channel
	// between the closed check and the send.
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("%w: %s", ErrClosed, topic)
	}
	if _, ok := p.handlers[topic]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	select {
	case p.queue <- poolJob{topic: topic, payload: data}:
		p.logger.Debug("job queued", zap.String("topic", topic))
		return nil
	default:
		p.logger.Error("job dropped, queue full", zap.String("topic", topic))
		return fmt.Errorf("%w: %s", ErrQueueFull, topic)
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the HTTP server has stopped.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.queue)
	p.wg.Wait()
	return nil
}

func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("dispatch worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		p.process(job)
	}

	p.logger.Debug("dispatch worker stopped", zap.Uint("worker_id", id))
}

func (p *Pool) process(job poolJob) {
	p.mu.Lock()
	handler := p.handlers[job.topic]
	p.mu.Unlock()
	if handler == nil {
		p.logger.Error("handler disappeared for queued job", zap.String("topic", job.topic))
		return
	}

	ctx := context.Background()

	var err error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if err = handler(ctx, job.payload); err == nil {
			if attempt > 1 {
				p.logger.Info("job succeeded after retry",
					zap.String("topic", job.topic),
					zap.Int("attempt", attempt),
				)
			}
			return
		}

		if errors.Is(err, ErrPermanent) {
			p.logger.Error("job failed permanently, not retrying",
				zap.String("topic", job.topic),
				zap.Error(err),
			)
			return
		}

		p.logger.Warn("job attempt failed",
			zap.String("topic", job.topic),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < p.config.MaxAttempts {
			time.Sleep(p.config.RetryDelay)
		}
	}

	p.logger.Error("job failed permanently",
		zap.String("topic", job.topic),
		zap.Int("attempts", p.config.MaxAttempts),
		zap.Error(err),
	)
}
