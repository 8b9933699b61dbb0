/*
audit.go - Ordered, best-effort audit delivery queue

PURPOSE:
  Decouples audit emission from the lifecycle caller. The lifecycle
  enqueues and returns immediately; a single worker drains the queue in
  enqueue order and delivers to the wrapped sink with retry/backoff.

ORDERING:
  One worker, FIFO queue. An event is not attempted until every event
  enqueued before it has been delivered or dropped, so the submitted ->
  verified/rejected pair for a close can never be observed out of order
  downstream. Events also carry a per-close sequence number as a second
  line of defense for consumers.

DELIVERY:
  At-least-once toward the sink: a retried event may be seen twice.
  After MaxAttempts failures the event is dropped with an error log; a
  stuck sink must not wedge the queue forever.
*/
package recon

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditQueueConfig tunes the delivery queue. Zero values take defaults.
type AuditQueueConfig struct {
	Buffer      int           // queue capacity (default 256)
	MaxAttempts int           // delivery attempts per event (default 5)
	BaseBackoff time.Duration // first retry delay (default 100ms)
	MaxBackoff  time.Duration // backoff cap (default 5s)
}

func (c AuditQueueConfig) withDefaults() AuditQueueConfig {
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	return c
}

// ErrAuditQueueFull is returned by Emit when the buffer is saturated.
// The event is not enqueued; the caller logs and moves on.
var ErrAuditQueueFull = errors.New("audit queue full, event dropped")

// ErrAuditQueueClosed is returned by Emit after Close.
var ErrAuditQueueClosed = errors.New("audit queue closed")

// AuditQueue is an AuditSink that forwards to another sink asynchronously
// while preserving enqueue order.
type AuditQueue struct {
	sink    AuditSink
	cfg     AuditQueueConfig
	logger  *zap.Logger
	metrics Metrics

	events chan AuditEvent

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewAuditQueue creates and starts the delivery worker.
// logger may be nil.
func NewAuditQueue(sink AuditSink, cfg AuditQueueConfig, logger *zap.Logger) *AuditQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &AuditQueue{
		sink:    sink,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: NopMetrics{},
		events:  make(chan AuditEvent, cfg.withDefaults().Buffer),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// WithMetrics attaches a metrics implementation.
func (q *AuditQueue) WithMetrics(m Metrics) *AuditQueue {
	if m != nil {
		q.metrics = m
	}
	return q
}

// Emit enqueues an event without blocking. ErrAuditQueueFull if the
// buffer is saturated, ErrAuditQueueClosed after Close.
func (q *AuditQueue) Emit(_ context.Context, event AuditEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrAuditQueueClosed
	}
	select {
	case q.events <- event:
		return nil
	default:
		return ErrAuditQueueFull
	}
}

// Close stops accepting events and waits for the queue to drain, up to
// the context deadline.
func (q *AuditQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.events)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *AuditQueue) run() {
	defer q.wg.Done()
	for event := range q.events {
		q.deliver(event)
	}
}

// deliver attempts one event with exponential backoff until it sticks or
// attempts are exhausted.
func (q *AuditQueue) deliver(event AuditEvent) {
	var lastErr error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		lastErr = q.sink.Emit(context.Background(), event)
		if lastErr == nil {
			return
		}
		if attempt < q.cfg.MaxAttempts {
			q.metrics.AuditRetried()
			time.Sleep(q.backoff(attempt))
		}
	}

	q.metrics.AuditDropped()
	q.logger.Error("audit event dropped after retries exhausted",
		zap.String("event_id", event.ID),
		zap.String("close_id", string(event.CloseID)),
		zap.String("action", string(event.Action)),
		zap.Int("attempts", q.cfg.MaxAttempts),
		zap.Error(lastErr),
	)
}

// backoff returns base * 2^(attempt-1), capped.
func (q *AuditQueue) backoff(attempt int) time.Duration {
	d := time.Duration(float64(q.cfg.BaseBackoff) * math.Pow(2, float64(attempt-1)))
	if d > q.cfg.MaxBackoff {
		return q.cfg.MaxBackoff
	}
	return d
}
