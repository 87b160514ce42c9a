// Package bus is the in-process task queue between inbound adapters and the
// worker pool. Every enqueued channel is received by exactly one worker.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"clawgate/internal/domain"
	"clawgate/internal/metrics"
)

const enqueueTimeout = 10 * time.Second

var (
	ErrClosed    = errors.New("task queue closed")
	ErrQueueFull = errors.New("task queue full")
)

// InMemoryBus is a buffered Go channel of pending tasks.
type InMemoryBus struct {
	tasks   chan domain.Channel
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
	metrics *metrics.Collector
	wait    time.Duration
}

// New creates an InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger, m *metrics.Collector) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		tasks:   make(chan domain.Channel, bufferSize),
		logger:  logger,
		metrics: m,
		wait:    enqueueTimeout,
	}
}

// Enqueue blocks up to 10 seconds if the queue is full instead of dropping.
func (b *InMemoryBus) Enqueue(ctx context.Context, ch domain.Channel) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	select {
	case b.tasks <- ch:
		b.metrics.QueueDepth(len(b.tasks))
		return nil
	default:
	}

	b.logger.Warn("task queue full, waiting", "channel", ch.Identifier())
	timer := time.NewTimer(b.wait)
	defer timer.Stop()
	select {
	case b.tasks <- ch:
		b.logger.Info("task queued after wait", "channel", ch.Identifier())
		b.metrics.QueueDepth(len(b.tasks))
		return nil
	case <-timer.C:
		b.logger.Error("task dropped: queue full", "channel", ch.Identifier(), "waited", b.wait)
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns the receive side of the queue. It is closed by Close.
func (b *InMemoryBus) Subscribe() <-chan domain.Channel {
	return b.tasks
}

// Len reports how many tasks are waiting.
func (b *InMemoryBus) Len() int {
	return len(b.tasks)
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.tasks)
	}
}
