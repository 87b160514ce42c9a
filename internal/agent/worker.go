package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"clawgate/internal/domain"
	"clawgate/internal/metrics"
)

const (
	defaultWorkers     = 5
	DefaultTaskTimeout = 300 * time.Second
)

// Source is the receive side of the task queue.
type Source interface {
	Subscribe() <-chan domain.Channel
	Len() int
}

// PoolConfig holds the worker pool settings.
type PoolConfig struct {
	Source    Source
	Processor *Processor
	Workers   int
	// TaskTimeout bounds one task, including time spent waiting on
	// confirmations.
	TaskTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Collector
}

// Pool runs message tasks on a fixed number of workers. Each task occupies
// one worker until it finishes.
type Pool struct {
	source    Source
	processor *Processor
	workers   int
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Collector
}

func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pool{
		source:    cfg.Source,
		processor: cfg.Processor,
		workers:   cfg.Workers,
		timeout:   cfg.TaskTimeout,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Workers reports the configured worker count.
func (p *Pool) Workers() int { return p.workers }

// Run consumes tasks until ctx is done or the queue is closed, then waits
// for the running tasks. Cancelling ctx stops new tasks from starting but
// does not interrupt running ones; they end on their own timeout. Tasks
// still queued after cancellation are discarded as the queue drains, so Run
// returns once the queue is closed.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("worker pool started", "workers", p.workers, "task_timeout", p.timeout)
	tasks := p.source.Subscribe()

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.work(ctx, worker, tasks)
		}(i + 1)
	}
	wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) work(ctx context.Context, worker int, tasks <-chan domain.Channel) {
	for {
		select {
		case <-ctx.Done():
			for ch := range tasks {
				p.processor.Discard(ctx, ch)
			}
			return
		case ch, ok := <-tasks:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				p.processor.Discard(ctx, ch)
				continue
			}
			p.metrics.QueueDepth(p.source.Len())
			p.logger.Debug("task started", "worker", worker, "channel", ch.Identifier())
			p.RunTask(ctx, ch)
		}
	}
}

// RunTask runs one task under the task timeout, detached from the
// cancellation of ctx.
func (p *Pool) RunTask(ctx context.Context, ch domain.Channel) string {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	return p.processor.Run(tctx, ch)
}
