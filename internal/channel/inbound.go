package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clawgate/internal/attachment"
	"clawgate/internal/domain"
	"clawgate/internal/metrics"
)

const cleanupTimeout = 10 * time.Second

// BuildFunc constructs the channel for an event once it is known not to be a
// confirmation reply. Attachment downloads happen inside it.
type BuildFunc func(ctx context.Context) (domain.Channel, error)

// DispatcherConfig configures the shared inbound path.
type DispatcherConfig struct {
	Env     Env
	Queue   domain.TaskQueue
	Metrics *metrics.Collector
}

// Dispatcher runs the inbound contract every adapter shares: divert answers
// to a pending confirmation, drop empty messages, enqueue the rest.
type Dispatcher struct {
	env     Env
	queue   domain.TaskQueue
	metrics *metrics.Collector
	logger  *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		env:     cfg.Env,
		queue:   cfg.Queue,
		metrics: cfg.Metrics,
		logger:  cfg.Env.logger(),
	}
}

// Env returns the environment channels built by adapters should carry.
func (d *Dispatcher) Env() Env { return d.env }

// Dispatch handles one inbound event for identifier. text is the plain text
// of the event, used only when it answers a pending confirmation. The
// returned outcome is one of the metrics.Inbound* values.
func (d *Dispatcher) Dispatch(ctx context.Context, identifier, text string, build BuildFunc) (string, error) {
	protocol := domain.Protocol(identifier)
	logger := d.logger.With("channel", identifier)

	pending, err := d.env.Coordinator.Pending(ctx, identifier)
	if err != nil {
		d.metrics.InboundObserved(protocol, metrics.InboundFailed)
		return metrics.InboundFailed, err
	}
	if pending {
		if text != "" {
			if err := d.env.Coordinator.Deliver(ctx, identifier, text); err != nil {
				d.metrics.InboundObserved(protocol, metrics.InboundFailed)
				return metrics.InboundFailed, err
			}
		}
		logger.Debug("inbound text diverted to pending confirmation")
		d.metrics.InboundObserved(protocol, metrics.InboundDiverted)
		return metrics.InboundDiverted, nil
	}

	ch, err := build(ctx)
	if err != nil {
		d.metrics.InboundObserved(protocol, metrics.InboundFailed)
		return metrics.InboundFailed, fmt.Errorf("build channel: %w", err)
	}

	if strings.TrimSpace(ch.Text()) == "" && len(ch.Attachments()) == 0 {
		logger.Debug("empty inbound message dropped")
		d.metrics.InboundObserved(protocol, metrics.InboundDropped)
		return metrics.InboundDropped, nil
	}

	if err := d.queue.Enqueue(ctx, ch); err != nil {
		d.discard(ch)
		d.metrics.InboundObserved(protocol, metrics.InboundFailed)
		return metrics.InboundFailed, fmt.Errorf("enqueue task: %w", err)
	}
	logger.Info("message task queued",
		"text_len", len(ch.Text()),
		"attachments", len(ch.Attachments()),
	)
	d.metrics.InboundObserved(protocol, metrics.InboundEnqueued)
	return metrics.InboundEnqueued, nil
}

// Ignore records an event the adapter filtered out before dispatch (bot
// authors, unsupported event types).
func (d *Dispatcher) Ignore(protocol string) {
	d.metrics.InboundObserved(protocol, metrics.InboundIgnored)
}

// discard removes the attachments of a channel that never became a task.
func (d *Dispatcher) discard(ch domain.Channel) {
	if d.env.Store == nil || len(ch.Attachments()) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := d.env.Store.Cleanup(ctx, ch.Attachments()); err != nil {
		d.logger.Warn("attachment cleanup failed", "channel", ch.Identifier(), "error", err)
	}
}

// fetchAll downloads remote files into the store. A file that fails to
// download is logged and skipped so the rest of the message still goes
// through.
func fetchAll(ctx context.Context, fetcher *attachment.Fetcher, protocol string, remotes []attachment.Remote, logger *slog.Logger) []domain.Attachment {
	var out []domain.Attachment
	for _, r := range remotes {
		a, err := fetcher.Fetch(ctx, protocol, r)
		if err != nil {
			logger.Warn("attachment download failed", "protocol", protocol, "file", r.Filename, "error", err)
			continue
		}
		out = append(out, a)
	}
	return out
}
