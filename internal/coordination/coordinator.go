// Package coordination implements the human confirmation handshake between a
// worker blocked inside a task and the inbound adapter that later receives
// the user's answer. Both sides only share a domain.CoordinationStore.
package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clawgate/internal/domain"
	"clawgate/internal/metrics"
)

const (
	flagPrefix  = "awaiting_confirm:"
	replyPrefix = "confirm:"

	// cleanupTimeout bounds the unconditional flag removal after a wait.
	cleanupTimeout = 5 * time.Second
)

// FlagKey is the pending-confirmation flag for a channel identity.
func FlagKey(identifier string) string { return flagPrefix + identifier }

// ReplyKey is the reply queue for a channel identity.
func ReplyKey(identifier string) string { return replyPrefix + identifier }

// PromptText is what the user sees when asked to confirm.
func PromptText(message string) string {
	return fmt.Sprintf("⚠️ %s Reply 'Yes' to confirm.", message)
}

// IsAffirmative reports whether a reply approves the request. Only the
// exact word "yes", in any case, does; surrounding text or whitespace denies.
func IsAffirmative(reply string) bool {
	return strings.EqualFold(reply, "yes")
}

// Prompter is the part of a channel the coordinator needs.
type Prompter interface {
	Identifier() string
	Send(ctx context.Context, message string) error
}

type Config struct {
	Store domain.CoordinationStore
	// Timeout applies when Confirm is called without one.
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

type Coordinator struct {
	store   domain.CoordinationStore
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Collector
}

func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = domain.DefaultConfirmTimeout
	}
	return &Coordinator{
		store:   cfg.Store,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Store exposes the backing store for short-lived markers.
func (c *Coordinator) Store() domain.CoordinationStore { return c.store }

// Confirm raises the pending flag for p, sends the prompt and waits up to
// timeout for a reply delivered through Deliver. A timeout or any reply other
// than "yes" yields false. The flag is always cleared before returning.
func (c *Coordinator) Confirm(ctx context.Context, p Prompter, message string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	id := p.Identifier()
	protocol := domain.Protocol(id)

	if err := c.store.SetWithTTL(ctx, FlagKey(id), timeout); err != nil {
		return false, fmt.Errorf("raise confirmation flag: %w", err)
	}
	defer c.clearFlag(ctx, id)

	if _, err := c.store.Delete(ctx, ReplyKey(id)); err != nil {
		return false, fmt.Errorf("clear stale replies: %w", err)
	}

	if err := p.Send(ctx, PromptText(message)); err != nil {
		return false, fmt.Errorf("send confirmation prompt: %w", err)
	}

	reply, ok, err := c.store.BlockingPop(ctx, ReplyKey(id), timeout)
	if err != nil {
		return false, fmt.Errorf("wait for confirmation: %w", err)
	}
	if !ok {
		c.logger.Info("confirmation timed out", "channel", id, "timeout", timeout)
		c.metrics.ConfirmationResolved(protocol, metrics.ConfirmTimedOut)
		return false, nil
	}

	confirmed := IsAffirmative(reply)
	result := metrics.ConfirmDenied
	if confirmed {
		result = metrics.ConfirmConfirmed
	}
	c.logger.Debug("confirmation resolved", "channel", id, "result", result)
	c.metrics.ConfirmationResolved(protocol, result)
	return confirmed, nil
}

// Pending reports whether a confirmation is outstanding for identifier.
func (c *Coordinator) Pending(ctx context.Context, identifier string) (bool, error) {
	ok, err := c.store.Exists(ctx, FlagKey(identifier))
	if err != nil {
		return false, fmt.Errorf("check confirmation flag: %w", err)
	}
	return ok, nil
}

// Deliver hands a user's reply to the waiting Confirm call.
func (c *Coordinator) Deliver(ctx context.Context, identifier, text string) error {
	if err := c.store.Push(ctx, ReplyKey(identifier), text); err != nil {
		return fmt.Errorf("deliver confirmation reply: %w", err)
	}
	return nil
}

func (c *Coordinator) clearFlag(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if _, err := c.store.Delete(ctx, FlagKey(id)); err != nil {
		c.logger.Warn("clear confirmation flag failed", "channel", id, "error", err)
	}
}
