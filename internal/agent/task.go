// Package agent runs message tasks: each accepted inbound message is
// acknowledged, resolved to a bot user, matched against commands and
// otherwise answered by the responder over its originating channel.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"clawgate/internal/attachment"
	"clawgate/internal/command"
	"clawgate/internal/domain"
	"clawgate/internal/metrics"
	"clawgate/internal/tool"
)

const (
	// Apology is sent when a task fails.
	Apology = "Sorry, something went wrong processing your message. Please try again."

	cleanupTimeout = 10 * time.Second
)

// ProcessorConfig holds the collaborators of a message task.
type ProcessorConfig struct {
	Responder    *Responder
	Commands     *command.Registry
	Store        *attachment.Store
	Memory       domain.MemoryStore
	Coordination domain.CoordinationStore
	// Transcriber is optional; without it audio-only messages carry no text.
	Transcriber domain.Transcriber
	Logger      *slog.Logger
	Metrics     *metrics.Collector
}

// Processor runs the message task pipeline for one channel at a time.
// It is safe for concurrent use by several workers.
type Processor struct {
	responder    *Responder
	commands     *command.Registry
	store        *attachment.Store
	memory       domain.MemoryStore
	coordination domain.CoordinationStore
	transcriber  domain.Transcriber
	logger       *slog.Logger
	metrics      *metrics.Collector
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Commands == nil {
		cfg.Commands = command.NewRegistry()
	}
	return &Processor{
		responder:    cfg.Responder,
		commands:     cfg.Commands,
		store:        cfg.Store,
		memory:       cfg.Memory,
		coordination: cfg.Coordination,
		transcriber:  cfg.Transcriber,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
}

// Run processes the message held by ch exactly once and returns the task
// outcome. Attachments are removed afterwards whatever happened. A failure
// is logged and answered with an apology; it is never retried.
func (p *Processor) Run(ctx context.Context, ch domain.Channel) string {
	start := time.Now()
	id := ch.Identifier()
	audio := &tool.PendingAudio{}

	outcome, err := p.safeHandle(ctx, ch, audio)

	// The task context may already be over; cleanup and the apology get
	// their own short deadline.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	p.cleanup(bg, ch, audio)

	if err != nil {
		outcome = metrics.TaskFailed
		p.logger.Error("message task failed", "channel", id, "error", err)
		if serr := ch.Send(bg, Apology); serr != nil {
			p.logger.Warn("failed to send apology", "channel", id, "error", serr)
		}
	}

	d := time.Since(start)
	p.metrics.TaskFinished(domain.Protocol(id), outcome, d)
	p.logger.Info("message task finished", "channel", id, "outcome", outcome, "duration", d)
	return outcome
}

// Discard drops a task that will never run and removes its attachments.
func (p *Processor) Discard(ctx context.Context, ch domain.Channel) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	p.cleanup(bg, ch, &tool.PendingAudio{})
	p.logger.Warn("message task discarded on shutdown", "channel", ch.Identifier())
}

func (p *Processor) safeHandle(ctx context.Context, ch domain.Channel, audio *tool.PendingAudio) (outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("message task panicked", "channel", ch.Identifier(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.handle(ctx, ch, audio)
}

func (p *Processor) handle(ctx context.Context, ch domain.Channel, audio *tool.PendingAudio) (string, error) {
	id := ch.Identifier()
	ch.Acknowledge(ctx)

	text := ch.Text()
	if strings.TrimSpace(text) == "" && p.transcriber != nil {
		if a, ok := domain.FirstOfKind(ch.Attachments(), domain.KindAudio); ok {
			transcript, err := transcribe(ctx, p.store, p.transcriber, a)
			if err != nil {
				return "", err
			}
			text = transcript
			p.logger.Debug("transcribed audio", "channel", id, "chars", len(text))
		}
	}

	var atts []domain.MessageAttachment
	if p.store != nil {
		var err error
		if atts, err = translateAttachments(ctx, p.store, ch.Attachments()); err != nil {
			return "", err
		}
	}

	user, err := resolveUser(ctx, p.memory, id)
	if err != nil {
		return "", err
	}

	if cmd, ok := p.commands.Match(text); ok {
		p.logger.Info("running command", "channel", id, "command", cmd.Prefix())
		reply, err := cmd.Handle(ctx, ch, user)
		if err != nil {
			return "", fmt.Errorf("command %s: %w", cmd.Prefix(), err)
		}
		if reply != "" {
			if err := ch.Send(ctx, reply); err != nil {
				return "", fmt.Errorf("send command reply: %w", err)
			}
		}
		return metrics.TaskCommand, nil
	}

	if strings.TrimSpace(text) == "" && len(atts) == 0 {
		p.logger.Info("nothing to answer", "channel", id, "attachments", len(ch.Attachments()))
		return metrics.TaskSkipped, nil
	}

	conv, err := p.conversation(ctx, user)
	if err != nil {
		return "", err
	}

	photo := &tool.PendingPhoto{}
	reply, err := p.responder.Respond(ctx, Request{
		Channel:      ch,
		User:         user,
		Conversation: conv,
		Text:         text,
		Attachments:  atts,
		Audio:        audio,
		Photo:        photo,
	})
	if err != nil {
		return "", fmt.Errorf("respond: %w", err)
	}

	if path := audio.Path(); path != "" {
		if err := ch.SendAudio(ctx, path, reply); err != nil {
			return "", fmt.Errorf("send audio reply: %w", err)
		}
	} else if err := ch.Send(ctx, reply); err != nil {
		return "", fmt.Errorf("send reply: %w", err)
	}

	// A failed photo upload does not fail the task.
	if disk, path := photo.Get(); path != "" {
		if err := ch.SendPhoto(ctx, disk, path); err != nil {
			p.logger.Warn("failed to send photo", "channel", id, "disk", disk, "path", path, "error", err)
		}
	}
	return metrics.TaskReplied, nil
}

// conversation returns the latest conversation of user, or nil when a
// reset was requested or none exists yet.
func (p *Processor) conversation(ctx context.Context, user domain.User) (*domain.Conversation, error) {
	if p.coordination != nil {
		reset, err := command.TakeReset(ctx, p.coordination, user.ID)
		if err != nil {
			p.logger.Warn("could not check conversation reset", "user", user.ID, "error", err)
		}
		if reset {
			return nil, nil
		}
	}
	conv, err := p.memory.LatestConversation(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("latest conversation: %w", err)
	}
	return conv, nil
}

func (p *Processor) cleanup(ctx context.Context, ch domain.Channel, audio *tool.PendingAudio) {
	if err := audio.Discard(); err != nil {
		p.logger.Warn("failed to remove audio reply", "channel", ch.Identifier(), "error", err)
	}
	atts := ch.Attachments()
	if p.store == nil || len(atts) == 0 {
		return
	}
	if err := p.store.Cleanup(ctx, atts); err != nil {
		p.logger.Warn("failed to clean up attachments", "channel", ch.Identifier(), "error", err)
	}
}
