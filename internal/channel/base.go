// Package channel holds the protocol variants of domain.Channel and the
// inbound adapters that build them from webhook payloads, mailboxes, the
// Discord gateway and the local terminal.
package channel

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"clawgate/internal/attachment"
	"clawgate/internal/coordination"
	"clawgate/internal/domain"
)

// Env is what every channel needs besides its protocol client.
type Env struct {
	Coordinator *coordination.Coordinator
	Store       *attachment.Store
	Logger      *slog.Logger
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Base carries the inbound message of a channel. Variants embed it and add
// their own Send and Confirm.
type Base struct {
	identifier  string
	text        string
	attachments []domain.Attachment

	env Env
}

func newBase(identifier, text string, attachments []domain.Attachment, env Env) Base {
	return Base{
		identifier:  identifier,
		text:        text,
		attachments: attachments,
		env:         env,
	}
}

func (b *Base) Identifier() string { return b.identifier }

func (b *Base) Text() string { return b.text }

func (b *Base) Attachments() []domain.Attachment { return b.attachments }

// Acknowledge does nothing unless the protocol has a typing indicator or
// reaction to show.
func (b *Base) Acknowledge(context.Context) {}

// SendAudio is a no-op for protocols that cannot carry audio.
func (b *Base) SendAudio(context.Context, string, string) error { return nil }

// SendPhoto is a no-op for protocols that cannot carry images.
func (b *Base) SendPhoto(context.Context, string, string) error { return nil }

func (b *Base) log() *slog.Logger {
	return b.env.logger().With("channel", b.identifier)
}

// splitMessage splits a message into chunks of at most maxLen bytes,
// preferring to cut after a newline in the second half of the window and
// never cutting inside a UTF-8 sequence.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
