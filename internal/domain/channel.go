package domain

import (
	"context"
	"strings"
	"time"
)

// DefaultConfirmTimeout bounds how long Confirm waits for a human reply.
const DefaultConfirmTimeout = 120 * time.Second

// Channel is one conversational endpoint on one protocol (Telegram chat,
// Slack channel, email sender, terminal session). A Channel is built from
// exactly one inbound message and is owned by the task processing it.
type Channel interface {
	// Identifier is the stable "<protocol>:<endpoint>" correlation key.
	Identifier() string
	Text() string
	Attachments() []Attachment

	Send(ctx context.Context, message string) error
	// Acknowledge signals "processing started". Best effort; errors are
	// logged by the implementation and never returned.
	Acknowledge(ctx context.Context)
	SendAudio(ctx context.Context, path, caption string) error
	SendPhoto(ctx context.Context, disk, path string) error

	// Confirm asks the user to approve an action and blocks until a reply
	// arrives or timeout elapses. A timeout is reported as (false, nil).
	Confirm(ctx context.Context, message string, timeout time.Duration) (bool, error)
}

// Protocol returns the protocol part of a channel identifier.
func Protocol(identifier string) string {
	protocol, _, _ := strings.Cut(identifier, ":")
	return protocol
}
