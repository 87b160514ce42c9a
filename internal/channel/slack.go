package channel

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"clawgate/internal/domain"
)

const (
	slackMaxMsgLen        = 40000
	slackMaxPhotoBytes    = 50 << 20
	slackAcknowledgeEmoji = "thumbsup"
)

// SlackAPI is the part of *slack.Client the channel uses.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

// Slack is one Slack conversation. Replies go to the thread of the inbound
// message; when none is known the first reply starts one.
type Slack struct {
	Base

	channelID string
	messageTS string
	api       SlackAPI

	mu       sync.Mutex
	threadTS string
}

func newSlack(channelID, threadTS, messageTS, text string, attachments []domain.Attachment, api SlackAPI, env Env) *Slack {
	return &Slack{
		Base:      newBase(SlackIdentifier(channelID), text, attachments, env),
		channelID: channelID,
		messageTS: messageTS,
		threadTS:  threadTS,
		api:       api,
	}
}

// SlackIdentifier is the channel identity of a Slack conversation.
func SlackIdentifier(channelID string) string { return "slack:" + channelID }

// Acknowledge reacts to the inbound message.
func (s *Slack) Acknowledge(ctx context.Context) {
	if s.messageTS == "" {
		return
	}
	ref := slack.NewRefToMessage(s.channelID, s.messageTS)
	if err := s.api.AddReactionContext(ctx, slackAcknowledgeEmoji, ref); err != nil {
		s.log().Warn("slack reaction failed", "error", err)
	}
}

func (s *Slack) Send(ctx context.Context, message string) error {
	for _, chunk := range splitMessage(message, slackMaxMsgLen) {
		opts := []slack.MsgOption{slack.MsgOptionText(chunk, false)}
		thread := s.thread()
		if thread != "" {
			opts = append(opts, slack.MsgOptionTS(thread))
		}
		_, ts, err := s.api.PostMessageContext(ctx, s.channelID, opts...)
		if err != nil {
			return fmt.Errorf("slack post message: %w", err)
		}
		if thread == "" && ts != "" {
			s.setThread(ts)
		}
	}
	return nil
}

// SendAudio uploads the file into the thread with caption as its title. If
// the upload fails the caption is sent as text so the reply is not lost.
func (s *Slack) SendAudio(ctx context.Context, filePath, caption string) error {
	err := s.uploadFile(ctx, filePath, caption)
	if err == nil {
		return nil
	}
	s.log().Warn("slack audio upload failed, sending text", "path", filePath, "error", err)
	if caption == "" {
		caption = "Audio reply generated."
	}
	return s.Send(ctx, caption)
}

// SendPhoto uploads an image from the attachment store.
func (s *Slack) SendPhoto(ctx context.Context, disk, p string) error {
	data, err := s.env.Store.ReadAll(ctx, disk, p, slackMaxPhotoBytes)
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}
	name := path.Base(p)
	_, err = s.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Reader:          bytes.NewReader(data),
		FileSize:        len(data),
		Filename:        name,
		Title:           name,
		Channel:         s.channelID,
		ThreadTimestamp: s.thread(),
	})
	if err != nil {
		return fmt.Errorf("slack upload photo: %w", err)
	}
	return nil
}

func (s *Slack) Confirm(ctx context.Context, message string, timeout time.Duration) (bool, error) {
	return s.env.Coordinator.Confirm(ctx, s, message, timeout)
}

func (s *Slack) uploadFile(ctx context.Context, filePath, title string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	name := filepath.Base(filePath)
	if title == "" {
		title = name
	}
	_, err = s.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Reader:          f,
		FileSize:        int(info.Size()),
		Filename:        name,
		Title:           title,
		Channel:         s.channelID,
		ThreadTimestamp: s.thread(),
	})
	return err
}

func (s *Slack) thread() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadTS
}

func (s *Slack) setThread(ts string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadTS == "" {
		s.threadTS = ts
	}
}
