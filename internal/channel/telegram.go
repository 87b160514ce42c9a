package channel

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"clawgate/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxCaptionLen  = 1024
	telegramMaxSendRetries = 3
	telegramMaxPhotoBytes  = 10 << 20
)

// TelegramAPI is the part of *tgbotapi.BotAPI the channel uses.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Telegram is one Telegram chat.
type Telegram struct {
	Base

	chatID    int64
	api       TelegramAPI
	parseMode string
	// backoff is the unit of the retry schedule.
	backoff time.Duration
}

func newTelegram(chatID int64, text string, attachments []domain.Attachment, api TelegramAPI, parseMode string, env Env) *Telegram {
	return &Telegram{
		Base:      newBase(TelegramIdentifier(chatID), text, attachments, env),
		chatID:    chatID,
		api:       api,
		parseMode: parseMode,
		backoff:   time.Second,
	}
}

// TelegramIdentifier is the channel identity of a Telegram chat.
func TelegramIdentifier(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}

// Acknowledge shows the typing indicator.
func (t *Telegram) Acknowledge(ctx context.Context) {
	if _, err := t.api.Request(tgbotapi.NewChatAction(t.chatID, tgbotapi.ChatTyping)); err != nil {
		t.log().Warn("telegram typing indicator failed", "error", err)
	}
}

// Send delivers message in chunks that fit Telegram's length limit.
func (t *Telegram) Send(ctx context.Context, message string) error {
	for _, chunk := range splitMessage(message, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// SendAudio sends path as a voice message. Captions over Telegram's limit
// follow as a regular message.
func (t *Telegram) SendAudio(ctx context.Context, filePath, caption string) error {
	voice := tgbotapi.NewVoice(t.chatID, tgbotapi.FilePath(filePath))
	long := len(caption) > telegramMaxCaptionLen
	if !long {
		voice.Caption = caption
	}
	if _, err := t.api.Send(voice); err != nil {
		return fmt.Errorf("telegram send voice: %w", err)
	}
	if long {
		return t.Send(ctx, caption)
	}
	return nil
}

// SendPhoto uploads an image from the attachment store.
func (t *Telegram) SendPhoto(ctx context.Context, disk, p string) error {
	data, err := t.env.Store.ReadAll(ctx, disk, p, telegramMaxPhotoBytes)
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}
	photo := tgbotapi.NewPhoto(t.chatID, tgbotapi.FileBytes{Name: path.Base(p), Bytes: data})
	if _, err := t.api.Send(photo); err != nil {
		return fmt.Errorf("telegram send photo: %w", err)
	}
	return nil
}

func (t *Telegram) Confirm(ctx context.Context, message string, timeout time.Duration) (bool, error) {
	return t.env.Coordinator.Confirm(ctx, t, message, timeout)
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Markdown is tried first; a parse error falls back to plain text.
func (t *Telegram) sendChunk(ctx context.Context, text string) error {
	var err error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(t.chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		if _, err = t.api.Send(msg); err == nil {
			return nil
		}
		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * t.backoff
			t.log().Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			if werr := sleepCtx(ctx, retryAfter); werr != nil {
				return werr
			}
			continue
		}

		if attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.log().Warn("telegram markdown parse error, retrying as plain text", "error", err)
			if _, err = t.api.Send(tgbotapi.NewMessage(t.chatID, text)); err == nil {
				return nil
			}
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * t.backoff
			t.log().Warn("telegram send error, retrying", "error", err, "backoff", backoff)
			if werr := sleepCtx(ctx, backoff); werr != nil {
				return werr
			}
		}
	}

	t.log().Error("telegram send failed after retries", "error", err, "attempts", telegramMaxSendRetries+1)
	return fmt.Errorf("telegram send: %w", err)
}
