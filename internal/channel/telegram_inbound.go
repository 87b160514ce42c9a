package channel

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"clawgate/internal/attachment"
	"clawgate/internal/domain"
	"clawgate/internal/metrics"
	"clawgate/internal/security"
)

const protocolTelegram = "telegram"

type TelegramAdapterConfig struct {
	API        TelegramAPI
	Dispatcher *Dispatcher
	Fetcher    *attachment.Fetcher
	ParseMode  string
	AllowFrom  []string // user IDs; empty allows everyone
	Logger     *slog.Logger
}

// TelegramAdapter turns webhook updates into Telegram channels.
type TelegramAdapter struct {
	api        TelegramAPI
	dispatcher *Dispatcher
	fetcher    *attachment.Fetcher
	parseMode  string
	allowFrom  []int64
	logger     *slog.Logger
}

func NewTelegramAdapter(cfg TelegramAdapterConfig) *TelegramAdapter {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TelegramAdapter{
		api:        cfg.API,
		dispatcher: cfg.Dispatcher,
		fetcher:    cfg.Fetcher,
		parseMode:  cfg.ParseMode,
		allowFrom:  allowed,
		logger:     cfg.Logger,
	}
}

// ServeHTTP accepts a webhook update. Telegram only needs a 2xx answer; a
// failed dispatch is logged rather than retried by Telegram.
func (a *TelegramAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, security.MaxWebhookBody)).Decode(&update); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if _, err := a.HandleUpdate(r.Context(), update); err != nil {
		a.logger.Error("telegram update failed", "update_id", update.UpdateID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleUpdate dispatches one update and reports the inbound outcome.
func (a *TelegramAdapter) HandleUpdate(ctx context.Context, update tgbotapi.Update) (string, error) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		a.dispatcher.Ignore(protocolTelegram)
		return metrics.InboundIgnored, nil
	}
	if msg.From != nil && !a.isAllowed(msg.From.ID) {
		a.logger.Warn("unauthorized telegram user", "user_id", msg.From.ID, "username", msg.From.UserName)
		a.dispatcher.Ignore(protocolTelegram)
		return metrics.InboundIgnored, nil
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	chatID := msg.Chat.ID

	return a.dispatcher.Dispatch(ctx, TelegramIdentifier(chatID), text, func(ctx context.Context) (domain.Channel, error) {
		attachments := fetchAll(ctx, a.fetcher, protocolTelegram, a.remotes(msg), a.logger)
		return newTelegram(chatID, text, attachments, a.api, a.parseMode, a.dispatcher.Env()), nil
	})
}

// remotes resolves the files of a message. Only the largest photo size is
// kept. Files whose URL cannot be resolved are skipped.
func (a *TelegramAdapter) remotes(msg *tgbotapi.Message) []attachment.Remote {
	type ref struct{ fileID, mimeType, name string }
	var refs []ref

	if len(msg.Photo) > 0 {
		largest := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.FileSize > largest.FileSize {
				largest = p
			}
		}
		refs = append(refs, ref{largest.FileID, "image/jpeg", ""})
	}
	if msg.Audio != nil {
		refs = append(refs, ref{msg.Audio.FileID, orDefault(msg.Audio.MimeType, "audio/mpeg"), msg.Audio.FileName})
	}
	if msg.Voice != nil {
		refs = append(refs, ref{msg.Voice.FileID, orDefault(msg.Voice.MimeType, "audio/ogg"), ""})
	}
	if msg.Video != nil {
		refs = append(refs, ref{msg.Video.FileID, orDefault(msg.Video.MimeType, "video/mp4"), msg.Video.FileName})
	}
	if msg.Document != nil {
		refs = append(refs, ref{msg.Document.FileID, orDefault(msg.Document.MimeType, "application/octet-stream"), msg.Document.FileName})
	}

	remotes := make([]attachment.Remote, 0, len(refs))
	for _, r := range refs {
		url, err := a.api.GetFileDirectURL(r.fileID)
		if err != nil {
			a.logger.Warn("telegram file lookup failed", "file_id", r.fileID, "error", err)
			continue
		}
		// An empty name falls back to the base name of the file path in url.
		remotes = append(remotes, attachment.Remote{URL: url, Filename: r.name, MimeType: r.mimeType})
	}
	return remotes
}

func (a *TelegramAdapter) isAllowed(userID int64) bool {
	if len(a.allowFrom) == 0 {
		return true
	}
	for _, id := range a.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
