package channel

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"clawgate/internal/attachment"
	"clawgate/internal/domain"
	"clawgate/internal/metrics"
	"clawgate/internal/security"
)

const protocolSlack = "slack"

// slackMessageEvent is the inner event of an event_callback. Text is a
// pointer so an absent field can be told apart from an empty one.
type slackMessageEvent struct {
	Type     string       `json:"type"`
	Channel  string       `json:"channel"`
	Text     *string      `json:"text"`
	TS       string       `json:"ts"`
	ThreadTS string       `json:"thread_ts"`
	BotID    string       `json:"bot_id"`
	Subtype  string       `json:"subtype"`
	Files    []slack.File `json:"files"`
}

type SlackAdapterConfig struct {
	API        SlackAPI
	BotToken   string // used to download private files
	Dispatcher *Dispatcher
	Fetcher    *attachment.Fetcher
	Logger     *slog.Logger
}

// SlackAdapter handles the Events API webhook. Requests are expected to have
// passed signature verification already.
type SlackAdapter struct {
	api        SlackAPI
	botToken   string
	dispatcher *Dispatcher
	fetcher    *attachment.Fetcher
	logger     *slog.Logger
}

func NewSlackAdapter(cfg SlackAdapterConfig) *SlackAdapter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SlackAdapter{
		api:        cfg.API,
		botToken:   cfg.BotToken,
		dispatcher: cfg.Dispatcher,
		fetcher:    cfg.Fetcher,
		logger:     cfg.Logger,
	}
}

func (a *SlackAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, security.MaxWebhookBody))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	var outer slackevents.EventsAPICallbackEvent
	if err := json.Unmarshal(body, &outer); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if outer.Type == slackevents.URLVerification {
		var challenge slackevents.EventsAPIURLVerificationEvent
		if err := json.Unmarshal(body, &challenge); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge.Challenge})
		return
	}

	// Slack redelivers when the first attempt was slow. The original
	// delivery is already being processed.
	if r.Header.Get("X-Slack-Retry-Num") != "" {
		a.logger.Debug("slack retry ignored", "event_id", outer.EventID, "reason", r.Header.Get("X-Slack-Retry-Reason"))
		a.dispatcher.Ignore(protocolSlack)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	if outer.Type == slackevents.CallbackEvent && outer.InnerEvent != nil {
		var ev slackMessageEvent
		if err := json.Unmarshal(*outer.InnerEvent, &ev); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if _, err := a.handleEvent(r.Context(), ev); err != nil {
			a.logger.Error("slack event failed", "event_id", outer.EventID, "error", err)
		}
	} else {
		a.dispatcher.Ignore(protocolSlack)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleEvent dispatches one inner event and reports the inbound outcome.
func (a *SlackAdapter) handleEvent(ctx context.Context, ev slackMessageEvent) (string, error) {
	if ev.Type != string(slackevents.Message) || ev.BotID != "" || ev.Subtype != "" || ev.Channel == "" {
		a.dispatcher.Ignore(protocolSlack)
		return metrics.InboundIgnored, nil
	}

	var text string
	if ev.Text != nil {
		text = *ev.Text
	}
	threadTS := ev.ThreadTS
	if threadTS == "" {
		threadTS = ev.TS
	}

	return a.dispatcher.Dispatch(ctx, SlackIdentifier(ev.Channel), text, func(ctx context.Context) (domain.Channel, error) {
		attachments := fetchAll(ctx, a.fetcher, protocolSlack, a.remotes(ev.Files), a.logger)
		return newSlack(ev.Channel, threadTS, ev.TS, text, attachments, a.api, a.dispatcher.Env()), nil
	})
}

func (a *SlackAdapter) remotes(files []slack.File) []attachment.Remote {
	remotes := make([]attachment.Remote, 0, len(files))
	for _, f := range files {
		url := f.URLPrivateDownload
		if url == "" {
			url = f.URLPrivate
		}
		if url == "" {
			continue
		}
		header := http.Header{}
		header.Set("Authorization", "Bearer "+a.botToken)
		remotes = append(remotes, attachment.Remote{
			URL:      url,
			Filename: orDefault(f.Name, "attachment"),
			MimeType: orDefault(f.Mimetype, "application/octet-stream"),
			Header:   header,
		})
	}
	return remotes
}
