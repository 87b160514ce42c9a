package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"clawgate/internal/domain"
	"clawgate/internal/mailbox"
	"clawgate/internal/metrics"
)

const (
	protocolEmail = "email"

	imapReconnectDelay = 30 * time.Second
	imapMaxIdleCheck   = 2 * time.Minute
)

// replyText is the part of a body the sender wrote above the quoted
// original. Confirmation answers are matched against it.
func replyText(body string) string {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, ">") || line == "-- " ||
			(strings.HasPrefix(t, "On ") && strings.HasSuffix(t, "wrote:")) {
			break
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

type EmailAdapterConfig struct {
	Sender     MailSender
	ReplyFrom  Sender
	Dispatcher *Dispatcher
	Logger     *slog.Logger
}

// EmailAdapter turns raw inbound mail into Email channels.
type EmailAdapter struct {
	sender     MailSender
	replyFrom  Sender
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewEmailAdapter(cfg EmailAdapterConfig) *EmailAdapter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &EmailAdapter{
		sender:     cfg.Sender,
		replyFrom:  cfg.ReplyFrom,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
	}
}

// HandleRaw dispatches one RFC 5322 message and reports the inbound outcome.
func (a *EmailAdapter) HandleRaw(ctx context.Context, raw io.Reader) (string, error) {
	m, err := mailbox.Parse(raw)
	if err != nil {
		a.dispatcher.Ignore(protocolEmail)
		return metrics.InboundIgnored, err
	}
	if m.From == "" {
		m.From = "unknown"
	}
	// Loop prevention: never answer our own replies.
	if strings.EqualFold(m.From, a.replyFrom.Address) {
		a.dispatcher.Ignore(protocolEmail)
		return metrics.InboundIgnored, nil
	}

	body := m.Body()
	env := a.dispatcher.Env()
	return a.dispatcher.Dispatch(ctx, EmailIdentifier(m.From), replyText(body), func(ctx context.Context) (domain.Channel, error) {
		var attachments []domain.Attachment
		for _, f := range m.Files {
			att, err := env.Store.Save(ctx, protocolEmail, f.Filename, f.MimeType, bytes.NewReader(f.Data))
			if err != nil {
				a.logger.Warn("email attachment save failed", "file", f.Filename, "error", err)
				continue
			}
			attachments = append(attachments, att)
		}
		return &Email{
			Base:      newBase(EmailIdentifier(m.From), body, attachments, env),
			from:      m.From,
			fromName:  m.FromName,
			subject:   m.Subject,
			messageID: m.MessageID,
			sender:    a.sender,
			replyFrom: a.replyFrom,
		}, nil
	})
}

// IMAPConfig describes the mailbox the email channel listens on.
type IMAPConfig struct {
	Host         string
	Port         int
	Security     string // tls | starttls | none
	Username     string
	Password     string
	Mailbox      string
	PollInterval time.Duration
}

// MailboxListener feeds new mail from an IMAP mailbox into an EmailAdapter.
// It uses IDLE when the server supports it and polls otherwise. Mail that
// was already in the mailbox when the listener first connected is skipped.
type MailboxListener struct {
	cfg     IMAPConfig
	adapter *EmailAdapter
	logger  *slog.Logger
	lastUID imap.UID
	// primed is set once lastUID marks the mail present at first connect.
	primed bool
}

func NewMailboxListener(cfg IMAPConfig, adapter *EmailAdapter, logger *slog.Logger) *MailboxListener {
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MailboxListener{cfg: cfg, adapter: adapter, logger: logger.With("component", "imap")}
}

// Run blocks until ctx is cancelled, reconnecting after failures.
func (l *MailboxListener) Run(ctx context.Context) error {
	for {
		err := l.connectAndReceive(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Error("imap connection error, retrying", "error", err, "delay", imapReconnectDelay)
		if err := sleepCtx(ctx, imapReconnectDelay); err != nil {
			return nil
		}
	}
}

func (l *MailboxListener) connectAndReceive(ctx context.Context) error {
	newMail := make(chan struct{}, 1)
	client, err := mailbox.Dial(mailbox.Config{
		Host:     l.cfg.Host,
		Port:     l.cfg.Port,
		Security: l.cfg.Security,
		Username: l.cfg.Username,
		Password: l.cfg.Password,
	}, &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					select {
					case newMail <- struct{}{}:
					default:
					}
				}
			},
		},
	})
	if err != nil {
		return err
	}
	defer client.Close()
	defer client.Logout()

	sel, err := client.Select(l.cfg.Mailbox, nil).Wait()
	if err != nil {
		return fmt.Errorf("select %s: %w", l.cfg.Mailbox, err)
	}
	// Everything below UIDNEXT was there before we first connected.
	if !l.primed && sel.UIDNext > 0 {
		l.lastUID = sel.UIDNext - 1
		l.primed = true
	}
	l.logger.Info("imap connected", "host", l.cfg.Host, "mailbox", l.cfg.Mailbox)
	l.fetchNew(ctx, client)

	idle, err := client.Idle()
	if err != nil {
		l.logger.Warn("IDLE not supported, falling back to polling", "error", err)
		return l.poll(ctx, client)
	}

	// Some servers accept IDLE but never push EXISTS, so check anyway.
	check := min(l.cfg.PollInterval, imapMaxIdleCheck)
	ticker := time.NewTicker(check)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = idle.Close()
			return nil
		case <-newMail:
		case <-ticker.C:
		}
		if err := idle.Close(); err != nil {
			return fmt.Errorf("stop idle: %w", err)
		}
		l.fetchNew(ctx, client)
		if idle, err = client.Idle(); err != nil {
			return l.poll(ctx, client)
		}
	}
}

func (l *MailboxListener) poll(ctx context.Context, client *imapclient.Client) error {
	for {
		if err := sleepCtx(ctx, l.cfg.PollInterval); err != nil {
			return nil
		}
		l.fetchNew(ctx, client)
	}
}

// fetchNew hands every message above lastUID to the adapter. Until the
// listener is primed it only records the highest UID.
func (l *MailboxListener) fetchNew(ctx context.Context, client *imapclient.Client) {
	var uids imap.UIDSet
	uids.AddRange(l.lastUID+1, 0)

	cmd := client.Fetch(uids, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}},
	})
	defer cmd.Close()

	firstRun := !l.primed
	processed := 0
	for {
		data := cmd.Next()
		if data == nil {
			break
		}
		buf, err := data.Collect()
		if err != nil {
			l.logger.Warn("imap fetch item failed", "error", err)
			continue
		}
		// A "n:*" range always returns the newest message, even when it is
		// at or below n.
		if buf.UID <= l.lastUID {
			continue
		}
		l.lastUID = buf.UID
		if firstRun || len(buf.BodySection) == 0 {
			continue
		}

		processed++
		if _, err := l.adapter.HandleRaw(ctx, bytes.NewReader(buf.BodySection[0].Bytes)); err != nil {
			l.logger.Error("inbound email failed", "uid", buf.UID, "error", err)
		}
	}
	l.primed = true
	l.logger.Debug("imap fetch completed", "processed", processed, "last_uid", uint32(l.lastUID))
}
