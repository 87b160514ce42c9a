package channel

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	mail "github.com/wneessen/go-mail"

	"clawgate/internal/domain"
)

// MailSender delivers composed messages. *mail.Client satisfies it.
type MailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPConfig describes the outgoing mail server.
type SMTPConfig struct {
	Host     string
	Port     int
	Security string // tls | starttls | none
	Username string
	Password string
}

// NewSMTPClient builds a go-mail client for cfg.
func NewSMTPClient(cfg SMTPConfig) (*mail.Client, error) {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(30 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	switch cfg.Security {
	case "tls":
		opts = append(opts, mail.WithSSLPort(false), mail.WithTLSPolicy(mail.TLSMandatory))
	case "starttls":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return client, nil
}

// Sender is the From of outgoing replies.
type Sender struct {
	Address string
	Name    string
}

// Email is a conversation with one sender address. Every reply is threaded
// onto the inbound message.
type Email struct {
	Base

	from      string
	fromName  string
	subject   string
	messageID string
	sender    MailSender
	replyFrom Sender
}

// EmailIdentifier is the channel identity of a sender address.
func EmailIdentifier(address string) string { return "email:" + address }

func (e *Email) Send(ctx context.Context, message string) error {
	m, err := e.reply(message)
	if err != nil {
		return err
	}
	if err := e.sender.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// SendAudio mails the file as voice.mp3 with caption as the body.
func (e *Email) SendAudio(ctx context.Context, filePath, caption string) error {
	m, err := e.reply(caption)
	if err != nil {
		return err
	}
	m.AttachFile(filePath,
		mail.WithFileName("voice.mp3"),
		mail.WithFileContentType(mail.ContentType("audio/mpeg")),
	)
	if err := e.sender.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (e *Email) Confirm(ctx context.Context, message string, timeout time.Duration) (bool, error) {
	return e.env.Coordinator.Confirm(ctx, e, message, timeout)
}

func (e *Email) reply(body string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if e.replyFrom.Name != "" {
		if err := m.FromFormat(e.replyFrom.Name, e.replyFrom.Address); err != nil {
			return nil, fmt.Errorf("set from: %w", err)
		}
	} else if err := m.From(e.replyFrom.Address); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if e.fromName != "" {
		if err := m.AddToFormat(e.fromName, e.from); err != nil {
			return nil, fmt.Errorf("set to: %w", err)
		}
	} else if err := m.To(e.from); err != nil {
		return nil, fmt.Errorf("set to: %w", err)
	}

	m.Subject(replySubject(e.subject))
	if e.messageID != "" {
		ref := "<" + e.messageID + ">"
		m.SetGenHeader(mail.HeaderInReplyTo, ref)
		m.SetGenHeader(mail.HeaderReferences, ref)
	}
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, body)
	m.AddAlternativeString(mail.TypeTextHTML, htmlBody(body))
	return m, nil
}

func replySubject(subject string) string {
	if strings.TrimSpace(subject) == "" {
		subject = "No Subject"
	}
	return "Re: " + subject
}

func htmlBody(text string) string {
	escaped := html.EscapeString(text)
	return "<html><body><div>" + strings.ReplaceAll(escaped, "\n", "<br>\n") + "</div></body></html>"
}

var _ domain.Channel = (*Email)(nil)
