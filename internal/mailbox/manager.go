package mailbox

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	mail "github.com/wneessen/go-mail"

	"clawgate/internal/domain"
)

const defaultFolder = "INBOX"

// Transport delivers composed mail. *mail.Client satisfies it.
type Transport interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

type ManagerConfig struct {
	IMAP Config
	SMTP Transport
	// From defaults to the IMAP username.
	From     string
	FromName string
	Logger   *slog.Logger
}

// Manager is a domain.Mailbox over IMAP and SMTP. Each call opens its own
// IMAP session, so a Manager is safe for concurrent use.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.From == "" {
		cfg.From = cfg.IMAP.Username
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: cfg.Logger.With("component", "mailbox")}
}

// session runs fn on a logged-in connection. Cancelling ctx closes the
// connection, which fails any command in flight.
func (m *Manager) session(ctx context.Context, fn func(c *imapclient.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := Dial(m.cfg.IMAP, nil)
	if err != nil {
		return err
	}
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	err = fn(c)
	if lerr := c.Logout().Wait(); lerr != nil && err == nil {
		m.logger.Debug("imap logout failed", "error", lerr)
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// inFolder selects folder and runs fn in it.
func (m *Manager) inFolder(ctx context.Context, folder string, fn func(c *imapclient.Client) error) error {
	if folder == "" {
		folder = defaultFolder
	}
	return m.session(ctx, func(c *imapclient.Client) error {
		if _, err := c.Select(folder, nil).Wait(); err != nil {
			return fmt.Errorf("select %s: %w", folder, err)
		}
		return fn(c)
	})
}

// onMessage selects folder and runs fn when uid exists there.
func (m *Manager) onMessage(ctx context.Context, folder string, uid uint32, fn func(c *imapclient.Client, set imap.UIDSet) error) error {
	return m.inFolder(ctx, folder, func(c *imapclient.Client) error {
		set := imap.UIDSetNum(imap.UID(uid))
		data, err := c.UIDSearch(&imap.SearchCriteria{UID: []imap.UIDSet{set}}, nil).Wait()
		if err != nil {
			return fmt.Errorf("search uid %d: %w", uid, err)
		}
		if len(data.AllUIDs()) == 0 {
			return domain.ErrMailNotFound
		}
		return fn(c, set)
	})
}

// List returns the newest messages matching q, newest first, without
// marking them read.
func (m *Manager) List(ctx context.Context, q domain.MailQuery) ([]domain.MailSummary, error) {
	var out []domain.MailSummary
	err := m.inFolder(ctx, q.Folder, func(c *imapclient.Client) error {
		criteria := &imap.SearchCriteria{}
		if q.From != "" {
			criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "From", Value: q.From})
		}
		if q.Search != "" {
			criteria.Text = append(criteria.Text, q.Search)
		}
		data, err := c.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		uids := data.AllUIDs()
		if len(uids) == 0 {
			return nil
		}
		slices.SortFunc(uids, func(a, b imap.UID) int { return cmp.Compare(b, a) })
		if q.Limit > 0 && len(uids) > q.Limit {
			uids = uids[:q.Limit]
		}

		msgs, err := c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
			UID:           true,
			Envelope:      true,
			Flags:         true,
			RFC822Size:    true,
			BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
		}).Collect()
		if err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
		slices.SortFunc(msgs, func(a, b *imapclient.FetchMessageBuffer) int { return cmp.Compare(b.UID, a.UID) })
		for _, msg := range msgs {
			out = append(out, summarize(msg))
		}
		return nil
	})
	return out, err
}

// Read fetches one message without marking it read.
func (m *Manager) Read(ctx context.Context, folder string, uid uint32) (*domain.MailMessage, error) {
	var out *domain.MailMessage
	err := m.inFolder(ctx, folder, func(c *imapclient.Client) error {
		msgs, err := c.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
			UID:         true,
			Envelope:    true,
			Flags:       true,
			BodySection: []*imap.FetchItemBodySection{{Peek: true}},
		}).Collect()
		if err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
		for _, msg := range msgs {
			if uint32(msg.UID) != uid {
				continue
			}
			out, err = readMessage(msg)
			return err
		}
		return domain.ErrMailNotFound
	})
	return out, err
}

func readMessage(msg *imapclient.FetchMessageBuffer) (*domain.MailMessage, error) {
	out := &domain.MailMessage{UID: uint32(msg.UID), Flags: []string{}}
	for _, f := range msg.Flags {
		out.Flags = append(out.Flags, string(f))
	}
	if env := msg.Envelope; env != nil {
		out.Subject = env.Subject
		out.Date = env.Date
		out.MessageID = env.MessageID
		out.From = firstAddress(env.From)
		out.ReplyTo = firstAddress(env.ReplyTo)
		out.To = addresses(env.To)
		out.Cc = addresses(env.Cc)
	}
	if len(msg.BodySection) > 0 {
		parsed, err := Parse(bytes.NewReader(msg.BodySection[0].Bytes))
		if err != nil {
			return nil, err
		}
		out.Body = parsed.Body()
		out.AttachmentCount = len(parsed.Files)
		out.HasAttachments = out.AttachmentCount > 0
	}
	return out, nil
}

func summarize(msg *imapclient.FetchMessageBuffer) domain.MailSummary {
	s := domain.MailSummary{
		UID:            uint32(msg.UID),
		Size:           msg.RFC822Size,
		IsRead:         slices.Contains(msg.Flags, imap.FlagSeen),
		IsFlagged:      slices.Contains(msg.Flags, imap.FlagFlagged),
		HasAttachments: hasAttachments(msg.BodyStructure),
	}
	if env := msg.Envelope; env != nil {
		s.Subject = env.Subject
		s.Date = env.Date
		s.From = firstAddress(env.From)
	}
	return s
}

func hasAttachments(bs imap.BodyStructure) bool {
	if bs == nil {
		return false
	}
	found := false
	bs.Walk(func(_ []int, part imap.BodyStructure) bool {
		if single, ok := part.(*imap.BodyStructureSinglePart); ok {
			if d := single.Disposition(); d != nil && strings.EqualFold(d.Value, "attachment") {
				found = true
			} else if single.Filename() != "" {
				found = true
			}
		}
		return !found
	})
	return found
}

func firstAddress(list []imap.Address) *domain.MailAddress {
	for _, a := range list {
		if addr := a.Addr(); addr != "" {
			return &domain.MailAddress{Email: addr, Name: a.Name}
		}
	}
	return nil
}

func addresses(list []imap.Address) []domain.MailAddress {
	out := []domain.MailAddress{}
	for _, a := range list {
		if addr := a.Addr(); addr != "" {
			out = append(out, domain.MailAddress{Email: addr, Name: a.Name})
		}
	}
	return out
}

func (m *Manager) Send(ctx context.Context, out domain.OutgoingMail) error {
	if m.cfg.SMTP == nil {
		return errors.New("no smtp transport configured")
	}
	msg := mail.NewMsg()
	if m.cfg.FromName != "" {
		if err := msg.FromFormat(m.cfg.FromName, m.cfg.From); err != nil {
			return fmt.Errorf("set from: %w", err)
		}
	} else if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(out.To...); err != nil {
		return fmt.Errorf("set to: %w", err)
	}
	if len(out.Cc) > 0 {
		if err := msg.Cc(out.Cc...); err != nil {
			return fmt.Errorf("set cc: %w", err)
		}
	}
	if len(out.Bcc) > 0 {
		if err := msg.Bcc(out.Bcc...); err != nil {
			return fmt.Errorf("set bcc: %w", err)
		}
	}
	msg.Subject(out.Subject)
	if out.InReplyTo != "" {
		ref := "<" + out.InReplyTo + ">"
		msg.SetGenHeader(mail.HeaderInReplyTo, ref)
		msg.SetGenHeader(mail.HeaderReferences, ref)
	}
	msg.SetMessageID()
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, out.Body)

	if err := m.cfg.SMTP.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// Delete flags the message deleted and expunges it.
func (m *Manager) Delete(ctx context.Context, folder string, uid uint32) error {
	return m.onMessage(ctx, folder, uid, func(c *imapclient.Client, set imap.UIDSet) error {
		if err := storeFlags(c, set, imap.StoreFlagsAdd, imap.FlagDeleted); err != nil {
			return err
		}
		var cmd *imapclient.ExpungeCommand
		if c.Caps().Has(imap.CapUIDPlus) {
			cmd = c.UIDExpunge(set)
		} else {
			cmd = c.Expunge()
		}
		if err := cmd.Close(); err != nil {
			return fmt.Errorf("expunge: %w", err)
		}
		return nil
	})
}

// Move moves the message to dest. Servers without MOVE get COPY, STORE and
// EXPUNGE.
func (m *Manager) Move(ctx context.Context, folder string, uid uint32, dest string) error {
	return m.onMessage(ctx, folder, uid, func(c *imapclient.Client, set imap.UIDSet) error {
		if _, err := c.Move(set, dest).Wait(); err != nil {
			return fmt.Errorf("move to %s: %w", dest, err)
		}
		return nil
	})
}

// Copy copies the message to dest, which works as a label on servers that
// map labels to folders.
func (m *Manager) Copy(ctx context.Context, folder string, uid uint32, dest string) error {
	return m.onMessage(ctx, folder, uid, func(c *imapclient.Client, set imap.UIDSet) error {
		if _, err := c.Copy(set, dest).Wait(); err != nil {
			return fmt.Errorf("copy to %s: %w", dest, err)
		}
		return nil
	})
}

func (m *Manager) SetFlag(ctx context.Context, folder string, uid uint32, flag domain.MailFlag, on bool) error {
	op := imap.StoreFlagsDel
	if on {
		op = imap.StoreFlagsAdd
	}
	return m.onMessage(ctx, folder, uid, func(c *imapclient.Client, set imap.UIDSet) error {
		return storeFlags(c, set, op, imap.Flag(flag))
	})
}

func storeFlags(c *imapclient.Client, set imap.UIDSet, op imap.StoreFlagsOp, flags ...imap.Flag) error {
	cmd := c.Store(set, &imap.StoreFlags{Op: op, Silent: true, Flags: flags}, nil)
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("store flags: %w", err)
	}
	return nil
}

func (m *Manager) Folders(ctx context.Context) ([]domain.MailFolder, error) {
	var out []domain.MailFolder
	err := m.session(ctx, func(c *imapclient.Client) error {
		list, err := c.List("", "*", nil).Collect()
		if err != nil {
			return fmt.Errorf("list folders: %w", err)
		}
		for _, l := range list {
			name := l.Mailbox
			if l.Delim != 0 {
				if i := strings.LastIndex(name, string(l.Delim)); i >= 0 {
					name = name[i+len(string(l.Delim)):]
				}
			}
			out = append(out, domain.MailFolder{Path: l.Mailbox, Name: name})
		}
		return nil
	})
	return out, err
}

func (m *Manager) CreateFolder(ctx context.Context, name string) error {
	return m.session(ctx, func(c *imapclient.Client) error {
		if err := c.Create(name, nil).Wait(); err != nil {
			return fmt.Errorf("create folder %s: %w", name, err)
		}
		return nil
	})
}

func (m *Manager) DeleteFolder(ctx context.Context, name string) error {
	return m.session(ctx, func(c *imapclient.Client) error {
		if err := c.Delete(name).Wait(); err != nil {
			return fmt.Errorf("delete folder %s: %w", name, err)
		}
		return nil
	})
}

var _ domain.Mailbox = (*Manager)(nil)
