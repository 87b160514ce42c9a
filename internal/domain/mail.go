package domain

import (
	"context"
	"errors"
	"time"
)

// ErrMailNotFound is returned for a UID that is not in the folder.
var ErrMailNotFound = errors.New("message not found")

type MailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// MailSummary is one row of a folder listing.
type MailSummary struct {
	UID            uint32       `json:"uid"`
	Subject        string       `json:"subject"`
	From           *MailAddress `json:"from"`
	Date           time.Time    `json:"date,omitzero"`
	IsRead         bool         `json:"is_read"`
	IsFlagged      bool         `json:"is_flagged"`
	HasAttachments bool         `json:"has_attachments"`
	Size           int64        `json:"size"`
}

// MailMessage is a fully fetched message with its body as text.
type MailMessage struct {
	UID             uint32        `json:"uid"`
	Subject         string        `json:"subject"`
	From            *MailAddress  `json:"from"`
	ReplyTo         *MailAddress  `json:"-"`
	To              []MailAddress `json:"to"`
	Cc              []MailAddress `json:"cc"`
	Date            time.Time     `json:"date,omitzero"`
	MessageID       string        `json:"message_id"`
	HasAttachments  bool          `json:"has_attachments"`
	AttachmentCount int           `json:"attachment_count"`
	Flags           []string      `json:"flags"`
	Body            string        `json:"body"`
}

// MailQuery selects messages for a listing. From and Search are plain
// substring matches done by the server.
type MailQuery struct {
	Folder string
	Limit  int
	From   string
	Search string
}

type OutgoingMail struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
	// InReplyTo threads the mail onto a message id, without angle brackets.
	InReplyTo string
}

type MailFolder struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

type MailFlag string

const (
	MailSeen     MailFlag = `\Seen`
	MailAnswered MailFlag = `\Answered`
	MailFlagged  MailFlag = `\Flagged`
)

// Mailbox is a remote mail account. Operations on a single message report
// ErrMailNotFound when its UID does not exist in the folder.
type Mailbox interface {
	List(ctx context.Context, q MailQuery) ([]MailSummary, error)
	Read(ctx context.Context, folder string, uid uint32) (*MailMessage, error)
	Send(ctx context.Context, m OutgoingMail) error
	Delete(ctx context.Context, folder string, uid uint32) error
	Move(ctx context.Context, folder string, uid uint32, dest string) error
	Copy(ctx context.Context, folder string, uid uint32, dest string) error
	SetFlag(ctx context.Context, folder string, uid uint32, flag MailFlag, on bool) error
	Folders(ctx context.Context) ([]MailFolder, error)
	CreateFolder(ctx context.Context, name string) error
	DeleteFolder(ctx context.Context, name string) error
}
