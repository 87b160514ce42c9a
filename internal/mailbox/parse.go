package mailbox

import (
	"errors"
	"fmt"
	"io"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/emersion/go-message"
	msgmail "github.com/emersion/go-message/mail"
)

// Message is a parsed RFC 5322 message.
type Message struct {
	From      string
	FromName  string
	Subject   string
	MessageID string
	Text      string
	HTML      string
	Files     []File
}

type File struct {
	Filename string
	MimeType string
	Data     []byte
}

// Body is the plain text part, or the HTML part converted to markdown.
func (m *Message) Body() string {
	if strings.TrimSpace(m.Text) != "" {
		return m.Text
	}
	if m.HTML == "" {
		return ""
	}
	md, err := htmltomarkdown.ConvertString(m.HTML)
	if err != nil {
		return ""
	}
	return md
}

// Parse reads a message. Parts in an unknown charset are kept undecoded.
func Parse(r io.Reader) (*Message, error) {
	mr, err := msgmail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse mail: %w", err)
	}
	defer mr.Close()

	out := &Message{}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		out.From = from[0].Address
		out.FromName = from[0].Name
	}
	out.Subject, _ = mr.Header.Subject()
	out.MessageID, _ = mr.Header.MessageID()

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("read mail part: %w", err)
		}

		switch h := p.Header.(type) {
		case *msgmail.InlineHeader:
			ct, _, _ := h.ContentType()
			switch {
			case ct == "text/plain" && out.Text == "":
				b, _ := io.ReadAll(p.Body)
				out.Text = string(b)
			case ct == "text/html" && out.HTML == "":
				b, _ := io.ReadAll(p.Body)
				out.HTML = string(b)
			case !strings.HasPrefix(ct, "text/"):
				data, err := io.ReadAll(p.Body)
				if err != nil {
					return nil, fmt.Errorf("read inline part: %w", err)
				}
				_, params, _ := h.ContentDisposition()
				out.Files = append(out.Files, File{Filename: params["filename"], MimeType: ct, Data: data})
			}
		case *msgmail.AttachmentHeader:
			ct, _, _ := h.ContentType()
			if ct == "" {
				ct = "application/octet-stream"
			}
			name, _ := h.Filename()
			data, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("read attachment %q: %w", name, err)
			}
			out.Files = append(out.Files, File{Filename: name, MimeType: ct, Data: data})
		}
	}
	return out, nil
}
