package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"clawgate/internal/domain"
)

const (
	// MaxMailList caps the inbox operation.
	MaxMailList     = 20
	defaultMailList = 10
	// MaxMailBody caps a message body handed to the model.
	MaxMailBody = 50000
)

type emailArgs struct {
	Operation    string   `json:"operation" validate:"required"`
	UID          *uint32  `json:"uid"`
	UIDs         []uint32 `json:"uids"`
	Folder       string   `json:"folder"`
	Folders      []string `json:"folders"`
	SourceFolder string   `json:"source_folder"`
	To           []string `json:"to" validate:"omitempty,dive,email"`
	Cc           []string `json:"cc" validate:"omitempty,dive,email"`
	Bcc          []string `json:"bcc" validate:"omitempty,dive,email"`
	Subject      *string  `json:"subject"`
	Body         *string  `json:"body"`
	Search       string   `json:"search"`
	FromFilter   string   `json:"from_filter"`
	Limit        int      `json:"limit" validate:"gte=0"`
}

func (a *emailArgs) folder() string {
	if a.Folder == "" {
		return "INBOX"
	}
	return a.Folder
}

func (a *emailArgs) source() string {
	if a.SourceFolder == "" {
		return "INBOX"
	}
	return a.SourceFolder
}

// Email reads and organizes the configured mailbox and sends mail from it.
type Email struct {
	mailbox domain.Mailbox
	ops     *OperationTable[emailArgs]
}

func NewEmail(mailbox domain.Mailbox, confirmer Confirmer) *Email {
	e := &Email{mailbox: mailbox}
	e.ops = NewOperationTable(confirmer,
		Operation[emailArgs]{Name: "inbox", Run: e.inbox},
		Operation[emailArgs]{Name: "read", Run: e.read},
		Operation[emailArgs]{Name: "send", Run: e.send, Confirm: `Send email to {to} with subject "{subject}"?`},
		Operation[emailArgs]{Name: "reply", Run: e.reply, Confirm: "Send reply to message {uid}?"},
		Operation[emailArgs]{Name: "delete", Run: e.delete},
		Operation[emailArgs]{Name: "move", Run: e.move},
		Operation[emailArgs]{Name: "label", Run: e.label},
		Operation[emailArgs]{Name: "mark_read", Run: e.markRead},
		Operation[emailArgs]{Name: "mark_unread", Run: e.markUnread},
		Operation[emailArgs]{Name: "folders", Run: e.folders},
		Operation[emailArgs]{Name: "create_folder", Run: e.createFolder},
		Operation[emailArgs]{Name: "delete_folder", Run: e.deleteFolder},
	)
	return e
}

func (e *Email) Name() string { return "email" }

func (e *Email) Description() string {
	return "Manage email. Operations: " + strings.Join(e.ops.Names(), ", ") +
		". Use inbox to list messages, read to view one, send/reply to compose, delete/move to organize, " +
		"label to tag without removing from source folder, create_folder/delete_folder to manage folders. " +
		"For move/label: set source_folder when the message is not in INBOX. Use the folders operation to list available folders."
}

func (e *Email) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"operation":     {Type: "string", Description: "The operation to perform: " + strings.Join(e.ops.Names(), ", "), Enum: e.ops.Names()},
		"uid":           {Type: "integer", Description: "Message UID (required for read, reply, delete, move, label, mark_read, mark_unread)"},
		"uids":          {Type: "array", Items: "integer", Description: "Multiple message UIDs for batch delete"},
		"folder":        {Type: "string", Description: "Folder name (default: INBOX). For move/label, this is the destination folder. For create_folder/delete_folder, this is the folder to create/delete."},
		"folders":       {Type: "array", Items: "string", Description: "Multiple folder names for batch delete_folder"},
		"source_folder": {Type: "string", Description: "Source folder for move/label operations (default: INBOX)"},
		"to":            {Type: "array", Items: "string", Description: "Recipient email addresses (required for send)"},
		"cc":            {Type: "array", Items: "string", Description: "CC email addresses"},
		"bcc":           {Type: "array", Items: "string", Description: "BCC email addresses"},
		"subject":       {Type: "string", Description: "Email subject (required for send)"},
		"body":          {Type: "string", Description: "Email body text (required for send and reply)"},
		"search":        {Type: "string", Description: "Plain text search for inbox, matched anywhere in the message. Do NOT use query syntax like \"from:\"; use from_filter to filter by sender."},
		"from_filter":   {Type: "string", Description: "Filter inbox by sender email or name (partial match)"},
		"limit":         {Type: "integer", Description: fmt.Sprintf("Max messages to return for inbox (default %d, max %d)", defaultMailList, MaxMailList)},
	}, []string{"operation"})
}

func (e *Email) Execute(ctx context.Context, raw map[string]any) (string, error) {
	var args emailArgs
	if msg, err := DecodeArgs(raw, &args); msg != "" || err != nil {
		return msg, err
	}
	out, err := e.ops.Dispatch(ctx, args.Operation, raw, &args)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "Email operation failed: " + err.Error(), nil
	}
	return out, nil
}

func requiredFor(param, op string) string {
	return fmt.Sprintf("The %q parameter is required for the %s operation.", param, op)
}

func (e *Email) inbox(ctx context.Context, args *emailArgs) (string, error) {
	limit := defaultMailList
	if args.Limit > 0 {
		limit = min(args.Limit, MaxMailList)
	}
	list, err := e.mailbox.List(ctx, domain.MailQuery{
		Folder: args.folder(),
		Limit:  limit,
		From:   args.FromFilter,
		Search: args.Search,
	})
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "No messages found.", nil
	}
	return marshalIndent(list)
}

func (e *Email) read(ctx context.Context, args *emailArgs) (string, error) {
	if args.UID == nil {
		return requiredFor("uid", "read"), nil
	}
	msg, err := e.mailbox.Read(ctx, args.folder(), *args.UID)
	if errors.Is(err, domain.ErrMailNotFound) {
		return fmt.Sprintf("Message with UID %d not found.", *args.UID), nil
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(msg.Body) == "" {
		msg.Body = "(no body)"
	}
	if len(msg.Body) > MaxMailBody {
		cut := MaxMailBody
		for cut > 0 && !utf8.RuneStart(msg.Body[cut]) {
			cut--
		}
		msg.Body = msg.Body[:cut] + "\n\n[Truncated: body exceeds 50KB]"
	}
	return marshalIndent(msg)
}

func (e *Email) send(ctx context.Context, args *emailArgs) (string, error) {
	switch {
	case len(args.To) == 0:
		return requiredFor("to", "send"), nil
	case args.Subject == nil:
		return requiredFor("subject", "send"), nil
	case args.Body == nil:
		return requiredFor("body", "send"), nil
	}
	err := e.mailbox.Send(ctx, domain.OutgoingMail{
		To:      args.To,
		Cc:      args.Cc,
		Bcc:     args.Bcc,
		Subject: *args.Subject,
		Body:    *args.Body,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Email sent to %s with subject %q.", strings.Join(args.To, ", "), *args.Subject), nil
}

func (e *Email) reply(ctx context.Context, args *emailArgs) (string, error) {
	switch {
	case args.UID == nil:
		return requiredFor("uid", "reply"), nil
	case args.Body == nil:
		return requiredFor("body", "reply"), nil
	}
	uid := *args.UID
	orig, err := e.mailbox.Read(ctx, args.folder(), uid)
	if errors.Is(err, domain.ErrMailNotFound) {
		return fmt.Sprintf("Message with UID %d not found.", uid), nil
	}
	if err != nil {
		return "", err
	}

	to := args.To
	if len(to) == 0 {
		addr := orig.ReplyTo
		if addr == nil {
			addr = orig.From
		}
		if addr == nil {
			return "Cannot determine reply address for this message.", nil
		}
		to = []string{addr.Email}
	}
	subject := orig.Subject
	if strings.TrimSpace(subject) == "" {
		subject = "No Subject"
	}
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	err = e.mailbox.Send(ctx, domain.OutgoingMail{
		To:        to,
		Cc:        args.Cc,
		Subject:   subject,
		Body:      *args.Body,
		InReplyTo: orig.MessageID,
	})
	if err != nil {
		return "", err
	}
	if err := e.mailbox.SetFlag(ctx, args.folder(), uid, domain.MailAnswered, true); err != nil {
		return "", fmt.Errorf("reply sent but not marked answered: %w", err)
	}
	return fmt.Sprintf("Reply sent to %s with subject %q.", strings.Join(to, ", "), subject), nil
}

func (e *Email) delete(ctx context.Context, args *emailArgs) (string, error) {
	uids := args.UIDs
	if len(uids) == 0 && args.UID != nil {
		uids = []uint32{*args.UID}
	}
	if len(uids) == 0 {
		return `The "uid" or "uids" parameter is required for the delete operation.`, nil
	}

	folder := args.folder()
	var prompt string
	if len(uids) == 1 {
		prompt = fmt.Sprintf("Delete message %d from %s?", uids[0], folder)
	} else {
		list := make([]string, len(uids))
		for i, uid := range uids {
			list[i] = fmt.Sprint(uid)
		}
		prompt = fmt.Sprintf("Delete %d messages (UIDs: %s) from %s?", len(uids), strings.Join(list, ", "), folder)
	}
	ok, err := e.ops.confirm(ctx, prompt)
	if err != nil || !ok {
		return CancelledByUser, err
	}

	results := make([]string, 0, len(uids))
	for _, uid := range uids {
		err := e.mailbox.Delete(ctx, folder, uid)
		switch {
		case errors.Is(err, domain.ErrMailNotFound):
			results = append(results, fmt.Sprintf("UID %d: not found", uid))
		case err != nil:
			results = append(results, fmt.Sprintf("UID %d: %v", uid, err))
		default:
			results = append(results, fmt.Sprintf("UID %d: deleted", uid))
		}
	}
	return strings.Join(results, "; ") + ".", nil
}

func (e *Email) move(ctx context.Context, args *emailArgs) (string, error) {
	switch {
	case args.UID == nil:
		return requiredFor("uid", "move"), nil
	case args.Folder == "":
		return `The "folder" parameter is required for the move operation (destination folder).`, nil
	}
	src := args.source()
	err := e.mailbox.Move(ctx, src, *args.UID, args.Folder)
	if errors.Is(err, domain.ErrMailNotFound) {
		return fmt.Sprintf("Message with UID %d not found in %s.", *args.UID, src), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Message %d moved from %s to %s.", *args.UID, src, args.Folder), nil
}

func (e *Email) label(ctx context.Context, args *emailArgs) (string, error) {
	switch {
	case args.UID == nil:
		return requiredFor("uid", "label"), nil
	case args.Folder == "":
		return `The "folder" parameter is required for the label operation (label/folder to apply).`, nil
	}
	src := args.source()
	err := e.mailbox.Copy(ctx, src, *args.UID, args.Folder)
	if errors.Is(err, domain.ErrMailNotFound) {
		return fmt.Sprintf("Message with UID %d not found in %s.", *args.UID, src), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Label %q applied to message %d (message kept in %s).", args.Folder, *args.UID, src), nil
}

func (e *Email) markRead(ctx context.Context, args *emailArgs) (string, error) {
	return e.mark(ctx, args, "mark_read", true)
}

func (e *Email) markUnread(ctx context.Context, args *emailArgs) (string, error) {
	return e.mark(ctx, args, "mark_unread", false)
}

func (e *Email) mark(ctx context.Context, args *emailArgs, op string, seen bool) (string, error) {
	if args.UID == nil {
		return requiredFor("uid", op), nil
	}
	err := e.mailbox.SetFlag(ctx, args.folder(), *args.UID, domain.MailSeen, seen)
	if errors.Is(err, domain.ErrMailNotFound) {
		return fmt.Sprintf("Message with UID %d not found.", *args.UID), nil
	}
	if err != nil {
		return "", err
	}
	state := "read"
	if !seen {
		state = "unread"
	}
	return fmt.Sprintf("Message %d marked as %s.", *args.UID, state), nil
}

func (e *Email) folders(ctx context.Context, _ *emailArgs) (string, error) {
	folders, err := e.mailbox.Folders(ctx)
	if err != nil {
		return "", err
	}
	if folders == nil {
		folders = []domain.MailFolder{}
	}
	return marshalIndent(folders)
}

func (e *Email) createFolder(ctx context.Context, args *emailArgs) (string, error) {
	if args.Folder == "" {
		return requiredFor("folder", "create_folder"), nil
	}
	if err := e.mailbox.CreateFolder(ctx, args.Folder); err != nil {
		return "", err
	}
	return fmt.Sprintf("Folder %q created.", args.Folder), nil
}

func (e *Email) deleteFolder(ctx context.Context, args *emailArgs) (string, error) {
	folders := args.Folders
	if len(folders) == 0 && args.Folder != "" {
		folders = []string{args.Folder}
	}
	if len(folders) == 0 {
		return `The "folder" or "folders" parameter is required for the delete_folder operation.`, nil
	}

	prompt := fmt.Sprintf("Delete folder %q?", folders[0])
	if len(folders) > 1 {
		prompt = fmt.Sprintf("Delete %d folders: %s?", len(folders), strings.Join(folders, ", "))
	}
	ok, err := e.ops.confirm(ctx, prompt)
	if err != nil || !ok {
		return CancelledByUser, err
	}

	results := make([]string, 0, len(folders))
	for _, f := range folders {
		if err := e.mailbox.DeleteFolder(ctx, f); err != nil {
			results = append(results, fmt.Sprintf("%s: %v", f, err))
			continue
		}
		results = append(results, f+": deleted")
	}
	return strings.Join(results, "; ") + ".", nil
}

func marshalIndent(v any) (string, error) {
	out, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var _ domain.Tool = (*Email)(nil)
