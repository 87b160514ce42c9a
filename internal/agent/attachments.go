package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"clawgate/internal/attachment"
	"clawgate/internal/domain"
)

const (
	maxImageBytes    = 20 << 20
	maxDocumentBytes = 100 << 10
	maxAudioBytes    = 25 << 20
)

// translateAttachments turns stored attachments into what the model can
// take. Images carry their bytes, documents carry their text when it is
// small and readable. Audio and video are dropped.
func translateAttachments(ctx context.Context, store *attachment.Store, atts []domain.Attachment) ([]domain.MessageAttachment, error) {
	var out []domain.MessageAttachment
	for _, a := range atts {
		ma := domain.MessageAttachment{
			Kind:     a.Kind,
			Filename: a.Filename,
			MimeType: a.MimeType,
			Source:   a.Disk + ":" + a.Path,
		}
		switch a.Kind {
		case domain.KindImage:
			data, err := store.ReadAll(ctx, a.Disk, a.Path, maxImageBytes)
			if err != nil {
				return nil, fmt.Errorf("read image %s: %w", a.Path, err)
			}
			ma.Data = data
		case domain.KindDocument:
			data, err := store.ReadAll(ctx, a.Disk, a.Path, maxDocumentBytes)
			switch {
			case errors.Is(err, attachment.ErrTooLarge):
				// Referenced by location only.
			case err != nil:
				return nil, fmt.Errorf("read document %s: %w", a.Path, err)
			case utf8.Valid(data):
				ma.Text = string(data)
			}
		default:
			continue
		}
		out = append(out, ma)
	}
	return out, nil
}

// transcribe converts the audio attachment to text.
func transcribe(ctx context.Context, store *attachment.Store, t domain.Transcriber, a domain.Attachment) (string, error) {
	rc, err := store.Get(ctx, a.Disk, a.Path)
	if err != nil {
		return "", fmt.Errorf("open audio %s: %w", a.Path, err)
	}
	defer rc.Close()

	text, err := t.Transcribe(ctx, a.Filename, io.LimitReader(rc, maxAudioBytes))
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", a.Path, err)
	}
	return text, nil
}
