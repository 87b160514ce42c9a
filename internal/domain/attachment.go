package domain

import (
	"path"
	"strings"
)

// AttachmentKind classifies an attachment by its MIME type.
type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindAudio    AttachmentKind = "audio"
	KindVideo    AttachmentKind = "video"
	KindDocument AttachmentKind = "document"
)

// KindFromMIME maps a MIME type to an attachment kind. Anything that is not
// image/, audio/ or video/ is a document.
func KindFromMIME(mimeType string) AttachmentKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "audio/"):
		return KindAudio
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	default:
		return KindDocument
	}
}

// Attachment describes a file saved in the attachment store on behalf of an
// inbound message.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	Disk     string         `json:"disk"`
	Path     string         `json:"path"`
	MimeType string         `json:"mime_type,omitempty"`
	Filename string         `json:"filename,omitempty"`
}

// Dir is the directory that owns the attachment. Cleanup removes it whole.
func (a Attachment) Dir() string {
	return path.Dir(a.Path)
}

// FirstOfKind returns the first attachment of the given kind.
func FirstOfKind(attachments []Attachment, kind AttachmentKind) (Attachment, bool) {
	for _, a := range attachments {
		if a.Kind == kind {
			return a, true
		}
	}
	return Attachment{}, false
}
