package domain

import "testing"

func TestKindFromMIME(t *testing.T) {
	tests := []struct {
		mime string
		want AttachmentKind
	}{
		{"image/png", KindImage},
		{"image/jpeg", KindImage},
		{"audio/ogg", KindAudio},
		{"audio/mpeg", KindAudio},
		{"video/mp4", KindVideo},
		{"application/pdf", KindDocument},
		{"application/octet-stream", KindDocument},
		{"text/plain", KindDocument},
		{"", KindDocument},
		{"imagery/x", KindDocument},
	}
	for _, tt := range tests {
		if got := KindFromMIME(tt.mime); got != tt.want {
			t.Errorf("KindFromMIME(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestAttachmentDir(t *testing.T) {
	a := Attachment{Path: "attachments/slack/0b8e/report.pdf"}
	if got := a.Dir(); got != "attachments/slack/0b8e" {
		t.Errorf("Dir() = %q", got)
	}
}

func TestFirstOfKind(t *testing.T) {
	list := []Attachment{
		{Kind: KindImage, Path: "a/1/photo.jpg"},
		{Kind: KindAudio, Path: "a/2/voice.ogg"},
		{Kind: KindAudio, Path: "a/3/second.ogg"},
	}
	got, ok := FirstOfKind(list, KindAudio)
	if !ok || got.Path != "a/2/voice.ogg" {
		t.Fatalf("FirstOfKind(audio) = %+v, %v", got, ok)
	}
	if _, ok := FirstOfKind(list, KindVideo); ok {
		t.Error("expected no video attachment")
	}
}

func TestProtocol(t *testing.T) {
	tests := map[string]string{
		"telegram:12345":        "telegram",
		"email:bob@example.com": "email",
		"slack:C01:extra":       "slack",
		"terminal":              "terminal",
	}
	for in, want := range tests {
		if got := Protocol(in); got != want {
			t.Errorf("Protocol(%q) = %q, want %q", in, got, want)
		}
	}
}
