package tool

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"clawgate/internal/domain"
)

// PendingAudio holds the audio artifact a task should deliver with its reply.
type PendingAudio struct {
	mu   sync.Mutex
	path string
}

// Set records a new artifact and removes the one it replaces.
func (p *PendingAudio) Set(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path != "" && p.path != path {
		os.Remove(p.path)
	}
	p.path = path
}

// Path returns the current artifact, empty when none was produced.
func (p *PendingAudio) Path() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.path
}

// Discard deletes the artifact file and forgets it.
func (p *PendingAudio) Discard() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path == "" {
		return nil
	}
	err := os.Remove(p.path)
	p.path = ""
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

type speechArgs struct {
	Text         string `json:"text" validate:"required"`
	Voice        string `json:"voice"`
	Instructions string `json:"instructions"`
}

// TextToSpeech renders text to an MP3 that is attached to the task's reply.
type TextToSpeech struct {
	synth   domain.SpeechSynthesizer
	voice   string
	tempDir string
	pending *PendingAudio
}

func NewTextToSpeech(synth domain.SpeechSynthesizer, voice string, pending *PendingAudio) *TextToSpeech {
	return &TextToSpeech{synth: synth, voice: voice, tempDir: os.TempDir(), pending: pending}
}

func (t *TextToSpeech) Name() string { return "text_to_speech" }

func (t *TextToSpeech) Description() string {
	return "Convert text to speech. Use when the user asks you to reply with audio, send a voice message, or speak your response. The audio will be attached to your text reply automatically."
}

func (t *TextToSpeech) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"text":         {Type: "string", Description: "The text to convert to speech"},
		"voice":        {Type: "string", Description: "Voice to use (alloy, echo, fable, onyx, nova, shimmer)"},
		"instructions": {Type: "string", Description: `Instructions for how the audio should sound (e.g. "speak slowly and calmly")`},
	}, []string{"text"})
}

func (t *TextToSpeech) Execute(ctx context.Context, raw map[string]any) (string, error) {
	var args speechArgs
	if msg, err := DecodeArgs(raw, &args); msg != "" || err != nil {
		return msg, err
	}
	if strings.TrimSpace(args.Text) == "" {
		return `The "text" parameter is required.`, nil
	}
	voice := args.Voice
	if voice == "" {
		voice = t.voice
	}

	audio, err := t.synth.Synthesize(ctx, args.Text, voice, args.Instructions)
	if err != nil {
		return fmt.Sprintf("Text-to-speech failed: %v", err), nil
	}
	defer audio.Close()

	path := filepath.Join(t.tempDir, uuid.NewString()+".mp3")
	if err := writeFile(path, audio); err != nil {
		return fmt.Sprintf("Text-to-speech failed: %v", err), nil
	}
	t.pending.Set(path)
	return "Audio generated. Reply to the user normally and the audio will be attached automatically.", nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

var _ domain.Tool = (*TextToSpeech)(nil)
