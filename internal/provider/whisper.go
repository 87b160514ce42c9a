package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"clawgate/internal/domain"
)

// WhisperConfig configures speech-to-text.
type WhisperConfig struct {
	APIKey   string
	BaseURL  string // e.g. "https://api.groq.com/openai/v1"
	Model    string // "whisper-1" (OpenAI) or "whisper-large-v3" (Groq)
	Language string // optional ISO-639-1 code
	Logger   *slog.Logger
}

// Whisper transcribes audio through the OpenAI-compatible transcription API.
type Whisper struct {
	client   *openai.Client
	model    string
	language string
	logger   *slog.Logger
}

func NewWhisper(cfg WhisperConfig) *Whisper {
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Whisper{
		client:   newClient(cfg.APIKey, cfg.BaseURL),
		model:    cfg.Model,
		language: cfg.Language,
		logger:   cfg.Logger,
	}
}

// Transcribe converts audio to text. filename must carry the extension
// (e.g. "voice.ogg"); the API uses it to detect the format.
func (w *Whisper) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: filename,
		Reader:   audio,
		Language: w.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", filename, err)
	}
	w.logger.Info("transcription complete", "file", filename, "text_len", len(resp.Text))
	return resp.Text, nil
}

var _ domain.Transcriber = (*Whisper)(nil)
