package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"clawgate/internal/domain"
)

// TTSConfig configures text-to-speech.
type TTSConfig struct {
	APIKey  string
	BaseURL string
	Model   string // e.g. "gpt-4o-mini-tts" or "tts-1"
	Voice   string // default voice: alloy, echo, fable, onyx, nova, shimmer
	Logger  *slog.Logger
}

// TTS synthesizes MP3 speech through the OpenAI-compatible speech API.
type TTS struct {
	client *openai.Client
	model  string
	voice  string
	logger *slog.Logger
}

func NewTTS(cfg TTSConfig) *TTS {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini-tts"
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TTS{
		client: newClient(cfg.APIKey, cfg.BaseURL),
		model:  cfg.Model,
		voice:  cfg.Voice,
		logger: cfg.Logger,
	}
}

// Synthesize returns MP3 audio for text. An empty voice uses the configured
// default; instructions steer tone and are ignored by the tts-1 models.
func (t *TTS) Synthesize(ctx context.Context, text, voice, instructions string) (io.ReadCloser, error) {
	if voice == "" {
		voice = t.voice
	}
	resp, err := t.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(t.model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		Instructions:   instructions,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}
	t.logger.Debug("speech synthesized", "voice", voice, "text_len", len(text))
	return resp, nil
}

var _ domain.SpeechSynthesizer = (*TTS)(nil)
