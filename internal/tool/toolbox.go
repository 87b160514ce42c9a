package tool

import (
	"log/slog"

	"clawgate/internal/attachment"
	"clawgate/internal/domain"
	"clawgate/internal/metrics"
	"clawgate/internal/skill"
)

// ToolboxConfig holds the long-lived dependencies shared by every task.
type ToolboxConfig struct {
	Store             *attachment.Store
	SystemDirectories []string
	// Speech enables text_to_speech when set.
	Speech         domain.SpeechSynthesizer
	Voice          string
	PersonaDir     string
	DefaultPersona string
	// Skills enables use_skill when set.
	Skills      *skill.Registry
	WebRequests bool
	// Mailbox enables the email tool when set.
	Mailbox domain.Mailbox
	Logger  *slog.Logger
	Metrics     *metrics.Collector
}

// Toolbox builds the per-task tool registry.
type Toolbox struct {
	cfg ToolboxConfig
}

func NewToolbox(cfg ToolboxConfig) *Toolbox {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Toolbox{cfg: cfg}
}

// ForTask returns the tools of one task. Confirmations go to ch, synthesized
// audio is recorded in audio and produced images in photo.
func (b *Toolbox) ForTask(ch Confirmer, audio *PendingAudio, photo *PendingPhoto) *Registry {
	reg := NewRegistry(b.cfg.Logger, b.cfg.Metrics)
	if b.cfg.Store != nil {
		reg.Register(NewFiles(b.cfg.Store, b.cfg.SystemDirectories, ch))
		reg.Register(NewImage(b.cfg.Store, photo))
	}
	if b.cfg.Mailbox != nil {
		reg.Register(NewEmail(b.cfg.Mailbox, ch))
	}
	if b.cfg.WebRequests {
		reg.Register(NewWebRequest(ch))
	}
	if b.cfg.Speech != nil && audio != nil {
		reg.Register(NewTextToSpeech(b.cfg.Speech, b.cfg.Voice, audio))
	}
	if b.cfg.PersonaDir != "" {
		reg.Register(NewPersona(b.cfg.PersonaDir, b.cfg.DefaultPersona))
	}
	if b.cfg.Skills != nil {
		reg.Register(NewUseSkill(b.cfg.Skills))
	}
	return reg
}

// DefaultPersona returns the configured persona instructions, empty when
// none is set or the file cannot be read.
func (b *Toolbox) DefaultPersona() string {
	if b.cfg.PersonaDir == "" || b.cfg.DefaultPersona == "" {
		return ""
	}
	content, err := ReadPersona(b.cfg.PersonaDir, b.cfg.DefaultPersona)
	if err != nil {
		b.cfg.Logger.Warn("default persona unavailable", "persona", b.cfg.DefaultPersona, "err", err)
		return ""
	}
	return content
}
