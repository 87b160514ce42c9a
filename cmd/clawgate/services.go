package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clawgate/internal/agent"
	"clawgate/internal/attachment"
	"clawgate/internal/channel"
	"clawgate/internal/command"
	"clawgate/internal/config"
	"clawgate/internal/coordination"
	"clawgate/internal/domain"
	"clawgate/internal/mailbox"
	"clawgate/internal/memory"
	"clawgate/internal/metrics"
	"clawgate/internal/provider"
	"clawgate/internal/skill"
	"clawgate/internal/tool"
)

const (
	redisKeyPrefix = "clawgate:"
	fetchTimeout   = 60 * time.Second
)

type pinger interface {
	Ping(ctx context.Context) error
}

// services holds everything a message task needs, shared by the gateway
// and the terminal chat.
type services struct {
	cfg          *config.Config
	metrics      *metrics.Collector
	coordination domain.CoordinationStore
	env          channel.Env
	fetcher      *attachment.Fetcher
	memory       domain.MemoryStore
	processor    *agent.Processor
	commands     *command.Registry

	closers []func() error
}

func newServices(ctx context.Context, cfg *config.Config, log *slog.Logger, workers int) (svc *services, err error) {
	svc = &services{cfg: cfg}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	if cfg.Metrics.Enabled {
		svc.metrics = metrics.New()
	}

	coordStore, closeCoord, err := openCoordination(ctx, cfg.Coordination)
	if err != nil {
		return svc, err
	}
	svc.coordination = coordStore
	if closeCoord != nil {
		svc.closers = append(svc.closers, closeCoord)
	}

	disks, err := openDisks(ctx, cfg.Storage)
	if err != nil {
		return svc, err
	}
	store, err := attachment.NewStore(attachment.StoreConfig{
		Disks:       disks,
		Allowed:     cfg.Tools.AllowedDisks,
		DefaultDisk: cfg.Attachments.DefaultDisk,
		BasePath:    cfg.Attachments.BasePath,
		MaxBytes:    cfg.Attachments.MaxBytes,
		Logger:      log,
	})
	if err != nil {
		return svc, fmt.Errorf("attachment store: %w", err)
	}
	svc.fetcher = attachment.NewFetcher(store, provider.SharedHTTPClient(fetchTimeout))

	mem, err := memory.Open(ctx, memory.Config{
		Driver:      cfg.Memory.Driver,
		SQLitePath:  cfg.Memory.SQLitePath,
		PostgresDSN: cfg.Memory.PostgresDSN,
	}, log)
	if err != nil {
		return svc, fmt.Errorf("memory store: %w", err)
	}
	svc.memory = mem
	svc.closers = append(svc.closers, mem.Close)

	pc := cfg.Provider
	chat := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  pc.APIKey,
		BaseURL: pc.BaseURL,
		Model:   pc.ChatModel,
		Logger:  log,
	})
	whisper := provider.NewWhisper(provider.WhisperConfig{
		APIKey:   pc.APIKey,
		BaseURL:  pc.BaseURL,
		Model:    pc.TranscriptionModel,
		Language: pc.Language,
		Logger:   log,
	})

	toolCfg := tool.ToolboxConfig{
		Store:             store,
		SystemDirectories: cfg.Tools.SystemDirectories,
		Voice:             cfg.Tools.TTS.Voice,
		PersonaDir:        cfg.Tools.PersonaDir,
		DefaultPersona:    cfg.Tools.DefaultPersona,
		WebRequests:       cfg.Tools.WebRequest.Enabled,
		Logger:            log,
		Metrics:           svc.metrics,
	}
	if cfg.Tools.TTS.Enabled {
		toolCfg.Speech = provider.NewTTS(provider.TTSConfig{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.TTSModel,
			Voice:   cfg.Tools.TTS.Voice,
			Logger:  log,
		})
	}
	if ec := cfg.Channels.Email; ec.Enabled {
		smtp, err := channel.NewSMTPClient(channel.SMTPConfig{
			Host:     ec.SMTP.Host,
			Port:     ec.SMTP.Port,
			Security: ec.SMTP.Security,
			Username: ec.SMTP.Username,
			Password: ec.SMTP.Password,
		})
		if err != nil {
			return svc, fmt.Errorf("email tool: %w", err)
		}
		toolCfg.Mailbox = mailbox.NewManager(mailbox.ManagerConfig{
			IMAP: mailbox.Config{
				Host:     ec.IMAP.Host,
				Port:     ec.IMAP.Port,
				Security: ec.IMAP.Security,
				Username: ec.IMAP.Username,
				Password: ec.IMAP.Password,
			},
			SMTP:     smtp,
			From:     ec.Address,
			FromName: ec.Name,
			Logger:   log,
		})
	}
	if cfg.Tools.SkillsDir != "" {
		skills := skill.NewRegistry(log)
		n, err := skills.Load(cfg.Tools.SkillsDir)
		if err != nil {
			return svc, fmt.Errorf("load skills: %w", err)
		}
		if n > 0 {
			toolCfg.Skills = skills
			log.Info("skills loaded", "count", n, "dir", cfg.Tools.SkillsDir)
		}
	}

	responder := agent.NewResponder(agent.ResponderConfig{
		Provider:          chat,
		Memory:            mem,
		Toolbox:           tool.NewToolbox(toolCfg),
		Logger:            log,
		Model:             pc.ChatModel,
		MaxIterations:     pc.MaxIterations,
		HistoryLimit:      cfg.Memory.HistoryLimit,
		RequestsPerMinute: float64(pc.RequestsPerMinute),
	})

	svc.commands = command.NewRegistry()
	svc.commands.Register(command.NewNewConversation(coordStore))
	svc.commands.Register(command.NewStatus(command.StatusInfo{
		Version:  version,
		Provider: chat.Name() + "/" + pc.ChatModel,
		Workers:  workers,
		Started:  time.Now(),
	}))
	svc.commands.Register(command.NewHelp(svc.commands))

	svc.processor = agent.NewProcessor(agent.ProcessorConfig{
		Responder:    responder,
		Commands:     svc.commands,
		Store:        store,
		Memory:       mem,
		Coordination: coordStore,
		Transcriber:  whisper,
		Logger:       log,
		Metrics:      svc.metrics,
	})

	svc.env = channel.Env{
		Coordinator: coordination.New(coordination.Config{
			Store:   coordStore,
			Timeout: cfg.General.ConfirmTimeout(),
			Logger:  log,
			Metrics: svc.metrics,
		}),
		Store:  store,
		Logger: log,
	}
	return svc, nil
}

// Health pings the memory and coordination stores.
func (s *services) Health(ctx context.Context) error {
	if err := s.memory.Ping(ctx); err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	if p, ok := s.coordination.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("coordination store: %w", err)
		}
	}
	return nil
}

// Close releases the stores in reverse order of opening.
func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// openCoordination returns the store for cfg.Driver and, for Redis, the
// function that closes the client.
func openCoordination(ctx context.Context, cfg config.CoordinationConfig) (domain.CoordinationStore, func() error, error) {
	switch cfg.Driver {
	case "", "memory":
		return coordination.NewMemoryStore(), nil, nil
	case "redis":
		client, err := coordination.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("coordination store: %w", err)
		}
		return coordination.NewRedisStore(client, redisKeyPrefix), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown coordination driver %q", cfg.Driver)
	}
}

// openDisks builds every configured disk.
func openDisks(ctx context.Context, cfg config.StorageConfig) (map[string]attachment.Disk, error) {
	disks := make(map[string]attachment.Disk, len(cfg.Disks))
	for name, d := range cfg.Disks {
		disk, err := openDisk(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("disk %s: %w", name, err)
		}
		disks[name] = disk
	}
	return disks, nil
}

func openDisk(ctx context.Context, d config.DiskConfig) (attachment.Disk, error) {
	switch d.Driver {
	case "local":
		return attachment.NewLocalDisk(d.Root)
	case "s3":
		return attachment.NewS3Disk(ctx, attachment.S3Config{
			Bucket:          d.Bucket,
			Region:          d.Region,
			Endpoint:        d.Endpoint,
			Prefix:          d.Prefix,
			AccessKeyID:     d.AccessKeyID,
			SecretAccessKey: d.SecretAccessKey,
			UsePathStyle:    d.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown disk driver %q", d.Driver)
	}
}
