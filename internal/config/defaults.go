package config

// Defaults returns a config that runs the gateway against a local sqlite
// database, an in-process coordination store and one local disk, with
// every channel disabled.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			LogFormat:             "text",
			Workers:               5,
			QueueSize:             100,
			TaskTimeoutSeconds:    300,
			ConfirmTimeoutSeconds: 120,
		},
		HTTP: HTTPConfig{
			Listen: ":8080",
		},
		Coordination: CoordinationConfig{
			Driver: "memory",
		},
		Attachments: AttachmentsConfig{
			DefaultDisk: "local",
			BasePath:    "attachments",
			MaxBytes:    25 << 20,
		},
		Storage: StorageConfig{
			Disks: map[string]DiskConfig{
				"local": {Driver: "local", Root: "~/.clawgate/storage"},
			},
		},
		Tools: ToolsConfig{
			AllowedDisks:      []string{"local"},
			SystemDirectories: []string{"attachments"},
			TTS:               TTSToolConfig{Voice: "alloy"},
			PersonaDir:        "~/.clawgate/personas",
			SkillsDir:         "~/.clawgate/skills",
			WebRequest:        WebRequestToolCfg{Enabled: true},
		},
		Memory: MemoryConfig{
			Driver:       "sqlite",
			SQLitePath:   "~/.clawgate/clawgate.db",
			HistoryLimit: 100,
		},
		Provider: ProviderConfig{
			ChatModel:          "gpt-4o-mini",
			TranscriptionModel: "whisper-1",
			TTSModel:           "gpt-4o-mini-tts",
			MaxIterations:      20,
			RequestsPerMinute:  30,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				ParseMode: "Markdown",
			},
			Email: EmailConfig{
				IMAP:                MailServer{Port: 993, Security: "tls"},
				SMTP:                MailServer{Port: 587, Security: "starttls"},
				Mailbox:             "INBOX",
				PollIntervalSeconds: 60,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
