package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CLAWGATE_REDIS_URL.
const EnvPrefix = "CLAWGATE_"

// Config is the root configuration for clawgate.
type Config struct {
	General      GeneralConfig      `json:"general" yaml:"general"`
	HTTP         HTTPConfig         `json:"http" yaml:"http"`
	Coordination CoordinationConfig `json:"coordination" yaml:"coordination"`
	Attachments  AttachmentsConfig  `json:"attachments" yaml:"attachments"`
	Storage      StorageConfig      `json:"storage" yaml:"storage"`
	Tools        ToolsConfig        `json:"tools" yaml:"tools"`
	Memory       MemoryConfig       `json:"memory" yaml:"memory"`
	Provider     ProviderConfig     `json:"provider" yaml:"provider"`
	Channels     ChannelsConfig     `json:"channels" yaml:"channels"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel" yaml:"logLevel" env:"LOG_LEVEL"`
	LogFormat             string `json:"logFormat" yaml:"logFormat" env:"LOG_FORMAT"` // "text" | "json"
	Workers               int    `json:"workers" yaml:"workers" env:"WORKERS"`
	QueueSize             int    `json:"queueSize" yaml:"queueSize"`
	TaskTimeoutSeconds    int    `json:"taskTimeoutSeconds" yaml:"taskTimeoutSeconds"`
	ConfirmTimeoutSeconds int    `json:"confirmTimeoutSeconds" yaml:"confirmTimeoutSeconds"`
}

func (g GeneralConfig) TaskTimeout() time.Duration {
	return time.Duration(g.TaskTimeoutSeconds) * time.Second
}

func (g GeneralConfig) ConfirmTimeout() time.Duration {
	return time.Duration(g.ConfirmTimeoutSeconds) * time.Second
}

type HTTPConfig struct {
	Listen   string `json:"listen" yaml:"listen" env:"HTTP_LISTEN"`
	BasePath string `json:"basePath,omitempty" yaml:"basePath,omitempty"`
}

type CoordinationConfig struct {
	Driver   string `json:"driver" yaml:"driver" env:"COORDINATION_DRIVER"` // "memory" | "redis"
	RedisURL string `json:"redisURL,omitempty" yaml:"redisURL,omitempty" env:"REDIS_URL"`
}

type AttachmentsConfig struct {
	DefaultDisk string `json:"defaultDisk" yaml:"defaultDisk"`
	BasePath    string `json:"basePath" yaml:"basePath"`
	MaxBytes    int64  `json:"maxBytes" yaml:"maxBytes"`
}

type StorageConfig struct {
	Disks map[string]DiskConfig `json:"disks" yaml:"disks"`
}

// DiskConfig declares one named disk. Local disks need Root, s3 disks need
// Bucket; empty S3 keys fall back to the default AWS credential chain.
type DiskConfig struct {
	Driver          string `json:"driver" yaml:"driver"` // "local" | "s3"
	Root            string `json:"root,omitempty" yaml:"root,omitempty"`
	Bucket          string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Region          string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Prefix          string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	AccessKeyID     string `json:"accessKeyId,omitempty" yaml:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty" yaml:"secretAccessKey,omitempty"`
	UsePathStyle    bool   `json:"usePathStyle,omitempty" yaml:"usePathStyle,omitempty"`
}

type ToolsConfig struct {
	AllowedDisks      []string          `json:"allowedDisks" yaml:"allowedDisks"`
	SystemDirectories []string          `json:"systemDirectories" yaml:"systemDirectories"`
	TTS               TTSToolConfig     `json:"tts" yaml:"tts"`
	PersonaDir        string            `json:"personaDir,omitempty" yaml:"personaDir,omitempty"`
	DefaultPersona    string            `json:"defaultPersona,omitempty" yaml:"defaultPersona,omitempty"`
	SkillsDir         string            `json:"skillsDir,omitempty" yaml:"skillsDir,omitempty"`
	WebRequest        WebRequestToolCfg `json:"webRequest" yaml:"webRequest"`
}

type TTSToolConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Voice   string `json:"voice,omitempty" yaml:"voice,omitempty"`
}

type WebRequestToolCfg struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type MemoryConfig struct {
	Driver       string `json:"driver" yaml:"driver" env:"MEMORY_DRIVER"` // "sqlite" | "postgres"
	SQLitePath   string `json:"sqlitePath,omitempty" yaml:"sqlitePath,omitempty" env:"SQLITE_PATH"`
	PostgresDSN  string `json:"postgresDSN,omitempty" yaml:"postgresDSN,omitempty" env:"POSTGRES_DSN"`
	HistoryLimit int    `json:"historyLimit" yaml:"historyLimit"`
}

// ProviderConfig points at an OpenAI-compatible API.
type ProviderConfig struct {
	BaseURL            string `json:"baseURL,omitempty" yaml:"baseURL,omitempty" env:"OPENAI_BASE_URL"`
	APIKey             string `json:"apiKey,omitempty" yaml:"apiKey,omitempty" env:"OPENAI_API_KEY"`
	ChatModel          string `json:"chatModel" yaml:"chatModel" env:"OPENAI_MODEL"`
	TranscriptionModel string `json:"transcriptionModel" yaml:"transcriptionModel"`
	TTSModel           string `json:"ttsModel" yaml:"ttsModel"`
	Language           string `json:"language,omitempty" yaml:"language,omitempty"` // transcription hint, ISO-639-1
	MaxIterations      int    `json:"maxIterations" yaml:"maxIterations"`
	RequestsPerMinute  int    `json:"requestsPerMinute" yaml:"requestsPerMinute"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram" envPrefix:"TELEGRAM_"`
	Slack    SlackConfig    `json:"slack" yaml:"slack" envPrefix:"SLACK_"`
	Email    EmailConfig    `json:"email" yaml:"email" envPrefix:"EMAIL_"`
	Discord  DiscordConfig  `json:"discord" yaml:"discord" envPrefix:"DISCORD_"`
}

type TelegramConfig struct {
	Enabled       bool           `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Token         string         `json:"token" yaml:"token" env:"TOKEN"`
	WebhookSecret string         `json:"webhookSecret,omitempty" yaml:"webhookSecret,omitempty" env:"WEBHOOK_SECRET"`
	AllowFrom     FlexStringList `json:"allowFrom" yaml:"allowFrom"`
	ParseMode     string         `json:"parseMode" yaml:"parseMode"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type SlackConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	BotToken      string `json:"botToken" yaml:"botToken" env:"BOT_TOKEN"`
	SigningSecret string `json:"signingSecret" yaml:"signingSecret" env:"SIGNING_SECRET"`
}

type EmailConfig struct {
	Enabled             bool       `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Address             string     `json:"address" yaml:"address" env:"ADDRESS"`
	Name                string     `json:"name,omitempty" yaml:"name,omitempty"`
	IMAP                MailServer `json:"imap" yaml:"imap" envPrefix:"IMAP_"`
	SMTP                MailServer `json:"smtp" yaml:"smtp" envPrefix:"SMTP_"`
	Mailbox             string     `json:"mailbox" yaml:"mailbox"`
	PollIntervalSeconds int        `json:"pollIntervalSeconds" yaml:"pollIntervalSeconds"`
}

func (e EmailConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSeconds) * time.Second
}

type MailServer struct {
	Host     string `json:"host" yaml:"host" env:"HOST"`
	Port     int    `json:"port" yaml:"port" env:"PORT"`
	Security string `json:"security" yaml:"security"` // "tls" | "starttls" | "none"
	Username string `json:"username" yaml:"username" env:"USERNAME"`
	Password string `json:"password" yaml:"password" env:"PASSWORD"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Token   string `json:"token" yaml:"token" env:"TOKEN"`
	GuildID string `json:"guildId,omitempty" yaml:"guildId,omitempty" env:"GUILD_ID"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// DefaultConfigDir returns ~/.clawgate.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawgate"
	}
	return filepath.Join(home, ".clawgate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads the config file at path on top of the defaults, applies
// CLAWGATE_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := unmarshal(path, data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// FromEnv returns the defaults with CLAWGATE_* overrides applied, for
// running without a config file.
func FromEnv() (*Config, error) {
	cfg := Defaults()
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.expandPaths()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with CLAWGATE_* environment variables.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("cannot apply environment overrides: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

func (c *Config) expandPaths() {
	c.Memory.SQLitePath = ExpandPath(c.Memory.SQLitePath)
	c.Tools.PersonaDir = ExpandPath(c.Tools.PersonaDir)
	c.Tools.SkillsDir = ExpandPath(c.Tools.SkillsDir)
	for name, d := range c.Storage.Disks {
		d.Root = ExpandPath(d.Root)
		c.Storage.Disks[name] = d
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Save writes cfg to path, as YAML for .yaml/.yml and JSON otherwise.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// Tokens and passwords live here.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}
	if cfg.General.Workers < 1 || cfg.General.Workers > 100 {
		errs = append(errs, "general.workers must be between 1 and 100")
	}
	if cfg.General.QueueSize < 1 {
		errs = append(errs, "general.queueSize must be >= 1")
	}
	if cfg.General.TaskTimeoutSeconds < 1 {
		errs = append(errs, "general.taskTimeoutSeconds must be >= 1")
	}
	if cfg.General.ConfirmTimeoutSeconds < 1 {
		errs = append(errs, "general.confirmTimeoutSeconds must be >= 1")
	}

	if cfg.HTTP.BasePath != "" && !strings.HasPrefix(cfg.HTTP.BasePath, "/") {
		errs = append(errs, "http.basePath must start with /")
	}

	switch cfg.Coordination.Driver {
	case "memory":
	case "redis":
		if cfg.Coordination.RedisURL == "" {
			errs = append(errs, "coordination.redisURL is required for the redis driver")
		}
	default:
		errs = append(errs, "coordination.driver must be one of: memory, redis")
	}

	errs = append(errs, validateDisks(cfg)...)

	if cfg.Attachments.MaxBytes < 1 {
		errs = append(errs, "attachments.maxBytes must be >= 1")
	}

	switch cfg.Memory.Driver {
	case "sqlite":
		if cfg.Memory.SQLitePath == "" {
			errs = append(errs, "memory.sqlitePath is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Memory.PostgresDSN == "" {
			errs = append(errs, "memory.postgresDSN is required for the postgres driver")
		}
	default:
		errs = append(errs, "memory.driver must be one of: sqlite, postgres")
	}
	if cfg.Memory.HistoryLimit < 1 {
		errs = append(errs, "memory.historyLimit must be >= 1")
	}

	if cfg.Provider.MaxIterations < 1 || cfg.Provider.MaxIterations > 200 {
		errs = append(errs, "provider.maxIterations must be between 1 and 200")
	}
	if cfg.Provider.RequestsPerMinute < 1 {
		errs = append(errs, "provider.requestsPerMinute must be >= 1")
	}

	errs = append(errs, validateChannels(&cfg.Channels)...)

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateDisks(cfg *Config) []string {
	var errs []string
	for name, d := range cfg.Storage.Disks {
		switch d.Driver {
		case "local":
			if d.Root == "" {
				errs = append(errs, fmt.Sprintf("storage.disks.%s: root is required for the local driver", name))
			}
		case "s3":
			if d.Bucket == "" {
				errs = append(errs, fmt.Sprintf("storage.disks.%s: bucket is required for the s3 driver", name))
			}
		default:
			errs = append(errs, fmt.Sprintf("storage.disks.%s: driver must be one of: local, s3", name))
		}
	}

	def := cfg.Attachments.DefaultDisk
	if _, ok := cfg.Storage.Disks[def]; !ok {
		errs = append(errs, fmt.Sprintf("attachments.defaultDisk references unknown disk: %s", def))
	}
	allowed := false
	for _, name := range cfg.Tools.AllowedDisks {
		if _, ok := cfg.Storage.Disks[name]; !ok {
			errs = append(errs, fmt.Sprintf("tools.allowedDisks references unknown disk: %s", name))
		}
		if name == def {
			allowed = true
		}
	}
	if !allowed {
		errs = append(errs, "attachments.defaultDisk must be listed in tools.allowedDisks")
	}
	return errs
}

func validateChannels(ch *ChannelsConfig) []string {
	var errs []string
	if ch.Telegram.Enabled && ch.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if ch.Slack.Enabled {
		if ch.Slack.BotToken == "" {
			errs = append(errs, "channels.slack.botToken is required when slack is enabled")
		}
		if ch.Slack.SigningSecret == "" {
			errs = append(errs, "channels.slack.signingSecret is required when slack is enabled")
		}
	}
	if ch.Email.Enabled {
		if ch.Email.Address == "" {
			errs = append(errs, "channels.email.address is required when email is enabled")
		}
		for name, s := range map[string]MailServer{"imap": ch.Email.IMAP, "smtp": ch.Email.SMTP} {
			if s.Host == "" {
				errs = append(errs, fmt.Sprintf("channels.email.%s.host is required when email is enabled", name))
			}
			switch s.Security {
			case "tls", "starttls", "none":
			default:
				errs = append(errs, fmt.Sprintf("channels.email.%s.security must be one of: tls, starttls, none", name))
			}
		}
		if ch.Email.PollIntervalSeconds < 1 {
			errs = append(errs, "channels.email.pollIntervalSeconds must be >= 1")
		}
	}
	if ch.Discord.Enabled && ch.Discord.Token == "" {
		errs = append(errs, "channels.discord.token is required when discord is enabled")
	}
	return errs
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
