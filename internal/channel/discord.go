package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/bwmarrin/discordgo"

	"clawgate/internal/attachment"
	"clawgate/internal/domain"
	"clawgate/internal/metrics"
)

const (
	protocolDiscord = "discord"

	discordMaxMsgLen     = 2000
	discordMaxPhotoBytes = 25 << 20
)

// DiscordAPI is the part of *discordgo.Session the channel uses.
type DiscordAPI interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelFileSendWithMessage(channelID, content string, name string, r io.Reader, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord is one Discord text channel or DM.
type Discord struct {
	Base

	channelID string
	api       DiscordAPI
}

// DiscordIdentifier is the channel identity of a Discord channel.
func DiscordIdentifier(channelID string) string { return "discord:" + channelID }

// Acknowledge shows the typing indicator.
func (d *Discord) Acknowledge(ctx context.Context) {
	if err := d.api.ChannelTyping(d.channelID, discordgo.WithContext(ctx)); err != nil {
		d.log().Warn("discord typing indicator failed", "error", err)
	}
}

func (d *Discord) Send(ctx context.Context, message string) error {
	for _, chunk := range splitMessage(message, discordMaxMsgLen) {
		if _, err := d.api.ChannelMessageSend(d.channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// SendAudio uploads the file. Captions too long for one message follow as
// regular messages.
func (d *Discord) SendAudio(ctx context.Context, filePath, caption string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	content, rest := caption, ""
	if len(caption) > discordMaxMsgLen {
		content, rest = "", caption
	}
	if _, err := d.api.ChannelFileSendWithMessage(d.channelID, content, filepath.Base(filePath), f, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord upload audio: %w", err)
	}
	if rest != "" {
		return d.Send(ctx, rest)
	}
	return nil
}

// SendPhoto uploads an image from the attachment store.
func (d *Discord) SendPhoto(ctx context.Context, disk, p string) error {
	rc, err := d.env.Store.Get(ctx, disk, p)
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}
	defer rc.Close()
	body := io.LimitReader(rc, discordMaxPhotoBytes)
	if _, err := d.api.ChannelFileSendWithMessage(d.channelID, "", path.Base(p), body, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord upload photo: %w", err)
	}
	return nil
}

func (d *Discord) Confirm(ctx context.Context, message string, timeout time.Duration) (bool, error) {
	return d.env.Coordinator.Confirm(ctx, d, message, timeout)
}

type DiscordAdapterConfig struct {
	Session    *discordgo.Session
	GuildID    string // limits guild messages to one guild; DMs always pass
	Dispatcher *Dispatcher
	Fetcher    *attachment.Fetcher
	Logger     *slog.Logger
}

// DiscordAdapter listens on the Discord gateway.
type DiscordAdapter struct {
	session    *discordgo.Session
	api        DiscordAPI
	guildID    string
	dispatcher *Dispatcher
	fetcher    *attachment.Fetcher
	logger     *slog.Logger
}

func NewDiscordAdapter(cfg DiscordAdapterConfig) *DiscordAdapter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	a := &DiscordAdapter{
		session:    cfg.Session,
		guildID:    cfg.GuildID,
		dispatcher: cfg.Dispatcher,
		fetcher:    cfg.Fetcher,
		logger:     cfg.Logger,
	}
	if cfg.Session != nil {
		a.api = cfg.Session
	}
	return a
}

// Run connects to the gateway and blocks until ctx is cancelled.
func (a *DiscordAdapter) Run(ctx context.Context) error {
	a.session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		botID := ""
		if s.State != nil && s.State.User != nil {
			botID = s.State.User.ID
		}
		if _, err := a.handleMessage(ctx, botID, m.Message); err != nil {
			a.logger.Error("discord message failed", "channel_id", m.ChannelID, "error", err)
		}
	})

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	a.logger.Info("discord bot connected")

	<-ctx.Done()
	a.logger.Info("discord bot disconnecting")
	return a.session.Close()
}

func (a *DiscordAdapter) handleMessage(ctx context.Context, botID string, m *discordgo.Message) (string, error) {
	if m == nil || m.Author == nil || m.Author.ID == botID || m.Author.Bot {
		a.dispatcher.Ignore(protocolDiscord)
		return metrics.InboundIgnored, nil
	}
	if a.guildID != "" && m.GuildID != "" && m.GuildID != a.guildID {
		a.dispatcher.Ignore(protocolDiscord)
		return metrics.InboundIgnored, nil
	}

	text := m.Content
	return a.dispatcher.Dispatch(ctx, DiscordIdentifier(m.ChannelID), text, func(ctx context.Context) (domain.Channel, error) {
		remotes := make([]attachment.Remote, 0, len(m.Attachments))
		for _, att := range m.Attachments {
			remotes = append(remotes, attachment.Remote{URL: att.URL, Filename: att.Filename, MimeType: att.ContentType})
		}
		attachments := fetchAll(ctx, a.fetcher, protocolDiscord, remotes, a.logger)
		return &Discord{
			Base:      newBase(DiscordIdentifier(m.ChannelID), text, attachments, a.dispatcher.Env()),
			channelID: m.ChannelID,
			api:       a.api,
		}, nil
	})
}
