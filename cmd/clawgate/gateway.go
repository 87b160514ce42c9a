package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"clawgate/internal/agent"
	"clawgate/internal/bus"
	"clawgate/internal/channel"
	"clawgate/internal/config"
)

const shutdownTimeout = 10 * time.Second

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the gateway (webhooks, mailbox, Discord and workers)",
		Long:  "Serves the Telegram and Slack webhooks, listens on the IMAP mailbox and the Discord gateway, and runs the worker pool. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger = newLogger(cfg.General)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newServices(ctx, cfg, logger, cfg.General.Workers)
	if err != nil {
		return err
	}
	defer svc.Close()

	queue := bus.New(cfg.General.QueueSize, logger, svc.metrics)
	pool := agent.NewPool(agent.PoolConfig{
		Source:      queue,
		Processor:   svc.processor,
		Workers:     cfg.General.Workers,
		TaskTimeout: cfg.General.TaskTimeout(),
		Logger:      logger,
		Metrics:     svc.metrics,
	})
	dispatcher := channel.NewDispatcher(channel.DispatcherConfig{
		Env:     svc.env,
		Queue:   queue,
		Metrics: svc.metrics,
	})

	var adapters sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		adapters.Add(1)
		go func() {
			defer adapters.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(name+" stopped", "err", err)
				stop()
			}
		}()
	}

	webhook, err := webhookConfig(cfg, svc, dispatcher)
	if err != nil {
		return err
	}
	run("webhook server", channel.NewWebhookServer(webhook).Start)

	if cfg.Channels.Email.Enabled {
		listener, err := mailboxListener(cfg.Channels.Email, dispatcher)
		if err != nil {
			return err
		}
		run("imap listener", listener.Run)
		logger.Info("email channel enabled", "address", cfg.Channels.Email.Address)
	}

	if cfg.Channels.Discord.Enabled {
		session, err := discordgo.New("Bot " + cfg.Channels.Discord.Token)
		if err != nil {
			return fmt.Errorf("discord session: %w", err)
		}
		adapter := channel.NewDiscordAdapter(channel.DiscordAdapterConfig{
			Session:    session,
			GuildID:    cfg.Channels.Discord.GuildID,
			Dispatcher: dispatcher,
			Fetcher:    svc.fetcher,
			Logger:     logger,
		})
		run("discord gateway", adapter.Run)
		logger.Info("discord channel enabled")
	}

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(ctx)
	}()

	logger.Info("gateway started. Press Ctrl+C to stop.",
		"listen", cfg.HTTP.Listen,
		"workers", pool.Workers(),
		"coordination", cfg.Coordination.Driver,
		"memory", cfg.Memory.Driver,
	)

	<-ctx.Done()
	logger.Info("shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		adapters.Wait()
		queue.Close()
		<-poolDone
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, abandoning running tasks")
		return fmt.Errorf("shutdown timed out")
	}
}

// webhookConfig wires the Telegram and Slack adapters into the HTTP surface.
func webhookConfig(cfg *config.Config, svc *services, dispatcher *channel.Dispatcher) (channel.WebhookConfig, error) {
	wc := channel.WebhookConfig{
		Addr:     cfg.HTTP.Listen,
		BasePath: cfg.HTTP.BasePath,
		Health:   svc.Health,
		Logger:   logger,
	}
	if cfg.Metrics.Enabled {
		wc.Metrics = svc.metrics
		wc.MetricsPath = cfg.Metrics.Path
	}

	if tc := cfg.Channels.Telegram; tc.Enabled {
		api, err := tgbotapi.NewBotAPI(tc.Token)
		if err != nil {
			return wc, fmt.Errorf("telegram bot: %w", err)
		}
		wc.Telegram = channel.NewTelegramAdapter(channel.TelegramAdapterConfig{
			API:        api,
			Dispatcher: dispatcher,
			Fetcher:    svc.fetcher,
			ParseMode:  tc.ParseMode,
			AllowFrom:  tc.AllowFrom,
			Logger:     logger,
		})
		wc.TelegramSecret = tc.WebhookSecret
		logger.Info("telegram channel enabled", "bot", api.Self.UserName)
	}

	if sc := cfg.Channels.Slack; sc.Enabled {
		wc.Slack = channel.NewSlackAdapter(channel.SlackAdapterConfig{
			API:        slack.New(sc.BotToken),
			BotToken:   sc.BotToken,
			Dispatcher: dispatcher,
			Fetcher:    svc.fetcher,
			Logger:     logger,
		})
		wc.SlackSigningSecret = sc.SigningSecret
		logger.Info("slack channel enabled")
	}
	return wc, nil
}

func mailboxListener(ec config.EmailConfig, dispatcher *channel.Dispatcher) (*channel.MailboxListener, error) {
	smtp, err := channel.NewSMTPClient(channel.SMTPConfig{
		Host:     ec.SMTP.Host,
		Port:     ec.SMTP.Port,
		Security: ec.SMTP.Security,
		Username: ec.SMTP.Username,
		Password: ec.SMTP.Password,
	})
	if err != nil {
		return nil, err
	}
	adapter := channel.NewEmailAdapter(channel.EmailAdapterConfig{
		Sender:     smtp,
		ReplyFrom:  channel.Sender{Address: ec.Address, Name: ec.Name},
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	return channel.NewMailboxListener(channel.IMAPConfig{
		Host:         ec.IMAP.Host,
		Port:         ec.IMAP.Port,
		Security:     ec.IMAP.Security,
		Username:     ec.IMAP.Username,
		Password:     ec.IMAP.Password,
		Mailbox:      ec.Mailbox,
		PollInterval: ec.PollInterval(),
	}, adapter, logger), nil
}
