package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"clawgate/internal/agent"
	"clawgate/internal/channel"
	"clawgate/internal/config"
	"clawgate/internal/domain"
)

func chatCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured level instead of warnings only")
	return cmd
}

func runChat(verbose bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	general := cfg.General
	if !verbose && (general.LogLevel == "debug" || general.LogLevel == "info") {
		general.LogLevel = "warn"
	}
	logger = newLogger(general)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newServices(ctx, cfg, logger, 1)
	if err != nil {
		return err
	}
	defer svc.Close()

	pool := agent.NewPool(agent.PoolConfig{
		Processor:   svc.processor,
		Workers:     1,
		TaskTimeout: cfg.General.TaskTimeout(),
		Logger:      logger,
		Metrics:     svc.metrics,
	})
	// Tasks run on the REPL goroutine so a confirmation prompt reads the
	// next line itself.
	inline := channel.InlineQueue(func(ctx context.Context, ch domain.Channel) {
		pool.RunTask(ctx, ch)
	})
	dispatcher := channel.NewDispatcher(channel.DispatcherConfig{
		Env:     svc.env,
		Queue:   inline,
		Metrics: svc.metrics,
	})

	session, err := channel.NewTerminalSession(channel.TerminalConfig{
		Dispatcher:  dispatcher,
		HistoryFile: filepath.Join(config.DefaultConfigDir(), "chat_history"),
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	return session.Run(ctx)
}
