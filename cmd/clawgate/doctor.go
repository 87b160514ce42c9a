package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"clawgate/internal/config"
	"clawgate/internal/memory"
)

const doctorTimeout = 10 * time.Second

type doctorReport struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.out, "  [PASS] %-22s %s\n", check, detail)
}

func (r *doctorReport) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.out, "  [FAIL] %-22s %s\n", check, detail)
}

func (r *doctorReport) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.out, "  [WARN] %-22s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your clawgate installation",
		Long: `Verifies that the configuration, attachment disks, database,
coordination store and provider settings are usable. Reports pass/fail
for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "clawgate doctor v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			r := &doctorReport{out: out}

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Fprintf(out, "\nRun 'clawgate init' to create a default configuration.\n")
				return nil
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				fmt.Fprintf(out, "\n%d passed, %d failed\n", r.passed, r.failed)
				return fmt.Errorf("config is invalid")
			}
			r.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
			defer cancel()

			checkDisks(ctx, r, cfg.Storage)
			checkMemory(ctx, r, cfg.Memory)
			checkCoordination(ctx, r, cfg.Coordination)
			checkProvider(r, cfg)
			checkChannels(r, cfg.Channels)
			if addr := cfg.HTTP.Listen; addr != "" {
				if err := checkListen(addr); err != nil {
					r.warn("HTTP listen", fmt.Sprintf("%s may be in use: %v", addr, err))
				} else {
					r.pass("HTTP listen", addr+" available")
				}
			}

			fmt.Fprintf(out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				fmt.Fprintf(out, "\nPlease fix the failed checks before running clawgate.\n")
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			if r.warned > 0 {
				fmt.Fprintf(out, "\nclawgate should work but consider fixing the warnings.\n")
			} else {
				fmt.Fprintf(out, "\nAll checks passed! clawgate is ready to run.\n")
			}
			return nil
		},
	}
}

// checkDisks writes, checks and deletes a probe file on every disk.
func checkDisks(ctx context.Context, r *doctorReport, cfg config.StorageConfig) {
	names := make([]string, 0, len(cfg.Disks))
	for name := range cfg.Disks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		check := "Disk: " + name
		disk, err := openDisk(ctx, cfg.Disks[name])
		if err != nil {
			r.fail(check, err.Error())
			continue
		}
		probe := ".clawgate-doctor-" + uuid.NewString()
		if err := disk.Put(ctx, probe, strings.NewReader("ok"), "text/plain"); err != nil {
			r.fail(check, fmt.Sprintf("not writable: %v", err))
			continue
		}
		ok, err := disk.Exists(ctx, probe)
		_ = disk.Delete(ctx, probe)
		switch {
		case err != nil:
			r.fail(check, err.Error())
		case !ok:
			r.fail(check, "probe file vanished after write")
		default:
			r.pass(check, cfg.Disks[name].Driver)
		}
	}
}

func checkMemory(ctx context.Context, r *doctorReport, cfg config.MemoryConfig) {
	store, err := memory.Open(ctx, memory.Config{
		Driver:      cfg.Driver,
		SQLitePath:  cfg.SQLitePath,
		PostgresDSN: cfg.PostgresDSN,
	}, logger)
	if err != nil {
		r.fail("Database", err.Error())
		return
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		r.fail("Database", fmt.Sprintf("cannot ping: %v", err))
		return
	}
	detail := cfg.Driver
	if cfg.Driver == "sqlite" {
		detail += " " + cfg.SQLitePath
	}
	r.pass("Database", detail)
}

func checkCoordination(ctx context.Context, r *doctorReport, cfg config.CoordinationConfig) {
	store, closeFn, err := openCoordination(ctx, cfg)
	if err != nil {
		r.fail("Coordination store", err.Error())
		return
	}
	if closeFn != nil {
		defer closeFn()
	}
	if p, ok := store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			r.fail("Coordination store", err.Error())
			return
		}
	}
	if cfg.Driver == "memory" {
		r.warn("Coordination store", "in-process memory; use redis when adapters and workers run in separate processes")
		return
	}
	r.pass("Coordination store", cfg.Driver)
}

func checkProvider(r *doctorReport, cfg *config.Config) {
	pc := cfg.Provider
	switch {
	case pc.APIKey != "":
		r.pass("Provider", pc.ChatModel)
	case pc.BaseURL != "":
		r.warn("Provider", fmt.Sprintf("no API key for %s", pc.BaseURL))
	default:
		r.fail("Provider", "no API key configured (set provider.apiKey or CLAWGATE_OPENAI_API_KEY)")
	}
}

func checkChannels(r *doctorReport, cfg config.ChannelsConfig) {
	var enabled []string
	if cfg.Telegram.Enabled {
		enabled = append(enabled, "telegram")
		if cfg.Telegram.WebhookSecret == "" {
			r.warn("Telegram", "no webhook secret; anyone can post updates")
		}
	}
	if cfg.Slack.Enabled {
		enabled = append(enabled, "slack")
	}
	if cfg.Email.Enabled {
		enabled = append(enabled, "email")
	}
	if cfg.Discord.Enabled {
		enabled = append(enabled, "discord")
	}
	if len(enabled) == 0 {
		r.warn("Channels", "none enabled; only 'clawgate chat' will work")
		return
	}
	r.pass("Channels", strings.Join(enabled, ", "))
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
