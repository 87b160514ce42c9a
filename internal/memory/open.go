package memory

import (
	"context"
	"fmt"
	"log/slog"

	"clawgate/internal/domain"
)

// Config selects and configures the memory backend.
type Config struct {
	Driver      string // sqlite | postgres
	SQLitePath  string
	PostgresDSN string
}

// Open returns the store for cfg.Driver.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (domain.MemoryStore, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(cfg.SQLitePath, logger)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown memory driver %q", cfg.Driver)
	}
}
