package repository

import (
	"context"
	"fmt"

	"github.com/agentdeck/agentdeck/internal/common/config"
)

// New builds a repository for the configured database driver.
func New(ctx context.Context, cfg config.DatabaseConfig) (Repository, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLiteRepository(cfg.Path)
	case "postgres":
		return NewPostgresRepository(ctx, cfg.DSN())
	case "memory":
		return NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}
