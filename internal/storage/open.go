package storage

import (
	"context"
	"errors"
	"strings"

	logx "github.com/Leo-Lynt/flow-api/pkg/logx"
)

// Open initializes the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(ctx, cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
