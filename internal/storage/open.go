package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/nicorosen/speed-test-monitor/pkg/logx"
)

// Store is the persistence API shared by the dashboard (reads) and the
// measurement CLI (writes).
type Store interface {
	Append(ctx context.Context, r Record) error
	Load(ctx context.Context) ([]Record, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "csv":
		return openCSV(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
