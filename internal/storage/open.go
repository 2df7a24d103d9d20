package storage

import (
	"context"
	"errors"
	"strings"

	"linechat/pkg/logx"
)

// Store persists session records.
type Store interface {
	AppendSession(ctx context.Context, r SessionRecord) error
	// RecentSessions returns up to limit records, newest first.
	RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// ValidDriver reports whether Open understands driver.
func ValidDriver(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "none", "file", "sqlite", "sqlite3":
		return true
	}
	return false
}
