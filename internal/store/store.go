// Package store persists turn transcripts and simulation snapshots.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"flatshare/internal/config"
	"flatshare/internal/domain"
)

// ErrNoSnapshot is returned by LoadSnapshot when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

// keepSnapshots is how many snapshots a SQL store retains.
const keepSnapshots = 5

// Open creates the store selected by cfg.Driver. The "none" driver returns a
// nil store and no error.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (domain.SnapshotStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(cfg.Driver) {
	case "", "none":
		return nil, nil
	case "sqlite":
		s, err := NewSQLiteStore(SQLiteConfig{
			Path:            cfg.DBPath,
			TranscriptLimit: cfg.TranscriptLimit,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := NewRedisStore(ctx, RedisConfig{
			Addr:            cfg.RedisAddr,
			Password:        cfg.RedisPassword,
			DB:              cfg.RedisDB,
			KeyPrefix:       cfg.KeyPrefix,
			TranscriptLimit: cfg.TranscriptLimit,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}
