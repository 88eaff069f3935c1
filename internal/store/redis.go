package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"flatshare/internal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr            string
	Password        string
	DB              int
	KeyPrefix       string // default "flatshare:"
	TranscriptLimit int    // turns kept; 0 keeps everything
	Logger          *slog.Logger
}

// RedisStore implements domain.SnapshotStore on Redis. Turns are JSON
// entries in a list trimmed to the transcript limit; the snapshot is a single
// string key overwritten on every save.
type RedisStore struct {
	client *redis.Client
	prefix string
	limit  int
	logger *slog.Logger
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s := newRedisStore(client, cfg)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	s.logger.Debug("redis store ready", "addr", cfg.Addr, "prefix", s.prefix)
	return s, nil
}

func newRedisStore(client *redis.Client, cfg RedisConfig) *RedisStore {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "flatshare:"
	}
	return &RedisStore{client: client, prefix: prefix, limit: cfg.TranscriptLimit, logger: logger}
}

func (s *RedisStore) turnsKey() string    { return s.prefix + "turns" }
func (s *RedisStore) snapshotKey() string { return s.prefix + "snapshot" }

func (s *RedisStore) SaveTurn(ctx context.Context, turn domain.TurnRecord) error {
	body, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn %s: %w", turn.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, s.turnsKey(), body)
		if s.limit > 0 {
			p.LTrim(ctx, s.turnsKey(), int64(-s.limit), -1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save turn %s: %w", turn.ID, err)
	}
	return nil
}

// RecentTurns returns up to limit of the newest turns, oldest first.
func (s *RedisStore) RecentTurns(ctx context.Context, limit int) ([]domain.TurnRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, s.turnsKey(), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}
	turns := make([]domain.TurnRecord, 0, len(raw))
	for _, r := range raw {
		var t domain.TurnRecord
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			s.logger.Warn("skipping undecodable turn", "err", err)
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *RedisStore) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now()
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.snapshotKey(), body, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot, or ErrNoSnapshot.
func (s *RedisStore) LoadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	body, err := s.client.Get(ctx, s.snapshotKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
