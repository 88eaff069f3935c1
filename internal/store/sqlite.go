package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"flatshare/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	Path            string
	TranscriptLimit int // turns kept; 0 keeps everything
	Logger          *slog.Logger
}

// SQLiteStore implements domain.SnapshotStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	limit  int
	logger *slog.Logger
}

func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	logger.Debug("sqlite store ready", "path", cfg.Path)
	return &SQLiteStore{db: db, limit: cfg.TranscriptLimit, logger: logger}, nil
}

func (s *SQLiteStore) SaveTurn(ctx context.Context, turn domain.TurnRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save turn: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO turns (id, speaker, utterance, topic, created_at) VALUES (?, ?, ?, ?, ?)",
		turn.ID, turn.Speaker, turn.Utterance, turn.Topic, turn.Timestamp.UTC(),
	); err != nil {
		return fmt.Errorf("insert turn %s: %w", turn.ID, err)
	}
	for i, r := range turn.Responses {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO responses (turn_id, seq, persona_id, target, strategy, text, backup) VALUES (?, ?, ?, ?, ?, ?, ?)",
			turn.ID, i, r.PersonaID, r.Target, r.Strategy, r.Text, r.Backup,
		); err != nil {
			return fmt.Errorf("insert response %d of turn %s: %w", i, turn.ID, err)
		}
	}
	if s.limit > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM responses WHERE turn_id IN (
				SELECT id FROM turns ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?)`,
			s.limit,
		); err != nil {
			return fmt.Errorf("prune responses: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM turns WHERE id IN (SELECT id FROM turns ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?)",
			s.limit,
		); err != nil {
			return fmt.Errorf("prune turns: %w", err)
		}
	}
	return tx.Commit()
}

// RecentTurns returns up to limit of the newest turns, oldest first.
func (s *SQLiteStore) RecentTurns(ctx context.Context, limit int) ([]domain.TurnRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, speaker, utterance, COALESCE(topic, ''), created_at FROM turns ORDER BY created_at DESC, rowid DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	var turns []domain.TurnRecord
	for rows.Next() {
		var t domain.TurnRecord
		if err := rows.Scan(&t.ID, &t.Speaker, &t.Utterance, &t.Topic, &t.Timestamp); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(turns)

	for i := range turns {
		responses, err := s.responses(ctx, turns[i].ID)
		if err != nil {
			return nil, err
		}
		turns[i].Responses = responses
	}
	return turns, nil
}

func (s *SQLiteStore) responses(ctx context.Context, turnID string) ([]domain.ResponseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT persona_id, COALESCE(target, ''), COALESCE(strategy, ''), text, backup FROM responses WHERE turn_id = ? ORDER BY seq",
		turnID,
	)
	if err != nil {
		return nil, fmt.Errorf("query responses of %s: %w", turnID, err)
	}
	defer rows.Close()

	var out []domain.ResponseRecord
	for rows.Next() {
		var r domain.ResponseRecord
		if err := rows.Scan(&r.PersonaID, &r.Target, &r.Strategy, &r.Text, &r.Backup); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now()
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO snapshots (taken_at, body) VALUES (?, ?)", snap.TakenAt.UTC(), string(body),
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)", keepSnapshots,
	); err != nil {
		s.logger.Warn("prune snapshots failed", "err", err)
	}
	return nil
}

// LoadSnapshot returns the newest snapshot, or ErrNoSnapshot.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	var body string
	err := s.db.QueryRowContext(ctx, "SELECT body FROM snapshots ORDER BY id DESC LIMIT 1").Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
