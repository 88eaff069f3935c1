package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flatshare/internal/config"
	"flatshare/internal/domain"
)

func sampleTurn(i int, at time.Time) domain.TurnRecord {
	return domain.TurnRecord{
		ID:        fmt.Sprintf("turn-%d", i),
		Timestamp: at,
		Speaker:   "user",
		Utterance: fmt.Sprintf("message %d", i),
		Topic:     "cooking",
		Responses: []domain.ResponseRecord{
			{PersonaID: "chefcritic", Target: "user", Strategy: "passive_aggressive", Text: "Bold choice."},
			{PersonaID: "uncleji", Target: "chefcritic", Strategy: "cultural", Text: "Beta, back in my day...", Backup: true},
		},
	}
}

func sampleSnapshot() domain.Snapshot {
	return domain.Snapshot{
		TakenAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Moods:         map[string]float64{"chefcritic": 62.5, "uncleji": 40},
		Relationships: []domain.RelationshipEdge{{A: "chefcritic", B: "uncleji", Score: 35}},
		Memory: map[string][]domain.ConversationEntry{
			"chefcritic": {{ID: "m1", Timestamp: time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC), Speaker: "user", Message: "I microwaved sushi", Tags: []string{"cooking"}}},
		},
	}
}

// exerciseStore runs the shared contract against any SnapshotStore.
func exerciseStore(t *testing.T, s domain.SnapshotStore) {
	ctx := context.Background()

	_, err := s.LoadSnapshot(ctx)
	require.ErrorIs(t, err, ErrNoSnapshot)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveTurn(ctx, sampleTurn(i, base.Add(time.Duration(i)*time.Minute))))
	}

	turns, err := s.RecentTurns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "turn-3", turns[0].ID)
	assert.Equal(t, "turn-4", turns[1].ID)
	assert.Equal(t, "cooking", turns[1].Topic)
	require.Len(t, turns[1].Responses, 2)
	assert.Equal(t, "uncleji", turns[1].Responses[1].PersonaID)
	assert.True(t, turns[1].Responses[1].Backup)
	assert.False(t, turns[1].Responses[0].Backup)

	// Limit 3 on the store keeps only the newest three.
	all, err := s.RecentTurns(ctx, 100)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "turn-2", all[0].ID)

	empty, err := s.RecentTurns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	first := sampleSnapshot()
	require.NoError(t, s.SaveSnapshot(ctx, first))
	second := sampleSnapshot()
	second.Moods["chefcritic"] = 80
	require.NoError(t, s.SaveSnapshot(ctx, second))

	got, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80.0, got.Moods["chefcritic"])
	assert.Equal(t, second.Relationships, got.Relationships)
	require.Len(t, got.Memory["chefcritic"], 1)
	assert.Equal(t, "I microwaved sushi", got.Memory["chefcritic"][0].Message)
	assert.True(t, got.TakenAt.Equal(second.TakenAt))
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(SQLiteConfig{
		Path:            filepath.Join(t.TempDir(), "nested", "flatshare.db"),
		TranscriptLimit: 3,
		Logger:          testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	exerciseStore(t, s)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flatshare.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(SQLiteConfig{Path: path, Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, s.SaveTurn(ctx, sampleTurn(1, time.Now())))
	require.NoError(t, s.SaveSnapshot(ctx, sampleSnapshot()))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(SQLiteConfig{Path: path, Logger: testLogger()})
	require.NoError(t, err)
	defer s.Close()
	turns, err := s.RecentTurns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	_, err = s.LoadSnapshot(ctx)
	require.NoError(t, err)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), RedisConfig{
		Addr:            mr.Addr(),
		KeyPrefix:       "test:",
		TranscriptLimit: 3,
		Logger:          testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	exerciseStore(t, s)

	assert.True(t, mr.Exists("test:turns"))
	assert.True(t, mr.Exists("test:snapshot"))
}

func TestRedisStore_SkipsUndecodableTurns(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), RedisConfig{Logger: testLogger()})
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.SaveTurn(ctx, sampleTurn(1, time.Now())))
	_, err := mr.RPush("flatshare:turns", "{not json")
	require.NoError(t, err)

	turns, err := s.RecentTurns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "turn-1", turns[0].ID)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), RedisConfig{Addr: addr, Logger: testLogger()})
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Driver: "none"}, testLogger())
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Open(ctx, config.StoreConfig{Driver: "sqlite", DBPath: filepath.Join(t.TempDir(), "x.db")}, testLogger())
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, s)
	s.Close()

	mr := miniredis.RunT(t)
	s, err = Open(ctx, config.StoreConfig{Driver: "redis", RedisAddr: mr.Addr()}, testLogger())
	require.NoError(t, err)
	require.IsType(t, &RedisStore{}, s)
	s.Close()

	_, err = Open(ctx, config.StoreConfig{Driver: "etcd"}, testLogger())
	assert.Error(t, err)
}
