package domain

import (
	"context"
	"time"
)

// SnapshotStore persists simulation state outside the process. It is optional:
// the simulation runs fully in memory without one.
type SnapshotStore interface {
	SaveTurn(ctx context.Context, turn TurnRecord) error
	RecentTurns(ctx context.Context, limit int) ([]TurnRecord, error)
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
	Close() error
}

// TurnRecord is the transcript of one committed turn.
type TurnRecord struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Speaker   string           `json:"speaker"`
	Utterance string           `json:"utterance"`
	Topic     string           `json:"topic,omitempty"`
	Responses []ResponseRecord `json:"responses"`
}

type ResponseRecord struct {
	PersonaID string `json:"persona_id"`
	Target    string `json:"target"`
	Strategy  string `json:"strategy"`
	Text      string `json:"text"`
	Backup    bool   `json:"backup,omitempty"`
}

// RelationshipEdge is one unordered pair with its score. A is always the
// lexically smaller ID.
type RelationshipEdge struct {
	A     string `json:"a"`
	B     string `json:"b"`
	Score int    `json:"score"`
}

// Snapshot is the restorable state of the simulation.
type Snapshot struct {
	TakenAt       time.Time                      `json:"taken_at"`
	Moods         map[string]float64             `json:"moods"`
	Relationships []RelationshipEdge             `json:"relationships"`
	Memory        map[string][]ConversationEntry `json:"memory"`
}
