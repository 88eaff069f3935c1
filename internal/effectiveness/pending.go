package effectiveness

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Response identifies one persona's delivered line within a turn.
type Response struct {
	PersonaID string `json:"persona_id"`
	Target    string `json:"target"`
	Strategy  string `json:"strategy"`
	Defends   string `json:"defends,omitempty"` // persona stuck up for, if any
	EntryID   string `json:"entry_id"`
	Text      string `json:"text"`
}

// PendingEvaluation is a dispatched turn waiting for the user's reaction.
type PendingEvaluation struct {
	ID        string     `json:"id"`
	TurnID    string     `json:"turn_id"`
	CreatedAt time.Time  `json:"created_at"`
	Responses []Response `json:"responses"`
}

type QueueConfig struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// Queue holds pending evaluations in dispatch order.
type Queue struct {
	mu      sync.Mutex
	items   []PendingEvaluation
	timeout time.Duration
	logger  *slog.Logger
}

func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue{timeout: cfg.Timeout, logger: cfg.Logger}
}

// Push enqueues a turn's responses and returns the new evaluation.
func (q *Queue) Push(turnID string, at time.Time, responses []Response) PendingEvaluation {
	p := PendingEvaluation{
		ID:        uuid.NewString(),
		TurnID:    turnID,
		CreatedAt: at,
		Responses: append([]Response(nil), responses...),
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, p)
	q.logger.Debug("pending evaluation queued", "id", p.ID, "turn", turnID, "responses", len(responses))
	return p
}

// Due reports, without changing the queue, what an utterance at now would
// settle: the most recent evaluation still inside the timeout, and every
// evaluation that has expired.
func (q *Queue) Due(now time.Time) (latest *PendingEvaluation, expired []PendingEvaluation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		p := q.items[i]
		if now.Sub(p.CreatedAt) > q.timeout {
			expired = append(expired, p)
			continue
		}
		latest = &p
	}
	return latest, expired
}

// Remove drops evaluations by ID.
func (q *Queue) Remove(ids ...string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, p := range q.items {
		if !drop[p.ID] {
			kept = append(kept, p)
		}
	}
	q.logger.Debug("pending evaluations settled", "removed", len(q.items)-len(kept))
	q.items = kept
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the queue, oldest first.
func (q *Queue) Pending() []PendingEvaluation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]PendingEvaluation(nil), q.items...)
}
