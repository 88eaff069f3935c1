package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flatshare/internal/domain"
	"flatshare/internal/memory"
	"flatshare/internal/mood"
	"flatshare/internal/relationship"
	"flatshare/internal/store"
	"flatshare/internal/strategy"
)

// PersonaView is one persona in a debug snapshot.
type PersonaView struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Mood      int                   `json:"mood"`
	MoodLabel string                `json:"mood_label"`
	Baseline  int                   `json:"baseline"`
	Modifiers mood.Modifiers        `json:"modifiers"`
	Strategy  strategy.PersonaStats `json:"strategy"`
	Memory    memory.Stats          `json:"memory"`
}

// RelationshipView is one pair in a debug snapshot.
type RelationshipView struct {
	A      string `json:"a"`
	B      string `json:"b"`
	Score  int    `json:"score"`
	Status string `json:"status"`
}

// DebugSnapshot is the state view shown to front ends.
type DebugSnapshot struct {
	TakenAt       time.Time          `json:"taken_at"`
	Turn          int                `json:"turn"`
	Generator     string             `json:"generator"`
	Personas      []PersonaView      `json:"personas"`
	Relationships []RelationshipView `json:"relationships"`
	Pending       int                `json:"pending"`
	FailureStreak int                `json:"failure_streak"`
}

// Snapshot returns the debug view. Every pair of the cast is listed,
// including pairs still at the default score.
func (e *Engine) Snapshot() DebugSnapshot {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	snap := DebugSnapshot{
		TakenAt:       e.now(),
		Turn:          e.turn,
		Generator:     e.gen.Name(),
		Pending:       e.pending.Len(),
		FailureStreak: e.failureStreak,
	}
	for _, p := range e.cast {
		m := e.moods.Mood(p.ID)
		snap.Personas = append(snap.Personas, PersonaView{
			ID:        p.ID,
			Name:      p.Name,
			Mood:      m,
			MoodLabel: mood.Describe(m),
			Baseline:  e.moods.Baseline(p.ID),
			Modifiers: e.moods.Modifiers(p.ID),
			Strategy:  e.selector.Stats(p.ID),
			Memory:    e.memory.Stats(p.ID),
		})
	}
	for i, a := range e.cast {
		for _, b := range e.cast[i+1:] {
			s := e.graph.Score(a.ID, b.ID)
			snap.Relationships = append(snap.Relationships, RelationshipView{
				A:      a.ID,
				B:      b.ID,
				Score:  s,
				Status: relationship.StatusFor(s),
			})
		}
	}
	return snap
}

// State returns the restorable simulation state.
func (e *Engine) State() domain.Snapshot {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state()
}

func (e *Engine) state() domain.Snapshot {
	snap := domain.Snapshot{
		TakenAt:       e.now(),
		Moods:         e.moods.All(),
		Relationships: e.graph.Edges(),
		Memory:        make(map[string][]domain.ConversationEntry),
	}
	for _, id := range e.memory.Personas() {
		snap.Memory[id] = e.memory.Entries(id)
	}
	return snap
}

// Restore loads moods, relationships, memory and the shared thread from
// snap. Personas not in the cast are ignored.
func (e *Engine) Restore(snap domain.Snapshot) {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	moods := make(map[string]float64, len(snap.Moods))
	for id, v := range snap.Moods {
		if _, ok := e.index[id]; ok {
			moods[id] = v
		}
	}
	e.moods.Restore(moods, e.now())

	edges := make([]domain.RelationshipEdge, 0, len(snap.Relationships))
	for _, edge := range snap.Relationships {
		_, okA := e.index[edge.A]
		_, okB := e.index[edge.B]
		if okA && okB {
			edges = append(edges, edge)
		}
	}
	e.graph.Restore(edges)

	for id, entries := range snap.Memory {
		if _, ok := e.index[id]; ok || id == memory.ThreadLog {
			e.memory.Restore(id, entries)
		}
	}
	e.logger.Info("state restored",
		"taken_at", snap.TakenAt,
		"moods", len(moods),
		"relationships", len(edges),
	)
}

// Resume restores the latest snapshot from the store. A store with no
// snapshot is not an error.
func (e *Engine) Resume(ctx context.Context) error {
	if e.store == nil {
		return errors.New("no store configured")
	}
	snap, err := e.store.LoadSnapshot(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoSnapshot) {
			e.logger.Info("no snapshot to resume")
			return nil
		}
		return fmt.Errorf("load snapshot: %w", err)
	}
	e.Restore(*snap)
	return nil
}

// persist saves the turn transcript and a state snapshot. Failures are
// logged only.
func (e *Engine) persist(ctx context.Context, u domain.Utterance, res *TurnResult) {
	if e.store == nil || res == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	rec := domain.TurnRecord{
		ID:        res.TurnID,
		Timestamp: u.Timestamp,
		Speaker:   u.Speaker,
		Utterance: u.Text,
		Topic:     res.Topic,
	}
	for _, r := range res.Responses {
		rec.Responses = append(rec.Responses, domain.ResponseRecord{
			PersonaID: r.PersonaID,
			Target:    r.Target,
			Strategy:  string(r.Strategy),
			Text:      r.Text,
			Backup:    r.Backup,
		})
	}
	if err := e.store.SaveTurn(ctx, rec); err != nil {
		e.logger.Warn("save turn failed", "turn", res.TurnID, "err", err)
	}
	if err := e.store.SaveSnapshot(ctx, e.State()); err != nil {
		e.logger.Warn("save snapshot failed", "err", err)
	}
}
