package engine

import (
	"errors"
	"time"

	"flatshare/internal/effectiveness"
	"flatshare/internal/memory"
	"flatshare/internal/mood"
	"flatshare/internal/relationship"
	"flatshare/internal/strategy"
)

// lowAffinity is the score under which a successful roast pushes a pair
// further apart.
const lowAffinity = 30

// Evaluation is a scored pending evaluation.
type Evaluation struct {
	PendingID string                   `json:"pending_id"`
	TurnID    string                   `json:"turn_id"`
	Responses []effectiveness.Response `json:"responses"`
	Scores    []float64                `json:"scores"`
}

// Feedback is what an utterance settled: the latest pending evaluation,
// scored against the reaction, and any that expired as neutral.
type Feedback struct {
	Resolved *Evaluation  `json:"resolved,omitempty"`
	Expired  []Evaluation `json:"expired,omitempty"`
}

// stageFeedback scores pending evaluations against a reaction without
// changing any state. Callers hold stateMu.
func (e *Engine) stageFeedback(now time.Time, reaction string, sentiment float64) *Feedback {
	latest, expired := e.pending.Due(now)
	if latest == nil && len(expired) == 0 {
		return nil
	}
	fb := &Feedback{}
	if latest != nil {
		r := &effectiveness.Reaction{Text: reaction, Sentiment: sentiment, Latency: now.Sub(latest.CreatedAt)}
		ev := Evaluation{PendingID: latest.ID, TurnID: latest.TurnID, Responses: latest.Responses}
		for _, resp := range latest.Responses {
			ev.Scores = append(ev.Scores, e.scorer.Score(resp.Text, r))
		}
		fb.Resolved = &ev
	}
	for _, p := range expired {
		ev := Evaluation{PendingID: p.ID, TurnID: p.TurnID, Responses: p.Responses}
		for range p.Responses {
			ev.Scores = append(ev.Scores, effectiveness.Neutral)
		}
		fb.Expired = append(fb.Expired, ev)
	}
	return fb
}

// applyFeedback commits staged scores. Expired evaluations only reach the
// strategy history. Callers hold stateMu.
func (e *Engine) applyFeedback(fb *Feedback) {
	if fb == nil {
		return
	}
	var settled []string
	for _, ev := range fb.Expired {
		for i, resp := range ev.Responses {
			e.selector.Record(resp.PersonaID, strategy.Strategy(resp.Strategy), ev.Scores[i])
		}
		settled = append(settled, ev.PendingID)
	}
	if ev := fb.Resolved; ev != nil {
		for i, resp := range ev.Responses {
			e.applyScore(resp, ev.Scores[i])
		}
		settled = append(settled, ev.PendingID)
	}
	e.pending.Remove(settled...)
}

func (e *Engine) applyScore(resp effectiveness.Response, score float64) {
	pid := resp.PersonaID
	e.selector.Record(pid, strategy.Strategy(resp.Strategy), score)
	if err := e.memory.AttachEffectiveness(pid, resp.EntryID, score); err != nil {
		if errors.Is(err, memory.ErrUnknownEntry) {
			e.logger.Debug("scored entry already evicted", "persona", pid, "entry", resp.EntryID)
		} else {
			e.logger.Warn("attach effectiveness failed", "persona", pid, "err", err)
		}
	}

	_, targetIsPersona := e.index[resp.Target]
	intensity := e.scorer.Intensity(score)
	switch e.scorer.Classify(score) {
	case effectiveness.OutcomeSuccess:
		e.moods.Update(pid, mood.RoastDelivered, intensity)
		if !targetIsPersona {
			break
		}
		e.moods.Update(resp.Target, mood.RoastReceived, spiceIntensity(e.index[pid].Spice))
		switch {
		case resp.Defends != "":
			e.graph.Apply(pid, resp.Defends, relationship.Defend, true)
			e.moods.Update(resp.Defends, mood.Defended, intensity)
		case e.graph.Score(pid, resp.Target) < lowAffinity:
			e.graph.Apply(pid, resp.Target, relationship.Roast, true)
		}
	case effectiveness.OutcomeFailure:
		e.moods.Update(pid, mood.RoastFailed, intensity)
	}
	e.logger.Debug("effectiveness applied",
		"persona", pid,
		"strategy", resp.Strategy,
		"score", score,
	)
}

// spiceIntensity maps a persona's 1..5 spice onto the 1..10 event scale.
func spiceIntensity(spice int) int {
	return max(1, min(10, spice*2))
}
