package engine

import (
	"context"

	"github.com/google/uuid"

	"flatshare/internal/domain"
	"flatshare/internal/strategy"
)

// Initiate lets the flat talk without the user. After lazy decay, the
// grumpiest persona whose mood says to start something roasts the housemate
// it likes least, and housemates fond enough of that target may jump to
// its defense. It returns nil when nobody feels like starting.
func (e *Engine) Initiate(ctx context.Context) (*TurnResult, error) {
	return e.initiate(ctx, nil)
}

func (e *Engine) initiate(ctx context.Context, sink StreamFunc) (*TurnResult, error) {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	now := e.now()
	e.stateMu.Lock()
	e.moods.DecayElapsed(now)
	starter, ok := e.pickInitiator()
	if !ok || len(e.cast) < 2 {
		e.stateMu.Unlock()
		return nil, nil
	}
	target := e.leastLiked(starter)
	analysis := domain.AnalysisResult{}
	convCtx := e.analyzer.BuildContext(e.thread(e.cfg.ThreadTurns))
	u := domain.Utterance{Speaker: starter.ID, Timestamp: now}

	tp := e.index[target]
	lines := []line{{persona: starter, target: target, targetPersona: tp, mode: strategy.ModeRoast}}
	e.compose(&lines[0], u, analysis, convCtx)
	for _, p := range e.cast {
		if len(lines) >= e.maxSpeakers() {
			break
		}
		if p.ID == starter.ID || p.ID == target {
			continue
		}
		if !e.graph.ShouldDefend(p.ID, target) {
			continue
		}
		l := line{
			persona:       p,
			target:        starter.ID,
			targetPersona: e.index[starter.ID],
			mode:          strategy.ModeDefend,
			defends:       target,
		}
		e.compose(&l, u, analysis, convCtx)
		lines = append(lines, l)
	}
	index := e.turn + 1
	e.stateMu.Unlock()

	e.logger.Info("banter started", "persona", starter.ID, "target", target, "defenders", len(lines)-1)

	outs, err := e.generate(ctx, lines, index, sink)
	if err != nil {
		return nil, err
	}

	e.stateMu.Lock()
	res, err := e.commit(commitArgs{
		turnID:   uuid.NewString(),
		index:    index,
		now:      now,
		started:  now,
		analysis: analysis,
		lines:    lines,
		outs:     outs,
	})
	e.stateMu.Unlock()

	e.persist(ctx, u, res)
	return res, err
}

// pickInitiator draws ShouldInitiate for every persona and returns the one
// with the lowest mood among those that passed.
func (e *Engine) pickInitiator() (domain.Persona, bool) {
	var best domain.Persona
	found := false
	bestMood := 0.0
	for _, p := range e.cast {
		if !e.moods.ShouldInitiate(p.ID) {
			continue
		}
		m := e.moods.Value(p.ID)
		if !found || m < bestMood {
			best, bestMood, found = p, m, true
		}
	}
	return best, found
}

// leastLiked returns the housemate with the lowest score to p, first in
// cast order on ties.
func (e *Engine) leastLiked(p domain.Persona) string {
	target := ""
	low := 0
	for _, o := range e.cast {
		if o.ID == p.ID {
			continue
		}
		s := e.graph.Score(p.ID, o.ID)
		if target == "" || s < low {
			target, low = o.ID, s
		}
	}
	return target
}

func (e *Engine) maxSpeakers() int {
	return max(1, e.cfg.MaxSpeakers)
}
