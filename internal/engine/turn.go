package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"flatshare/internal/domain"
	"flatshare/internal/effectiveness"
	"flatshare/internal/memory"
	"flatshare/internal/strategy"
)

const (
	// Below this score a later responder turns on the first one instead of
	// the speaker.
	rivalScore   = 40
	streamBuffer = 512
)

// Response is one persona line delivered in a turn.
type Response struct {
	PersonaID string            `json:"persona_id"`
	Name      string            `json:"name"`
	Target    string            `json:"target"`
	Mode      strategy.Mode     `json:"mode"`
	Defends   string            `json:"defends,omitempty"`
	Strategy  strategy.Strategy `json:"strategy"`
	Text      string            `json:"text"`
	Backup    bool              `json:"backup,omitempty"`
	Blocked   bool              `json:"blocked,omitempty"`
	EntryID   string            `json:"entry_id,omitempty"`
}

// TurnResult is everything a committed turn produced.
type TurnResult struct {
	TurnID    string                `json:"turn_id"`
	Index     int                   `json:"index"`
	Topic     string                `json:"topic"`
	Analysis  domain.AnalysisResult `json:"analysis"`
	Responses []Response            `json:"responses"`
	Feedback  *Feedback             `json:"feedback,omitempty"`
}

// StreamFunc receives fragments and the final line of each response, one
// responder after another in speaking order.
type StreamFunc func(ev domain.StreamEvent)

// line is a planned response, fixed before any generation starts.
type line struct {
	persona       domain.Persona
	target        string
	targetPersona *domain.Persona
	mode          strategy.Mode
	defends       string
	strategy      strategy.Strategy
	req           domain.GenerationRequest
}

type outcome struct {
	text    string
	backup  bool
	blocked bool
	failed  bool
}

// HandleUtterance runs a full turn for u and returns the committed result.
// When generation has failed for too many consecutive turns the result
// carries backup lines and the error is ErrServiceUnavailable. If ctx is
// cancelled while generating, nothing is committed and ctx's error is
// returned.
func (e *Engine) HandleUtterance(ctx context.Context, u domain.Utterance) (*TurnResult, error) {
	return e.Turn(ctx, u, nil)
}

// Turn is HandleUtterance with optional incremental delivery through sink.
func (e *Engine) Turn(ctx context.Context, u domain.Utterance, sink StreamFunc) (*TurnResult, error) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return nil, errors.New("empty utterance")
	}
	if u.Speaker == "" {
		u.Speaker = domain.UserSpeaker
	}
	u.Text = text

	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	now := u.Timestamp
	if now.IsZero() {
		now = e.now()
	}
	u.Timestamp = now
	started := e.now()

	e.stateMu.Lock()
	e.moods.DecayElapsed(now)
	analysis := e.analyzer.Analyze(text, e.recentTexts(e.cfg.HistoryTurns))
	feedback := e.stageFeedback(now, text, analysis.Sentiment)
	userEntry := domain.ConversationEntry{
		ID:        uuid.NewString(),
		Timestamp: now,
		Speaker:   u.Speaker,
		Message:   text,
		Tags:      analysis.Topics,
		Sentiment: analysis.Sentiment,
	}
	convCtx := e.analyzer.BuildContext(tail(append(e.thread(e.cfg.ThreadTurns), userEntry), e.cfg.ThreadTurns))
	lines := e.planReplies(u, analysis, convCtx)
	index := e.turn + 1
	e.stateMu.Unlock()

	turnID := uuid.NewString()
	e.logger.Debug("turn planned",
		"turn", index,
		"topic", analysis.PrimaryTopic(),
		"responders", len(lines),
	)

	outs, err := e.generate(ctx, lines, index, sink)
	if err != nil {
		e.logger.Info("turn discarded", "turn", index, "err", err)
		return nil, err
	}

	e.stateMu.Lock()
	res, err := e.commit(commitArgs{
		turnID:    turnID,
		index:     index,
		now:       now,
		started:   started,
		userEntry: &userEntry,
		analysis:  analysis,
		lines:     lines,
		outs:      outs,
		feedback:  feedback,
	})
	e.stateMu.Unlock()

	e.persist(ctx, u, res)
	return res, err
}

// planReplies picks the responders and composes their requests. Callers
// hold stateMu.
func (e *Engine) planReplies(u domain.Utterance, analysis domain.AnalysisResult, convCtx domain.ConversationContext) []line {
	cands := make([]strategy.Candidate, 0, len(e.cast))
	for _, p := range e.cast {
		if p.ID == u.Speaker {
			continue
		}
		cands = append(cands, strategy.Candidate{
			Persona:             p,
			Initiative:          e.moods.InitiateProbability(e.moods.Value(p.ID)),
			RecentEffectiveness: e.selector.RecentEffectiveness(p.ID),
		})
	}
	picks := e.coordinator.Choose(cands, u.Text, e.graph)

	lines := make([]line, 0, len(picks))
	for i, pick := range picks {
		p := *e.index[pick.PersonaID]
		l := line{persona: p, target: u.Speaker, mode: strategy.ModeRoast}
		if i > 0 {
			first := lines[0].persona
			switch {
			case e.defenseFor(p, lines, &l):
			case e.graph.Score(p.ID, first.ID) < rivalScore:
				l.target = first.ID
			}
		}
		if tp, ok := e.index[l.target]; ok {
			l.targetPersona = tp
		}
		e.compose(&l, u, analysis, convCtx)
		lines = append(lines, l)
	}
	return lines
}

// defenseFor turns l into a defense when p wants to stick up for a persona
// an earlier line roasts.
func (e *Engine) defenseFor(p domain.Persona, earlier []line, l *line) bool {
	for _, prev := range earlier {
		victim := prev.target
		if prev.mode != strategy.ModeRoast || prev.targetPersona == nil || victim == p.ID {
			continue
		}
		if e.graph.ShouldDefend(p.ID, victim) {
			l.mode = strategy.ModeDefend
			l.target = prev.persona.ID
			l.defends = victim
			return true
		}
	}
	return false
}

// compose fills in l's strategy and request from current state.
func (e *Engine) compose(l *line, u domain.Utterance, analysis domain.AnalysisResult, convCtx domain.ConversationContext) {
	p := l.persona
	mods := e.moods.Modifiers(p.ID)
	intensity := 1.0
	if l.targetPersona != nil {
		intensity = e.graph.IntensityModifier(p.ID, l.target)
	}
	el := strategy.Elements{
		Mode:          l.mode,
		Utterance:     u.Text,
		Speaker:       e.displayName(u.Speaker),
		TargetPersona: l.targetPersona,
		Analysis:      analysis,
		Context:       convCtx,
		Memories:      e.memory.GetRelevantContext(p.ID, analysis.PrimaryTopic(), e.cfg.ContextLimit),
		Profile:       e.memory.AnalyzeUserPatterns(p.ID),
		Intensity:     intensity,
		Mood:          e.moods.Mood(p.ID),
		Modifiers:     mods,
	}
	if l.defends != "" {
		el.Defended = e.displayName(l.defends)
	}
	l.strategy = e.selector.Select(p, mods.Aggression)
	l.req = e.composer.Build(p, l.target, el, l.strategy)
}

// generate runs every request concurrently, each under its own timeout.
// It fails only when ctx itself ends.
func (e *Engine) generate(ctx context.Context, lines []line, index int, sink StreamFunc) ([]outcome, error) {
	outs := make([]outcome, len(lines))
	var streams []chan domain.StreamEvent
	if sink != nil {
		streams = make([]chan domain.StreamEvent, len(lines))
		for i := range streams {
			streams[i] = make(chan domain.StreamEvent, streamBuffer)
		}
	}

	var g errgroup.Group
	for i := range lines {
		g.Go(func() error {
			var stream chan domain.StreamEvent
			if streams != nil {
				stream = streams[i]
				defer close(stream)
			}
			callCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
			defer cancel()

			started := time.Now()
			text, err := e.call(callCtx, lines[i].req, stream)
			e.metrics.observe(time.Since(started))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			outs[i] = e.settle(lines[i], text, err, index)
			if stream != nil {
				stream <- domain.StreamEvent{Type: domain.StreamDone, PersonaID: lines[i].persona.ID, Content: outs[i].text}
			}
			return nil
		})
	}

	var fwd sync.WaitGroup
	if sink != nil {
		fwd.Add(1)
		go func() {
			defer fwd.Done()
			for _, s := range streams {
				for ev := range s {
					sink(ev)
				}
			}
		}()
	}

	err := g.Wait()
	fwd.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return outs, err
}

// call generates one line. With a stream it forwards fragments until the
// text so far trips the safety filter.
func (e *Engine) call(ctx context.Context, req domain.GenerationRequest, stream chan<- domain.StreamEvent) (string, error) {
	sg, ok := e.gen.(domain.StreamingGenerator)
	if stream == nil || !ok {
		res, err := e.gen.Generate(ctx, req)
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}

	raw := make(chan domain.StreamEvent, 64)
	errc := make(chan error, 1)
	go func() { errc <- sg.GenerateStream(ctx, req, raw) }()

	var b strings.Builder
	var final string
	blocked := false
	for ev := range raw {
		switch ev.Type {
		case domain.StreamFragment:
			b.WriteString(ev.Content)
			if !blocked && e.safety.Blocked(b.String()) {
				blocked = true
			}
			if !blocked {
				select {
				case stream <- domain.StreamEvent{Type: domain.StreamFragment, PersonaID: req.PersonaID, Content: ev.Content}:
				case <-ctx.Done():
				}
			}
		case domain.StreamDone:
			final = ev.Content
		}
	}
	if err := <-errc; err != nil {
		return "", err
	}
	if final == "" {
		final = b.String()
	}
	return final, nil
}

// settle turns a generation result into the line that is delivered: the
// filtered text, or the persona's backup line when generation failed.
func (e *Engine) settle(l line, text string, err error, index int) outcome {
	if err == nil {
		filtered, blocked := e.safety.Apply(l.persona.ID, text)
		if filtered != "" {
			return outcome{text: filtered, blocked: blocked}
		}
		err = fmt.Errorf("empty line after filtering")
	}
	e.logger.Warn("generation failed, using backup line",
		"persona", l.persona.ID,
		"strategy", string(l.strategy),
		"err", err,
	)
	backup := strategy.Backup(l.persona, l.strategy, e.targetLabel(l), index)
	backup, _ = e.safety.Apply(l.persona.ID, backup)
	return outcome{text: backup, backup: true, failed: true}
}

func (e *Engine) targetLabel(l line) string {
	if l.targetPersona != nil {
		return l.targetPersona.Name
	}
	if l.target == domain.UserSpeaker {
		return "you"
	}
	return l.target
}

type commitArgs struct {
	turnID    string
	index     int
	now       time.Time                 // utterance time
	started   time.Time                 // engine clock when planning began
	userEntry *domain.ConversationEntry // nil for banter
	analysis  domain.AnalysisResult
	lines     []line
	outs      []outcome
	feedback  *Feedback
}

// commit applies every write of a turn in speaking order. Callers hold
// stateMu.
func (e *Engine) commit(a commitArgs) (*TurnResult, error) {
	e.applyFeedback(a.feedback)

	if a.userEntry != nil {
		for _, p := range e.cast {
			if p.ID != a.userEntry.Speaker {
				e.memory.Append(p.ID, *a.userEntry)
			}
		}
		e.appendThread(*a.userEntry)
		e.lastUser = a.now
	}

	res := &TurnResult{
		TurnID:   a.turnID,
		Index:    a.index,
		Topic:    a.analysis.PrimaryTopic(),
		Analysis: a.analysis,
		Feedback: a.feedback,
	}
	var pending []effectiveness.Response
	allFailed := len(a.lines) > 0
	for i, l := range a.lines {
		out := a.outs[i]
		if !out.failed {
			allFailed = false
		}
		entry := domain.ConversationEntry{
			Timestamp: a.now,
			Speaker:   l.persona.ID,
			Message:   out.text,
			Tags:      a.analysis.Topics,
			Sentiment: e.analyzer.Analyze(out.text, nil).Sentiment,
		}
		stored := e.memory.Append(l.persona.ID, entry)
		if l.targetPersona != nil {
			e.memory.Append(l.target, entry)
		}
		e.appendThread(stored)

		resp := Response{
			PersonaID: l.persona.ID,
			Name:      l.persona.Name,
			Target:    l.target,
			Mode:      l.mode,
			Defends:   l.defends,
			Strategy:  l.strategy,
			Text:      out.text,
			Backup:    out.backup,
			Blocked:   out.blocked,
			EntryID:   stored.ID,
		}
		res.Responses = append(res.Responses, resp)
		if out.blocked {
			e.metrics.blocked.Inc()
		}
		if out.backup {
			e.metrics.backups.Inc()
			continue
		}
		e.metrics.line(string(l.strategy))
		e.selector.Use(l.persona.ID, l.strategy)
		pending = append(pending, effectiveness.Response{
			PersonaID: l.persona.ID,
			Target:    l.target,
			Strategy:  string(l.strategy),
			Defends:   l.defends,
			EntryID:   stored.ID,
			Text:      out.text,
		})
	}
	if len(pending) > 0 {
		// Reactions are timed from delivery, on the utterance's timeline.
		delivered := a.now.Add(e.now().Sub(a.started))
		e.pending.Push(a.turnID, delivered, pending)
	}
	e.turn = a.index
	if a.userEntry != nil {
		e.metrics.userTurns.Inc()
	} else {
		e.metrics.banterTurns.Inc()
	}
	e.metrics.pending.Set(int64(e.pending.Len()))

	if !allFailed {
		e.failureStreak = 0
		e.metrics.streak.Set(0)
		return res, nil
	}
	e.failureStreak++
	e.metrics.streak.Set(int64(e.failureStreak))
	e.logger.Warn("every generation failed this turn", "turn", a.index, "streak", e.failureStreak)
	if e.failureStreak >= e.cfg.MaxConsecutiveFailures {
		return res, fmt.Errorf("%w: %d consecutive failed turns", ErrServiceUnavailable, e.failureStreak)
	}
	return res, nil
}

// recentTexts returns the messages of the last n thread entries, oldest
// first. Callers hold stateMu.
func (e *Engine) recentTexts(n int) []string {
	entries := e.thread(n)
	out := make([]string, 0, len(entries))
	for _, en := range entries {
		out = append(out, en.Message)
	}
	return out
}

// thread returns the last n entries of the shared conversation.
func (e *Engine) thread(n int) []domain.ConversationEntry {
	return e.memory.GetThread(memory.ThreadLog, n)
}

func (e *Engine) appendThread(en domain.ConversationEntry) {
	e.memory.Append(memory.ThreadLog, en)
}

func tail(entries []domain.ConversationEntry, n int) []domain.ConversationEntry {
	if n >= 0 && len(entries) > n {
		return entries[len(entries)-n:]
	}
	return entries
}
