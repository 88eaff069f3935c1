// Package strategy decides how each persona roasts: which strategy it uses,
// what request it sends to the generator, and who joins a pile-on.
package strategy

import (
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"

	"flatshare/internal/domain"
)

type Strategy string

const (
	Aggressive        Strategy = "aggressive"
	PassiveAggressive Strategy = "passive_aggressive"
	Witty             Strategy = "witty"
	Absurd            Strategy = "absurd"
	Cultural          Strategy = "cultural"
)

// All lists every strategy in a fixed order used for tie-breaking.
var All = []Strategy{Aggressive, PassiveAggressive, Witty, Absurd, Cultural}

// Parse accepts a strategy name, tolerating case and dashes.
func Parse(name string) (Strategy, bool) {
	s := Strategy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_"))
	for _, v := range All {
		if v == s {
			return s, true
		}
	}
	return "", false
}

// neutralHistory stands in for the mean score of an untried strategy.
const neutralHistory = 0.5

type SelectorConfig struct {
	FailureThreshold float64 // scores below this count as failures
	ExplorationAfter int     // consecutive failures that force exploration
	HistoryWindow    int     // recent scores per strategy used for weighting
	Rand             *rand.Rand
	Logger           *slog.Logger
}

type history struct {
	scores     map[Strategy][]float64
	uses       map[Strategy]int
	recent     []float64
	failStreak int
	last       Strategy
}

// Selector keeps per-persona strategy history. It is safe for concurrent use.
type Selector struct {
	mu      sync.Mutex
	cfg     SelectorConfig
	history map[string]*history
	rng     *rand.Rand
	logger  *slog.Logger
}

func NewSelector(cfg SelectorConfig) *Selector {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 0.4
	}
	if cfg.ExplorationAfter <= 0 {
		cfg.ExplorationAfter = 3
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 5
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Selector{cfg: cfg, history: make(map[string]*history), rng: cfg.Rand, logger: cfg.Logger}
}

func (s *Selector) get(persona string) *history {
	h, ok := s.history[persona]
	if !ok {
		h = &history{scores: make(map[Strategy][]float64), uses: make(map[Strategy]int)}
		s.history[persona] = h
	}
	return h
}

// Select picks a strategy for p. aggression scales the weight of the
// aggressive strategy. After too many consecutive failures it returns the
// least-used strategy other than the last one instead of sampling. Select
// does not record the choice; call Use once the response is committed.
func (s *Selector) Select(p domain.Persona, aggression float64) Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(p.ID)

	if h.failStreak >= s.cfg.ExplorationAfter {
		pick := s.explore(h)
		s.logger.Debug("strategy exploration forced",
			"persona", p.ID,
			"failures", h.failStreak,
			"last", string(h.last),
			"strategy", string(pick),
		)
		return pick
	}

	preferred, _ := Parse(p.PreferredStrategy)
	weights := make([]float64, len(All))
	var total float64
	for i, st := range All {
		w := 1.0
		if st == preferred {
			w += 2
		}
		w += 2 * s.mean(h.scores[st])
		if st == Aggressive && aggression > 0 {
			w *= aggression
		}
		weights[i] = w
		total += w
	}

	r := s.rng.Float64() * total
	for i, w := range weights {
		if r < w {
			return All[i]
		}
		r -= w
	}
	return All[len(All)-1]
}

func (s *Selector) explore(h *history) Strategy {
	var best Strategy
	bestUses := -1
	for _, st := range All {
		if st == h.last {
			continue
		}
		if bestUses < 0 || h.uses[st] < bestUses {
			best, bestUses = st, h.uses[st]
		}
	}
	return best
}

func (s *Selector) mean(scores []float64) float64 {
	if len(scores) == 0 {
		return neutralHistory
	}
	if len(scores) > s.cfg.HistoryWindow {
		scores = scores[len(scores)-s.cfg.HistoryWindow:]
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	return sum / float64(len(scores))
}

// Use records that persona delivered a response with st.
func (s *Selector) Use(persona string, st Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(persona)
	h.uses[st]++
	h.last = st
}

// Record adds an effectiveness score for st. A score at or above the
// failure threshold resets the failure streak.
func (s *Selector) Record(persona string, st Strategy, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(persona)
	h.scores[st] = appendBounded(h.scores[st], score, s.cfg.HistoryWindow)
	h.recent = appendBounded(h.recent, score, s.cfg.HistoryWindow)
	if score < s.cfg.FailureThreshold {
		h.failStreak++
	} else {
		h.failStreak = 0
	}
}

// RecentEffectiveness is the mean of persona's latest scores across all
// strategies, or 0.5 with no history.
func (s *Selector) RecentEffectiveness(persona string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mean(s.get(persona).recent)
}

// FailureStreak returns persona's consecutive failure count.
func (s *Selector) FailureStreak(persona string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(persona).failStreak
}

// Stats is the per-strategy view used by debug snapshots.
type Stats struct {
	Uses int     `json:"uses"`
	Mean float64 `json:"mean"`
}

type PersonaStats struct {
	Last       Strategy           `json:"last,omitempty"`
	FailStreak int                `json:"fail_streak"`
	Strategies map[Strategy]Stats `json:"strategies"`
}

func (s *Selector) Stats(persona string) PersonaStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(persona)
	out := PersonaStats{Last: h.last, FailStreak: h.failStreak, Strategies: make(map[Strategy]Stats)}
	for _, st := range All {
		if h.uses[st] == 0 && len(h.scores[st]) == 0 {
			continue
		}
		out.Strategies[st] = Stats{Uses: h.uses[st], Mean: s.mean(h.scores[st])}
	}
	return out
}

// Personas lists personas with history, sorted.
func (s *Selector) Personas() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.history))
	for p := range s.history {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func appendBounded(list []float64, v float64, n int) []float64 {
	list = append(list, v)
	if len(list) > n {
		list = append([]float64(nil), list[len(list)-n:]...)
	}
	return list
}
