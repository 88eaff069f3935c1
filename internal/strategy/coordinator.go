package strategy

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"flatshare/internal/domain"
)

const (
	mutualWeight  = 0.5
	triggerWeight = 0.3
	tieEpsilon    = 1e-9
)

// Affinity reads relationship scores.
type Affinity interface {
	Score(a, b string) int
}

// Candidate is a persona eligible to respond this turn.
type Candidate struct {
	Persona             domain.Persona
	Initiative          float64 // chance the persona's mood favors starting a roast
	RecentEffectiveness float64
}

// Pick is a ranked candidate.
type Pick struct {
	PersonaID string  `json:"persona_id"`
	Score     float64 `json:"score"`
	Triggered bool    `json:"triggered"`
}

type CoordinatorConfig struct {
	MinSpeakers int
	MaxSpeakers int
	Rand        *rand.Rand
	Logger      *slog.Logger
}

// Coordinator decides who piles on in a turn.
type Coordinator struct {
	mu     sync.Mutex
	cfg    CoordinatorConfig
	rng    *rand.Rand
	logger *slog.Logger
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.MinSpeakers <= 0 {
		cfg.MinSpeakers = 1
	}
	if cfg.MaxSpeakers < cfg.MinSpeakers {
		cfg.MaxSpeakers = cfg.MinSpeakers
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{cfg: cfg, rng: cfg.Rand, logger: cfg.Logger}
}

// Rank scores every candidate, best first. Low mutual affinity among the
// candidates and a mood that favors initiating raise the score; a trigger
// word in the message adds a bonus. Near-equal scores go to the candidate
// with the lower recent effectiveness.
func (c *Coordinator) Rank(cands []Candidate, message string, aff Affinity) []Pick {
	picks := make([]Pick, len(cands))
	eff := make(map[string]float64, len(cands))
	for i, cand := range cands {
		id := cand.Persona.ID
		eff[id] = cand.RecentEffectiveness

		mutual := 0.0
		n := 0
		for _, other := range cands {
			if other.Persona.ID == id {
				continue
			}
			mutual += float64(aff.Score(id, other.Persona.ID))
			n++
		}
		if n == 0 {
			mutual = 50
		} else {
			mutual /= float64(n)
		}

		triggered := len(cand.Persona.TriggeredBy(message)) > 0
		score := cand.Initiative + mutualWeight*(1-mutual/100)
		if triggered {
			score += triggerWeight
		}
		picks[i] = Pick{PersonaID: id, Score: score, Triggered: triggered}
	}

	sort.SliceStable(picks, func(i, j int) bool {
		a, b := picks[i], picks[j]
		if math.Abs(a.Score-b.Score) >= tieEpsilon {
			return a.Score > b.Score
		}
		if eff[a.PersonaID] != eff[b.PersonaID] {
			return eff[a.PersonaID] < eff[b.PersonaID]
		}
		return a.PersonaID < b.PersonaID
	})
	return picks
}

// Choose returns the responders for a turn in speaking order. The top
// MinSpeakers always respond; each later candidate joins with probability
// equal to its score until MaxSpeakers is reached.
func (c *Coordinator) Choose(cands []Candidate, message string, aff Affinity) []Pick {
	ranked := c.Rank(cands, message, aff)

	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Pick
	for i, p := range ranked {
		if len(out) >= c.cfg.MaxSpeakers {
			break
		}
		if i < c.cfg.MinSpeakers || c.rng.Float64() < p.Score {
			out = append(out, p)
		}
	}
	c.logger.Debug("responders chosen", "candidates", len(cands), "responders", len(out))
	return out
}
