// Package relationship holds the symmetric affinity scores between personas.
package relationship

import (
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"

	"flatshare/internal/domain"
)

const (
	MinScore     = 0
	MaxScore     = 100
	DefaultScore = 50

	lowBand  = 30
	highBand = 70
)

// Interaction is a kind of exchange between two personas.
type Interaction string

const (
	Roast      Interaction = "roast"
	Defend     Interaction = "defend"
	Compliment Interaction = "compliment"
	Joke       Interaction = "joke"
	Support    Interaction = "support"
	Conflict   Interaction = "conflict"
)

// deltas maps an interaction to its score change on success and on failure.
var deltas = map[Interaction][2]int{
	Roast:      {-3, -1},
	Defend:     {5, 2},
	Compliment: {4, 1},
	Joke:       {2, -1},
	Support:    {3, 1},
	Conflict:   {-5, -2},
}

// Delta returns the score change for an interaction outcome. Unknown kinds
// change nothing.
func Delta(kind Interaction, success bool) int {
	d, ok := deltas[kind]
	if !ok {
		return 0
	}
	if success {
		return d[0]
	}
	return d[1]
}

type Config struct {
	DefendThreshold   int     // scores strictly above this allow defense
	DefendProbability float64 // chance a qualifying defense actually fires
	Rand              *rand.Rand
	Logger            *slog.Logger
}

type pair struct{ a, b string }

func key(a, b string) pair {
	if b < a {
		a, b = b, a
	}
	return pair{a, b}
}

// Graph stores only pairs that were touched; every other pair reads as
// DefaultScore. A persona has no edge to itself.
type Graph struct {
	mu        sync.Mutex
	scores    map[pair]int
	threshold int
	prob      float64
	rng       *rand.Rand
	logger    *slog.Logger
}

func New(cfg Config) *Graph {
	if cfg.DefendThreshold <= 0 {
		cfg.DefendThreshold = highBand
	}
	if cfg.DefendProbability <= 0 {
		cfg.DefendProbability = 0.35
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Graph{
		scores:    make(map[pair]int),
		threshold: cfg.DefendThreshold,
		prob:      cfg.DefendProbability,
		rng:       cfg.Rand,
		logger:    cfg.Logger,
	}
}

// Score returns the affinity between a and b.
func (g *Graph) Score(a, b string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.score(a, b)
}

func (g *Graph) score(a, b string) int {
	if s, ok := g.scores[key(a, b)]; ok {
		return s
	}
	return DefaultScore
}

// Update adds delta to the pair's score, clamped to [0,100], and returns
// the new score. Self pairs are ignored.
func (g *Graph) Update(a, b string, delta int) int {
	if a == b {
		return DefaultScore
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	next := clamp(g.score(a, b) + delta)
	g.scores[key(a, b)] = next
	g.logger.Debug("relationship updated", "a", a, "b", b, "delta", delta, "score", next)
	return next
}

// Set overwrites the pair's score, clamped.
func (g *Graph) Set(a, b string, score int) {
	if a == b {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scores[key(a, b)] = clamp(score)
}

// Apply records an interaction outcome and returns the delta applied.
func (g *Graph) Apply(a, b string, kind Interaction, success bool) int {
	d := Delta(kind, success)
	if d != 0 && a != b {
		g.Update(a, b, d)
	}
	return d
}

// ShouldDefend reports whether defender steps in for target. It requires a
// score above the threshold and a passing random draw.
func (g *Graph) ShouldDefend(defender, target string) bool {
	if defender == target {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.score(defender, target) <= g.threshold {
		return false
	}
	return g.rng.Float64() < g.prob
}

// IntensityModifier scales roast intensity by affinity. It is 1 in the
// middle band, rises linearly to 1.5 as the score falls to 0, and falls
// linearly to 0.5 as the score rises to 100.
func (g *Graph) IntensityModifier(roaster, target string) float64 {
	if roaster == target {
		return 1
	}
	return Modifier(g.Score(roaster, target))
}

// Modifier is the intensity curve for a raw score.
func Modifier(score int) float64 {
	s := float64(clamp(score))
	switch {
	case s <= lowBand:
		return 1 + 0.5*(lowBand-s)/lowBand
	case s >= highBand:
		return 1 - 0.5*(s-highBand)/(MaxScore-highBand)
	default:
		return 1
	}
}

// Status describes the pair's relationship in words.
func (g *Graph) Status(a, b string) string {
	return StatusFor(g.Score(a, b))
}

func StatusFor(score int) string {
	switch {
	case score >= 90:
		return "best friends"
	case score >= 80:
		return "close friends"
	case score >= 70:
		return "good friends"
	case score >= 60:
		return "friendly"
	case score >= 40:
		return "neutral"
	case score >= 30:
		return "tense"
	case score >= 20:
		return "hostile"
	case score >= 10:
		return "enemies"
	default:
		return "bitter enemies"
	}
}

// Reset returns the pair to neutral.
func (g *Graph) Reset(a, b string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.scores, key(a, b))
}

// All returns every touched edge involving persona, keyed by the other side.
func (g *Graph) All(persona string) map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int)
	for k, s := range g.scores {
		switch persona {
		case k.a:
			out[k.b] = s
		case k.b:
			out[k.a] = s
		}
	}
	return out
}

// Strongest returns up to n of persona's touched edges, highest score first.
func (g *Graph) Strongest(persona string, n int) []domain.RelationshipEdge {
	return g.ranked(persona, n, true)
}

// Weakest returns up to n of persona's touched edges, lowest score first.
func (g *Graph) Weakest(persona string, n int) []domain.RelationshipEdge {
	return g.ranked(persona, n, false)
}

func (g *Graph) ranked(persona string, n int, desc bool) []domain.RelationshipEdge {
	var out []domain.RelationshipEdge
	for other, s := range g.All(persona) {
		out = append(out, domain.RelationshipEdge{A: persona, B: other, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			if desc {
				return out[i].Score > out[j].Score
			}
			return out[i].Score < out[j].Score
		}
		return out[i].B < out[j].B
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Edges returns every touched edge, sorted by pair.
func (g *Graph) Edges() []domain.RelationshipEdge {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.RelationshipEdge, 0, len(g.scores))
	for k, s := range g.scores {
		out = append(out, domain.RelationshipEdge{A: k.a, B: k.b, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// Restore replaces every edge with edges.
func (g *Graph) Restore(edges []domain.RelationshipEdge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scores = make(map[pair]int, len(edges))
	for _, e := range edges {
		if e.A == e.B {
			continue
		}
		g.scores[key(e.A, e.B)] = clamp(e.Score)
	}
}

func clamp(s int) int {
	if s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}
