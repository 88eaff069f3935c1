// Package mood tracks each persona's mood as a scalar in [1,100] that moves
// with events and relaxes toward a baseline over time.
package mood

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

const (
	Min             = 1.0
	Max             = 100.0
	DefaultBaseline = 50
)

// Event is something that happened to a persona.
type Event string

const (
	RoastReceived  Event = "roast_received"
	RoastDelivered Event = "roast_delivered"
	RoastFailed    Event = "roast_failed"
	Defended       Event = "defended"
	Complimented   Event = "complimented"
	Praised        Event = "praised"
	Criticized     Event = "criticized"
	Supported      Event = "supported"
	Ignored        Event = "ignored"
)

// eventRanges holds the signed delta at intensity 1 and at intensity 10.
var eventRanges = map[Event][2]float64{
	RoastReceived:  {-5, -15},
	RoastDelivered: {3, 8},
	RoastFailed:    {-1, -3},
	Defended:       {4, 10},
	Complimented:   {3, 10},
	Praised:        {3, 10},
	Criticized:     {-3, -10},
	Supported:      {2, 6},
	Ignored:        {-1, -4},
}

// EventDelta returns the mood change for ev at intensity (clamped to 1..10).
func EventDelta(ev Event, intensity int) float64 {
	r, ok := eventRanges[ev]
	if !ok {
		return 0
	}
	if intensity < 1 {
		intensity = 1
	}
	if intensity > 10 {
		intensity = 10
	}
	t := float64(intensity-1) / 9
	return r[0] + (r[1]-r[0])*t
}

type Config struct {
	DecayPerMinute     float64 // fraction of the gap to baseline closed per minute
	MaxDecayFraction   float64 // cap on the fraction closed by one decay
	InitiateThreshold  float64 // below this mood a persona may start trouble
	InitiateBaseChance float64
	InitiateMaxChance  float64
	Rand               *rand.Rand
	Logger             *slog.Logger
}

type state struct {
	value    float64
	baseline float64
	last     time.Time
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	cfg    Config
	states map[string]*state
	rng    *rand.Rand
	logger *slog.Logger
}

func New(cfg Config) *Tracker {
	if cfg.DecayPerMinute <= 0 {
		cfg.DecayPerMinute = 0.01
	}
	if cfg.MaxDecayFraction <= 0 || cfg.MaxDecayFraction >= 1 {
		cfg.MaxDecayFraction = 0.9
	}
	if cfg.InitiateThreshold <= Min {
		cfg.InitiateThreshold = 30
	}
	if cfg.InitiateBaseChance <= 0 {
		cfg.InitiateBaseChance = 0.02
	}
	if cfg.InitiateMaxChance <= 0 {
		cfg.InitiateMaxChance = 0.45
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Tracker{cfg: cfg, states: make(map[string]*state), rng: cfg.Rand, logger: cfg.Logger}
}

// Register sets persona's baseline and resets its mood to it. at is the
// reference time for lazy decay.
func (t *Tracker) Register(persona string, baseline int, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := clamp(float64(baseline))
	t.states[persona] = &state{value: b, baseline: b, last: at}
}

func (t *Tracker) get(persona string) *state {
	s, ok := t.states[persona]
	if !ok {
		s = &state{value: DefaultBaseline, baseline: DefaultBaseline}
		t.states[persona] = s
	}
	return s
}

// Update applies ev to persona and returns the new rounded mood.
func (t *Tracker) Update(persona string, ev Event, intensity int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.get(persona)
	delta := EventDelta(ev, intensity)
	s.value = clamp(s.value + delta)
	t.logger.Debug("mood updated", "persona", persona, "event", string(ev), "delta", delta, "mood", s.value)
	return round(s.value)
}

// Adjust adds a raw delta, clamped.
func (t *Tracker) Adjust(persona string, delta float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.get(persona)
	s.value = clamp(s.value + delta)
	return round(s.value)
}

// Decay moves each persona's mood toward its baseline by a fraction of the
// gap proportional to minutes. The fraction is capped below 1, so mood
// approaches the baseline without crossing it.
func (t *Tracker) Decay(personas []string, minutes float64) {
	if minutes <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range personas {
		t.decay(t.get(p), minutes)
	}
}

func (t *Tracker) decay(s *state, minutes float64) {
	if minutes <= 0 {
		return
	}
	frac := math.Min(t.cfg.MaxDecayFraction, t.cfg.DecayPerMinute*minutes)
	s.value = clamp(s.value + (s.baseline-s.value)*frac)
}

// DecayElapsed applies decay to every persona for the time since its last
// decay, then stamps now. Personas without a reference time are only
// stamped.
func (t *Tracker) DecayElapsed(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.states {
		if !s.last.IsZero() && now.After(s.last) {
			t.decay(s, now.Sub(s.last).Minutes())
		}
		if now.After(s.last) {
			s.last = now
		}
	}
}

// Mood returns persona's mood rounded to an integer.
func (t *Tracker) Mood(persona string) int {
	return round(t.Value(persona))
}

// Value returns persona's unrounded mood.
func (t *Tracker) Value(persona string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(persona).value
}

func (t *Tracker) Baseline(persona string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return round(t.get(persona).baseline)
}

// InitiateProbability is the chance a persona at mood m starts a roast
// unprompted. It is non-increasing in m: a small base chance at or above
// the threshold, rising linearly to the max chance at mood 1.
func (t *Tracker) InitiateProbability(m float64) float64 {
	c := t.cfg
	x := (c.InitiateThreshold - m) / (c.InitiateThreshold - Min)
	x = math.Max(0, math.Min(1, x))
	return c.InitiateBaseChance + (c.InitiateMaxChance-c.InitiateBaseChance)*x
}

// ShouldInitiate draws against persona's initiate probability.
func (t *Tracker) ShouldInitiate(persona string) bool {
	p := t.InitiateProbability(t.Value(persona))
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rng.Float64() < p
}

// Modifiers are behavioral multipliers derived from mood.
type Modifiers struct {
	Aggression      float64 `json:"aggression"`
	Humor           float64 `json:"humor"`
	Defensiveness   float64 `json:"defensiveness"`
	RoastLikelihood float64 `json:"roast_likelihood"`
	ResponseLength  float64 `json:"response_length"`
}

func ModifiersFor(m float64) Modifiers {
	mod := Modifiers{1, 1, 1, 1, 1}
	switch {
	case m < 30:
		mod = Modifiers{Aggression: 1.5, Humor: 0.7, Defensiveness: 1.3, RoastLikelihood: 1.4, ResponseLength: 0.8}
	case m < 50:
		mod = Modifiers{Aggression: 1.2, Humor: 0.9, Defensiveness: 1.1, RoastLikelihood: 1.2, ResponseLength: 1}
	case m > 80:
		mod = Modifiers{Aggression: 0.6, Humor: 1.3, Defensiveness: 0.8, RoastLikelihood: 0.7, ResponseLength: 1.2}
	case m > 60:
		mod = Modifiers{Aggression: 0.8, Humor: 1.1, Defensiveness: 1, RoastLikelihood: 0.9, ResponseLength: 1}
	}
	return mod
}

func (t *Tracker) Modifiers(persona string) Modifiers {
	return ModifiersFor(t.Value(persona))
}

func Describe(m int) string {
	switch {
	case m >= 90:
		return "ecstatic"
	case m >= 80:
		return "very happy"
	case m >= 70:
		return "happy"
	case m >= 60:
		return "content"
	case m >= 50:
		return "neutral"
	case m >= 40:
		return "slightly annoyed"
	case m >= 30:
		return "irritated"
	case m >= 20:
		return "angry"
	case m >= 10:
		return "furious"
	default:
		return "livid"
	}
}

func (t *Tracker) Description(persona string) string {
	return Describe(t.Mood(persona))
}

// Personas lists tracked personas, sorted.
func (t *Tracker) Personas() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.states))
	for p := range t.states {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// All returns every persona's unrounded mood.
func (t *Tracker) All() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.states))
	for p, s := range t.states {
		out[p] = s.value
	}
	return out
}

// Restore sets moods from a snapshot, keeping registered baselines.
func (t *Tracker) Restore(moods map[string]float64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for p, v := range moods {
		s := t.get(p)
		s.value = clamp(v)
		s.last = at
	}
}

func clamp(v float64) float64 {
	return math.Max(Min, math.Min(Max, v))
}

func round(v float64) int {
	return int(math.Round(v))
}
