// Package effectiveness scores how the user reacted to a delivered roast
// and holds the queue of roasts still waiting for a reaction.
package effectiveness

import (
	"math"
	"strings"
	"time"

	"flatshare/internal/analyzer"
)

// Neutral is the score for a roast nobody reacted to.
const Neutral = 0.5

const (
	baseScore      = 0.1
	lengthWeight   = 0.3
	lengthSaturate = 150.0
	intensityBonus = 0.25
	latencyWeight  = 0.25
	defensiveBonus = 0.1
	comebackBonus  = 0.1
	echoMinLetters = 5
)

var defensivePhrases = []string{
	"that's not true", "not true", "excuse me", "how dare", "shut up", "rude", "i'm not", "i am not", "whatever", "stop",
}

var comebackPhrases = []string{
	"you're one to talk", "look who's talking", "at least i", "says the", "says you", "takes one to know", "oh yeah", "your face",
}

// Outcome buckets a score.
type Outcome int

const (
	OutcomeNeutral Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "neutral"
	}
}

// Reaction is what the user sent after a roast.
type Reaction struct {
	Text      string
	Sentiment float64
	Latency   time.Duration
}

type ScorerConfig struct {
	LatencyWindow    time.Duration // replies within this window get the full latency credit
	SuccessThreshold float64
	FailureThreshold float64
}

type Scorer struct {
	cfg ScorerConfig
}

func NewScorer(cfg ScorerConfig) *Scorer {
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = 30 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 0.6
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 0.4
	}
	return &Scorer{cfg: cfg}
}

// Score rates a reaction to prior. A nil reaction scores Neutral. The score
// grows with reaction length and sentiment strength and shrinks as latency
// grows past the window.
func (s *Scorer) Score(prior string, r *Reaction) float64 {
	if r == nil {
		return Neutral
	}
	text := strings.TrimSpace(r.Text)
	lower := strings.ToLower(text)

	score := baseScore
	score += lengthWeight * math.Min(1, float64(len([]rune(text)))/lengthSaturate)
	score += intensityBonus * math.Min(1, math.Abs(r.Sentiment))
	score += latencyWeight * s.latencyFactor(r.Latency)
	if containsAny(lower, defensivePhrases) {
		score += defensiveBonus
	}
	if containsAny(lower, comebackPhrases) || echoes(prior, lower) {
		score += comebackBonus
	}
	return math.Max(0, math.Min(1, score))
}

func (s *Scorer) latencyFactor(latency time.Duration) float64 {
	if latency <= s.cfg.LatencyWindow {
		return 1
	}
	return float64(s.cfg.LatencyWindow) / float64(latency)
}

// Classify buckets score against the configured thresholds.
func (s *Scorer) Classify(score float64) Outcome {
	switch {
	case score >= s.cfg.SuccessThreshold:
		return OutcomeSuccess
	case score < s.cfg.FailureThreshold:
		return OutcomeFailure
	default:
		return OutcomeNeutral
	}
}

func (s *Scorer) FailureThreshold() float64 { return s.cfg.FailureThreshold }

func (s *Scorer) SuccessThreshold() float64 { return s.cfg.SuccessThreshold }

// Intensity maps a success or failure score onto the 1..10 event scale: the
// further past its threshold, the stronger. Neutral scores map to 0.
func (s *Scorer) Intensity(score float64) int {
	var x float64
	switch s.Classify(score) {
	case OutcomeSuccess:
		x = (score - s.cfg.SuccessThreshold) / (1 - s.cfg.SuccessThreshold)
	case OutcomeFailure:
		x = (s.cfg.FailureThreshold - score) / s.cfg.FailureThreshold
	default:
		return 0
	}
	return 1 + int(math.Round(9*math.Max(0, math.Min(1, x))))
}

// echoes reports whether the reaction throws a longer word of the roast back.
func echoes(prior, lowerReaction string) bool {
	if prior == "" {
		return false
	}
	words := make(map[string]bool)
	for _, w := range analyzer.Tokens(lowerReaction) {
		words[w] = true
	}
	for _, w := range analyzer.Tokens(prior) {
		if len([]rune(w)) >= echoMinLetters && words[w] {
			return true
		}
	}
	return false
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
