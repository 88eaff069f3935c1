package persona

import (
	"math"
	"strings"

	"flatshare/internal/domain"
	"flatshare/internal/relationship"
)

var (
	warmWords  = []string{"impressed", "fond of", "admires", "appreciates", "proud of"}
	coldWords  = []string{"frustrating", "annoying", "annoyed", "disappointed", "horrified", "appalled", "suspicious"}
	enemyWords = []string{"enemies", "war"}
)

const (
	warmDelta  = 15
	crushDelta = 25
	coldDelta  = -15
	enemyScore = 10
)

// SeedScore turns an interaction description into a starting affinity.
func SeedScore(desc string) int {
	d := strings.ToLower(desc)
	for _, w := range enemyWords {
		if containsWord(d, w) {
			return enemyScore
		}
	}
	score := relationship.DefaultScore
	if containsAny(d, warmWords) {
		score += warmDelta
	}
	if strings.Contains(d, "crush") {
		score += crushDelta
	}
	if containsAny(d, coldWords) {
		score += coldDelta
	}
	return max(relationship.MinScore, min(relationship.MaxScore, score))
}

// Seeds derives starting relationship edges from interaction descriptions.
// The graph is symmetric, so a pair described from both sides gets the
// rounded mean of the two scores; a side with no description counts as the
// default.
func Seeds(ps []domain.Persona) []domain.RelationshipEdge {
	var edges []domain.RelationshipEdge
	for i, a := range ps {
		for _, b := range ps[i+1:] {
			da, okA := a.Interactions[b.ID]
			db, okB := b.Interactions[a.ID]
			if !okA && !okB {
				continue
			}
			sa, sb := relationship.DefaultScore, relationship.DefaultScore
			if okA {
				sa = SeedScore(da)
			}
			if okB {
				sb = SeedScore(db)
			}
			score := int(math.Round(float64(sa+sb) / 2))
			if score == relationship.DefaultScore {
				continue
			}
			edges = append(edges, domain.RelationshipEdge{A: a.ID, B: b.ID, Score: score})
		}
	}
	return edges
}

// UnknownInteractions lists interaction keys that name no persona in ps,
// as "owner->key".
func UnknownInteractions(ps []domain.Persona) []string {
	known := make(map[string]bool, len(ps))
	for _, p := range ps {
		known[p.ID] = true
	}
	var out []string
	for _, p := range ps {
		for _, k := range sortedKeys(p.Interactions) {
			if !known[k] {
				out = append(out, p.ID+"->"+k)
			}
		}
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func containsWord(s, w string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r < 'a' || r > 'z' }) {
		if f == w {
			return true
		}
	}
	return false
}
