package domain

import (
	"sort"
	"strings"
	"unicode"
)

// Persona holds the static traits of a roommate. Mutable state (memory,
// mood, strategy history) lives in the components that own it and is keyed
// by ID.
type Persona struct {
	ID                string              `yaml:"id" json:"id"`
	Name              string              `yaml:"name" json:"name"`
	Style             string              `yaml:"style" json:"style"`
	RoastSignature    string              `yaml:"roast_signature" json:"roast_signature"`
	RoastStyle        string              `yaml:"roast_style" json:"roast_style"`
	PreferredStrategy string              `yaml:"strategy" json:"strategy"`
	Cultural          string              `yaml:"cultural" json:"cultural"`
	BaselineMood      int                 `yaml:"baseline_mood" json:"baseline_mood"`
	Spice             int                 `yaml:"spice" json:"spice"`
	Quirks            []string            `yaml:"quirks" json:"quirks,omitempty"`
	Triggers          map[string][]string `yaml:"triggers" json:"triggers,omitempty"`
	AntiTriggers      map[string]string   `yaml:"anti_triggers" json:"anti_triggers,omitempty"`
	Goals             []string            `yaml:"goals" json:"goals,omitempty"`
	SpeechPatterns    []string            `yaml:"speech_patterns" json:"speech_patterns,omitempty"`
	// BackupLines are pre-authored roasts used when generation fails.
	BackupLines []string `yaml:"backup_lines" json:"backup_lines,omitempty"`
	// Interactions maps another persona's ID to a short description of how
	// this persona feels about them. It seeds the relationship graph.
	Interactions map[string]string `yaml:"interactions" json:"interactions,omitempty"`
}

// TriggerWords returns the words of the trigger category names
// ("wasting_money" yields "wasting" and "money"), sorted and deduplicated.
// Words shorter than four letters are dropped.
func (p Persona) TriggerWords() []string {
	seen := make(map[string]bool)
	var words []string
	for k := range p.Triggers {
		for _, w := range strings.Split(strings.ToLower(k), "_") {
			if len(w) < 4 || seen[w] {
				continue
			}
			seen[w] = true
			words = append(words, w)
		}
	}
	sort.Strings(words)
	return words
}

// TriggeredBy returns the trigger categories with a word that starts some
// word of text, sorted.
func (p Persona) TriggeredBy(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for k := range p.Triggers {
		if triggerMatches(k, words) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func triggerMatches(key string, words []string) bool {
	for _, kw := range strings.Split(strings.ToLower(key), "_") {
		if len(kw) < 4 {
			continue
		}
		for _, w := range words {
			if strings.HasPrefix(w, kw) {
				return true
			}
		}
	}
	return false
}
