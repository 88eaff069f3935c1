// Package safety screens generated lines before they reach the user.
package safety

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// DefaultReplacement stands in for a blocked line.
const DefaultReplacement = "Let's keep it classy: PG-13 roasts only."

var protected = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(race|racial|religio\w*|gender|sexual\w*|disab\w*|ethnic\w*|caste)\b`),
	regexp.MustCompile(`(?i)\b\w*slur\w*\b`),
}

type Config struct {
	MaxChars    int      // 0 means no limit
	Replacement string   // used instead of DefaultReplacement when set
	Extra       []string // extra blocked patterns; plain words match case-insensitively
	Logger      *slog.Logger
}

// Filter blocks lines touching protected topics and trims the rest.
type Filter struct {
	patterns    []*regexp.Regexp
	maxChars    int
	replacement string
	logger      *slog.Logger
}

func New(cfg Config) (*Filter, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Replacement == "" {
		cfg.Replacement = DefaultReplacement
	}
	extra, err := compilePatterns(cfg.Extra)
	if err != nil {
		return nil, fmt.Errorf("invalid safety pattern: %w", err)
	}
	return &Filter{
		patterns:    append(append([]*regexp.Regexp(nil), protected...), extra...),
		maxChars:    cfg.MaxChars,
		replacement: cfg.Replacement,
		logger:      cfg.Logger,
	}, nil
}

// Blocked reports whether text matches a blocked pattern.
func (f *Filter) Blocked(text string) bool {
	for _, re := range f.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Apply returns the replacement line for blocked text, otherwise text
// trimmed of surrounding space and cut to the character limit. The bool is
// true when the line was replaced.
func (f *Filter) Apply(persona, text string) (string, bool) {
	for _, re := range f.patterns {
		if re.MatchString(text) {
			f.logger.Warn("generated line blocked",
				"persona", persona,
				"pattern", re.String(),
			)
			return f.replacement, true
		}
	}
	text = strings.TrimSpace(text)
	if f.maxChars > 0 {
		if r := []rune(text); len(r) > f.maxChars {
			text = strings.TrimSpace(string(r[:f.maxChars]))
		}
	}
	return text, false
}

// Plain words become case-insensitive literal patterns.
func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		var re *regexp.Regexp
		var err error
		if isRegex(p) {
			re, err = regexp.Compile(p)
		} else {
			re, err = regexp.Compile(`(?i)` + regexp.QuoteMeta(p))
		}
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func isRegex(s string) bool {
	return strings.ContainsAny(s, `()[]{}|^$.*+?\`)
}
