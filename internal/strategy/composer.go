package strategy

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"flatshare/internal/cultural"
	"flatshare/internal/domain"
	"flatshare/internal/mood"
)

const (
	defaultTemperature = 0.9
	defaultMaxTokens   = 80
	culturalElements   = 3
	softenBelow        = 0.85
	sharpenAbove       = 1.15
)

var toneDirectives = map[Strategy]string{
	Aggressive:        "Go straight for the jugular. Blunt, direct, no hedging.",
	PassiveAggressive: "Sound polite and concerned on the surface while the insult sits underneath.",
	Witty:             "Use clever wordplay and land a quick punchline.",
	Absurd:            "Escalate into a ridiculous, surreal comparison nobody saw coming.",
	Cultural:          "Lean on the cultural references listed below.",
}

// Mode says what kind of line is being composed.
type Mode string

const (
	ModeRoast  Mode = "roast"
	ModeDefend Mode = "defend"
)

// Elements is everything the composer weaves into a request besides the
// persona and strategy.
type Elements struct {
	Mode          Mode
	Utterance     string
	Speaker       string // who said the utterance
	TargetPersona *domain.Persona
	Defended      string // persona being defended in ModeDefend
	Analysis      domain.AnalysisResult
	Context       domain.ConversationContext
	Memories      []domain.ConversationEntry
	Profile       domain.UserPatternProfile
	Intensity     float64 // relationship intensity modifier, 1 is neutral
	Mood          int
	Modifiers     mood.Modifiers
}

type ComposerConfig struct {
	Cultural    *cultural.Registry
	Temperature float64
	MaxTokens   int
	Stream      bool
	Rand        *rand.Rand
}

// Composer turns persona state into a generation request. It never calls a
// generator itself.
type Composer struct {
	mu  sync.Mutex
	cfg ComposerConfig
	rng *rand.Rand
}

func NewComposer(cfg ComposerConfig) *Composer {
	if cfg.Cultural == nil {
		cfg.Cultural = cultural.DefaultRegistry()
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Composer{cfg: cfg, rng: cfg.Rand}
}

// Build assembles the request for p to address target with st.
func (c *Composer) Build(p domain.Persona, target string, el Elements, st Strategy) domain.GenerationRequest {
	topic := el.Analysis.PrimaryTopic()

	var provider cultural.Provider
	var material []string
	if st == Cultural {
		var cat cultural.Category
		provider, cat, _ = c.cfg.Cultural.Resolve(p.Cultural, topic)
		c.mu.Lock()
		material = provider.Elements(cat, el.Profile, c.rng, culturalElements)
		c.mu.Unlock()
	}

	length := el.Modifiers.ResponseLength
	if length <= 0 {
		length = 1
	}
	return domain.GenerationRequest{
		PersonaID:   p.ID,
		Target:      target,
		Strategy:    string(st),
		System:      c.system(p, target, el, st, provider),
		User:        c.user(p, target, el, topic, material),
		MaxTokens:   int(math.Round(float64(c.cfg.MaxTokens) * length)),
		Temperature: c.cfg.Temperature,
		Stream:      c.cfg.Stream,
	}
}

func (c *Composer) system(p domain.Persona, target string, el Elements, st Strategy, provider cultural.Provider) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\nYou are %s, a flatshare roommate with a very specific personality. Stay completely in character.\n", p.Name, p.Name)

	b.WriteString("\n## Personality\n")
	writeField(&b, "Style", p.Style)
	writeField(&b, "Roast signature", p.RoastSignature)
	writeField(&b, "Roast style", p.RoastStyle)
	writeField(&b, "Quirks", strings.Join(p.Quirks, "; "))
	writeField(&b, "Speech patterns", strings.Join(p.SpeechPatterns, "; "))

	fmt.Fprintf(&b, "\n## Mood\n%d/100, %s. %s\n", el.Mood, mood.Describe(el.Mood), moodInstruction(el.Modifiers))

	fmt.Fprintf(&b, "\n## Strategy: %s\n%s\n", st, toneDirectives[st])
	if tone := toneInstruction(el.Intensity, label(target, el.TargetPersona)); tone != "" {
		b.WriteString(tone)
		b.WriteByte('\n')
	}
	if el.TargetPersona != nil {
		if dyn := p.Interactions[el.TargetPersona.ID]; dyn != "" {
			fmt.Fprintf(&b, "How you feel about %s: %s\n", el.TargetPersona.Name, dyn)
		}
	}

	if provider != nil {
		fmt.Fprintf(&b, "\n## Cultural Style (%s)\n%s\n", provider.Name(), provider.StyleAdditions())
	}

	b.WriteString("\n## Rules\n")
	b.WriteString("- One or two sentences, no more.\n")
	b.WriteString("- Keep it PG-13. Never touch race, religion, gender, sexuality, disability, ethnicity or caste.\n")
	b.WriteString("- Reply with the line only, no speaker label.")
	return b.String()
}

func (c *Composer) user(p domain.Persona, target string, el Elements, topic string, material []string) string {
	var b strings.Builder
	speaker := el.Speaker
	if speaker == "" {
		speaker = domain.UserSpeaker
	}
	if el.Utterance != "" {
		fmt.Fprintf(&b, "%s said: %q\n", speaker, el.Utterance)
	}
	fmt.Fprintf(&b, "Topic: %s", topic)
	if el.Context.EmotionalTone != "" {
		fmt.Fprintf(&b, " (thread mood: %s)", el.Context.EmotionalTone)
	}
	b.WriteByte('\n')

	var reactions []string
	for _, k := range p.TriggeredBy(el.Utterance + " " + topic) {
		reactions = append(reactions, first(p.Triggers[k], 1)...)
	}
	if len(reactions) > 0 {
		fmt.Fprintf(&b, "This pushes your buttons. Your gut reaction: %s\n", strings.Join(first(reactions, 3), " / "))
	}

	if len(el.Memories) > 0 {
		b.WriteString("\nWhat you remember:\n")
		for _, m := range el.Memories {
			fmt.Fprintf(&b, "- %s: %s\n", m.Speaker, m.Message)
		}
	}

	if target == domain.UserSpeaker && el.Profile.Messages > 0 {
		b.WriteString("\nWhat you have noticed about the user:\n")
		if top := el.Profile.TopTopics(3); len(top) > 0 {
			fmt.Fprintf(&b, "- keeps talking about %s\n", strings.Join(top, ", "))
		}
		if len(el.Profile.RecurringPhrases) > 0 {
			fmt.Fprintf(&b, "- keeps saying %q\n", el.Profile.RecurringPhrases[0])
		}
		if el.Profile.ResponseStyle != "" {
			fmt.Fprintf(&b, "- writes %s messages\n", el.Profile.ResponseStyle)
		}
	}
	if len(el.Analysis.BehavioralFlags) > 0 {
		fmt.Fprintf(&b, "- right now they sound %s\n", strings.Join(el.Analysis.BehavioralFlags, ", "))
	}

	if len(material) > 0 {
		b.WriteString("\nMaterial you can use:\n")
		for _, m := range material {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}

	b.WriteByte('\n')
	switch el.Mode {
	case ModeDefend:
		fmt.Fprintf(&b, "Stick up for %s and fire back at %s.", nameOr(el.Defended, "your friend"), label(target, el.TargetPersona))
	default:
		fmt.Fprintf(&b, "Roast %s now.", label(target, el.TargetPersona))
	}
	return b.String()
}

// toneInstruction turns the relationship modifier into a sentence.
func toneInstruction(intensity float64, target string) string {
	switch {
	case intensity > 0 && intensity < softenBelow:
		return fmt.Sprintf("You actually like %s. Soften it: tease, don't wound.", target)
	case intensity > sharpenAbove:
		return fmt.Sprintf("You cannot stand %s. Sharpen it and hold nothing back.", target)
	default:
		return ""
	}
}

func moodInstruction(m mood.Modifiers) string {
	switch {
	case m.Aggression >= 1.2:
		return "You are in a foul mood, so you are snappier than usual."
	case m.Aggression > 0 && m.Aggression < 0.9:
		return "You are in a great mood, so keep it playful."
	default:
		return "You are your usual self."
	}
}

func writeField(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", name, value)
}

func label(target string, tp *domain.Persona) string {
	if tp != nil && tp.Name != "" {
		return tp.Name
	}
	if target == domain.UserSpeaker {
		return "the user"
	}
	return target
}

func nameOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func first(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}
