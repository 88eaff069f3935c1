package domain

import (
	"sort"
	"time"
)

// UserSpeaker is the speaker identity used for the human in the flat.
const UserSpeaker = "user"

// ConversationEntry is an immutable record of one utterance. Effectiveness is
// the only field that may be set after the entry is stored, and only once.
type ConversationEntry struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Speaker       string    `json:"speaker"`
	Message       string    `json:"message"`
	Tags          []string  `json:"tags,omitempty"`
	Sentiment     float64   `json:"sentiment"`
	Effectiveness *float64  `json:"effectiveness,omitempty"`
}

// Valid reports whether the entry carries enough data to be used as context.
func (e ConversationEntry) Valid() bool {
	return e.Message != "" && !e.Timestamp.IsZero()
}

// HasTag reports whether the entry carries tag, compared exactly.
func (e ConversationEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AnalysisResult is produced fresh for every utterance and never stored.
type AnalysisResult struct {
	Topics          []string `json:"topics"`
	Sentiment       float64  `json:"sentiment"`
	Urgency         float64  `json:"urgency"`
	QuestionCount   int      `json:"question_count"`
	RepeatedPhrases []string `json:"repeated_phrases,omitempty"`
	BehavioralFlags []string `json:"behavioral_flags,omitempty"`
}

// PrimaryTopic returns the first detected topic or "general".
func (a AnalysisResult) PrimaryTopic() string {
	if len(a.Topics) == 0 {
		return "general"
	}
	return a.Topics[0]
}

// ConversationContext summarizes a recent thread.
type ConversationContext struct {
	CurrentTopic  string   `json:"current_topic"`
	Participants  []string `json:"participants"`
	TopicHistory  []string `json:"topic_history"`
	EmotionalTone string   `json:"emotional_tone"`
	ThreadLength  int      `json:"thread_length"`
}

// UserPatternProfile aggregates what a persona has observed about the user.
type UserPatternProfile struct {
	TopicFrequency    map[string]int `json:"topic_frequency"`
	RecurringPhrases  []string       `json:"recurring_phrases,omitempty"`
	ResponseStyle     string         `json:"response_style"`
	AverageSentiment  float64        `json:"average_sentiment"`
	RoastSensitivity  float64        `json:"roast_sensitivity"`
	PreferredTime     string         `json:"preferred_time,omitempty"`
	QuestionFrequency float64        `json:"question_frequency"`
	Messages          int            `json:"messages"`
}

// TopTopics returns up to n topics ordered by frequency, ties by name.
func (p UserPatternProfile) TopTopics(n int) []string {
	type kv struct {
		k string
		v int
	}
	list := make([]kv, 0, len(p.TopicFrequency))
	for k, v := range p.TopicFrequency {
		list = append(list, kv{k, v})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].v != list[j].v {
			return list[i].v > list[j].v
		}
		return list[i].k < list[j].k
	})
	out := make([]string, 0, n)
	for i := 0; i < len(list) && i < n; i++ {
		out = append(out, list[i].k)
	}
	return out
}

// Utterance is what a front end hands to the engine.
type Utterance struct {
	Speaker   string
	Text      string
	Timestamp time.Time
}
