// Package analyzer extracts topics, sentiment, urgency and behavioral
// signals from a single utterance. It holds only static keyword tables, so
// identical input always yields an identical result.
package analyzer

import (
	"regexp"
	"sort"
	"strings"

	"flatshare/internal/domain"
)

const (
	maxRepeatedPhrases = 5
	fixatedMinEntries  = 3
	evasiveMaxWords    = 4
	sentimentGain      = 10.0
	urgencyScale       = 5.0
)

type category struct {
	name     string
	keywords []string
}

// Topic table. Order is significant: results follow it.
var topicTable = []category{
	{"career", []string{"job", "work", "career", "boss", "office", "salary", "promotion", "interview", "resume"}},
	{"relationships", []string{"girlfriend", "boyfriend", "dating", "love", "crush", "relationship", "marriage", "single"}},
	{"food", []string{"eat", "food", "cook", "recipe", "restaurant", "hungry", "dinner", "lunch", "breakfast"}},
	{"technology", []string{"computer", "phone", "app", "software", "coding", "programming", "tech", "internet"}},
	{"health", []string{"gym", "exercise", "diet", "sick", "doctor", "medicine", "fitness", "workout"}},
	{"money", []string{"money", "expensive", "cheap", "budget", "broke", "rich", "cost", "price", "financial", "rent"}},
	{"education", []string{"school", "study", "exam", "college", "university", "degree", "learning", "homework"}},
	{"entertainment", []string{"movie", "music", "game", "tv", "show", "book", "party", "fun", "weekend"}},
	{"family", []string{"family", "parents", "mom", "dad", "sister", "brother", "relatives", "home"}},
	{"travel", []string{"travel", "vacation", "trip", "flight", "hotel", "visit", "explore", "journey"}},
}

var behaviorTable = []category{
	{"indecisive", []string{"i don't know", "not sure", "maybe", "what should i", "help me decide"}},
	{"complainer", []string{"always", "never", "everything", "nothing works", "so annoying", "hate when"}},
	{"perfectionist", []string{"perfect", "exactly", "precisely", "must be", "has to be", "should be"}},
	{"procrastinator", []string{"later", "tomorrow", "eventually", "when i have time", "putting off"}},
	{"overachiever", []string{"best", "top", "first", "win", "achieve", "goal", "success", "excel"}},
	{"social", []string{"friends", "people", "everyone", "party", "hang out", "meet up", "social"}},
	{"introvert", []string{"alone", "quiet", "by myself", "don't like crowds", "prefer", "stay in"}},
}

var evasiveMarkers = []string{"whatever", "idk", "dunno", "no comment", "doesn't matter", "not telling", "who cares", "moving on"}

var positiveWords = wordSet("good", "great", "awesome", "amazing", "love", "happy", "excited", "wonderful", "fantastic", "excellent", "nice", "glad", "fun", "best")

var negativeWords = wordSet("bad", "terrible", "awful", "hate", "sad", "angry", "frustrated", "disappointed", "worried", "stressed", "tired", "annoying", "worst", "boring")

var negators = wordSet("not", "never", "no", "isn't", "wasn't", "don't", "didn't", "hardly")

var urgencyWords = []string{"urgent", "asap", "immediately", "now", "quick", "fast", "hurry", "emergency", "need", "must", "have to", "important", "help!"}

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}']+`)

// Analyzer scores utterances. The zero value is not usable; call New.
type Analyzer struct {
	topics    []category
	behaviors []category
}

func New() *Analyzer {
	return &Analyzer{topics: topicTable, behaviors: behaviorTable}
}

// Analyze scores message. recent is the text of the latest entries of the
// shared thread (oldest first); it feeds repeated-phrase and fixation
// detection and may be empty.
func (a *Analyzer) Analyze(message string, recent []string) domain.AnalysisResult {
	lower := strings.ToLower(message)
	tokens := Tokens(lower)
	words := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		words[t] = true
	}

	topics := a.detectTopics(lower, words)
	return domain.AnalysisResult{
		Topics:          topics,
		Sentiment:       sentiment(tokens),
		Urgency:         urgency(message, lower, words),
		QuestionCount:   questionCount(message),
		RepeatedPhrases: repeatedPhrases(tokens, recent),
		BehavioralFlags: a.detectFlags(lower, words, tokens, topics, recent),
	}
}

// Topics returns only the topic categories of message.
func (a *Analyzer) Topics(message string) []string {
	lower := strings.ToLower(message)
	words := make(map[string]bool)
	for _, t := range Tokens(lower) {
		words[t] = true
	}
	return a.detectTopics(lower, words)
}

func (a *Analyzer) detectTopics(lower string, words map[string]bool) []string {
	var out []string
	for _, c := range a.topics {
		for _, kw := range c.keywords {
			if matches(lower, words, kw) {
				out = append(out, c.name)
				break
			}
		}
	}
	return out
}

func (a *Analyzer) detectFlags(lower string, words map[string]bool, tokens []string, topics []string, recent []string) []string {
	var flags []string
	for _, c := range a.behaviors {
		for _, kw := range c.keywords {
			if matches(lower, words, kw) {
				flags = append(flags, c.name)
				break
			}
		}
	}

	if len(tokens) > 0 && len(tokens) <= evasiveMaxWords {
		for _, m := range evasiveMarkers {
			if matches(lower, words, m) {
				flags = append(flags, "evasive")
				break
			}
		}
	}

	if len(topics) > 0 && len(recent) >= fixatedMinEntries {
		for _, topic := range topics {
			n := 0
			for _, r := range recent {
				if containsString(a.Topics(r), topic) {
					n++
				}
			}
			if n >= fixatedMinEntries {
				flags = append(flags, "fixated")
				break
			}
		}
	}
	return flags
}

// BuildContext summarizes a thread of entries (oldest first).
func (a *Analyzer) BuildContext(entries []domain.ConversationEntry) domain.ConversationContext {
	ctx := domain.ConversationContext{CurrentTopic: "general", EmotionalTone: "neutral"}
	if len(entries) == 0 {
		return ctx
	}

	counts := make(map[string]int)
	lastSeen := make(map[string]int)
	speakers := make(map[string]bool)
	var history []string
	var total float64

	for i, e := range entries {
		speakers[e.Speaker] = true
		res := a.Analyze(e.Message, nil)
		total += res.Sentiment
		for _, t := range res.Topics {
			counts[t]++
			lastSeen[t] = i
		}
		if len(res.Topics) > 0 && (len(history) == 0 || history[len(history)-1] != res.Topics[0]) {
			history = append(history, res.Topics[0])
		}
	}

	best, bestCount := "", 0
	for t, n := range counts {
		later := lastSeen[t] > lastSeen[best] || (lastSeen[t] == lastSeen[best] && t < best)
		if n > bestCount || (n == bestCount && later) {
			best, bestCount = t, n
		}
	}
	if best != "" {
		ctx.CurrentTopic = best
	}

	for s := range speakers {
		ctx.Participants = append(ctx.Participants, s)
	}
	sort.Strings(ctx.Participants)

	if len(history) > 5 {
		history = history[len(history)-5:]
	}
	ctx.TopicHistory = history
	ctx.ThreadLength = len(entries)

	avg := total / float64(len(entries))
	switch {
	case avg > 0.3:
		ctx.EmotionalTone = "positive"
	case avg < -0.3:
		ctx.EmotionalTone = "negative"
	}
	return ctx
}

// Tokens splits text into lower-case word tokens.
func Tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// NGrams returns every 2- and 3-word phrase of tokens, in order.
func NGrams(tokens []string) []string {
	var out []string
	for i := 0; i+1 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	for i := 0; i+2 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1]+" "+tokens[i+2])
	}
	return out
}

func sentiment(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	var pos, neg int
	for i, t := range tokens {
		negated := i > 0 && negators[tokens[i-1]]
		switch {
		case positiveWords[t] && !negated, negativeWords[t] && negated:
			pos++
		case positiveWords[t], negativeWords[t]:
			neg++
		}
	}
	net := float64(pos-neg) / float64(len(tokens)) * sentimentGain
	return clamp(net, -1, 1)
}

func urgency(original, lower string, words map[string]bool) float64 {
	count := 0
	for _, ind := range urgencyWords {
		if matches(lower, words, ind) {
			count++
		}
	}
	if strings.Contains(original, "!!!") || strings.Count(original, "!") > 2 {
		count += 2
	}
	for _, w := range strings.Fields(original) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) > 2 && w == strings.ToUpper(w) && w != strings.ToLower(w) {
			count++
		}
	}
	return clamp(float64(count)/urgencyScale, 0, 1)
}

// questionCount counts interrogative sentence ends: each run of '?' is one.
func questionCount(message string) int {
	n := 0
	prev := rune(0)
	for _, r := range message {
		if r == '?' && prev != '?' {
			n++
		}
		prev = r
	}
	return n
}

func repeatedPhrases(tokens []string, recent []string) []string {
	own := NGrams(tokens)
	if len(own) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, p := range own {
		counts[p]++
	}
	for _, r := range recent {
		for _, p := range NGrams(Tokens(r)) {
			if _, ok := counts[p]; ok {
				counts[p]++
			}
		}
	}
	var out []string
	for p, n := range counts {
		if n > 1 {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	if len(out) > maxRepeatedPhrases {
		out = out[:maxRepeatedPhrases]
	}
	return out
}

// matches reports whether kw occurs in the message. Multi-word or punctuated
// keywords match as substrings; single words match a token or a simple
// inflection of it.
func matches(lower string, words map[string]bool, kw string) bool {
	if strings.ContainsAny(kw, " '!?") {
		return strings.Contains(lower, kw)
	}
	for _, suffix := range []string{"", "s", "es", "ing", "ed"} {
		if words[kw+suffix] {
			return true
		}
	}
	return false
}

func wordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
