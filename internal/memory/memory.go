// Package memory keeps a bounded conversation log per persona.
//
// Logs evict in two tiers: ordinary entries leave oldest-first, and salient
// entries (strong sentiment or a recurring tag) leave only once no ordinary
// entry is left to evict.
package memory

import (
	"errors"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"flatshare/internal/analyzer"
	"flatshare/internal/domain"
)

const (
	defaultCapacity          = 50
	defaultSalienceThreshold = 0.6
	defaultRecurringTopicMin = 3
	maxRecurringPhrases      = 5
)

// ThreadLog is the log that receives every line of the conversation, in
// speaking order. It is read with GetThread like any persona log.
const ThreadLog = "~thread"

var (
	ErrUnknownEntry  = errors.New("memory: unknown entry")
	ErrAlreadyScored = errors.New("memory: effectiveness already attached")
)

type Config struct {
	Capacity          int     // max entries per persona
	SalienceThreshold float64 // |sentiment| at or above this pins an entry
	RecurringTopicMin int     // a tag shared with this many other entries pins an entry
	Logger            *slog.Logger
}

// Store holds every persona's log. It is safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	capacity     int
	salience     float64
	recurringMin int
	logs         map[string]*personaLog
	logger       *slog.Logger
}

type personaLog struct {
	entries []domain.ConversationEntry
	// appends counts every append and restore; the pattern cache is keyed on it.
	appends        uint64
	profile        *domain.UserPatternProfile
	profileAppends uint64
}

func New(cfg Config) *Store {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.SalienceThreshold <= 0 {
		cfg.SalienceThreshold = defaultSalienceThreshold
	}
	if cfg.RecurringTopicMin <= 0 {
		cfg.RecurringTopicMin = defaultRecurringTopicMin
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		capacity:     cfg.Capacity,
		salience:     cfg.SalienceThreshold,
		recurringMin: cfg.RecurringTopicMin,
		logs:         make(map[string]*personaLog),
		logger:       cfg.Logger,
	}
}

// Capacity returns the per-persona cap.
func (s *Store) Capacity() int { return s.capacity }

// Append stores entry at the tail of persona's log, assigning an ID when the
// entry has none, and evicts down to capacity. It returns the stored entry.
func (s *Store) Append(persona string, entry domain.ConversationEntry) domain.ConversationEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry = clone(entry)

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.log(persona)
	log.entries = append(log.entries, entry)
	log.appends++
	s.evict(persona, log)
	return clone(entry)
}

func (s *Store) log(persona string) *personaLog {
	l, ok := s.logs[persona]
	if !ok {
		l = &personaLog{}
		s.logs[persona] = l
	}
	return l
}

func (s *Store) evict(persona string, log *personaLog) {
	for len(log.entries) > s.capacity {
		idx, salient := s.oldestEvictable(log.entries)
		evicted := log.entries[idx]
		log.entries = append(log.entries[:idx], log.entries[idx+1:]...)
		s.logger.Debug("memory evicted entry",
			"persona", persona,
			"entry", evicted.ID,
			"salient", salient,
		)
	}
}

// oldestEvictable returns the index of the oldest non-salient entry, or 0
// when every entry is salient. The flag reports the latter case.
func (s *Store) oldestEvictable(entries []domain.ConversationEntry) (int, bool) {
	counts := tagCounts(entries)
	for i, e := range entries {
		if !s.isSalient(e, counts) {
			return i, false
		}
	}
	return 0, true
}

func (s *Store) isSalient(e domain.ConversationEntry, counts map[string]int) bool {
	if math.Abs(e.Sentiment) >= s.salience {
		return true
	}
	for _, t := range e.Tags {
		// counts include e itself
		if counts[t]-1 >= s.recurringMin {
			return true
		}
	}
	return false
}

// GetRelevantContext returns up to limit of the most recent entries whose
// tags match topic, oldest first. With no tag match it falls back to the
// most recent entries overall. Invalid entries are skipped.
func (s *Store) GetRelevantContext(persona, topic string, limit int) []domain.ConversationEntry {
	if limit <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[persona]
	if !ok {
		return nil
	}

	var matched, valid []domain.ConversationEntry
	for _, e := range l.entries {
		if !e.Valid() {
			continue
		}
		valid = append(valid, e)
		for _, t := range e.Tags {
			if strings.EqualFold(t, topic) {
				matched = append(matched, e)
				break
			}
		}
	}
	if len(matched) == 0 {
		matched = valid
	}
	return tail(matched, limit)
}

// GetThread returns the last turns valid entries regardless of topic,
// oldest first.
func (s *Store) GetThread(persona string, turns int) []domain.ConversationEntry {
	if turns <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[persona]
	if !ok {
		return nil
	}
	var valid []domain.ConversationEntry
	for _, e := range l.entries {
		if e.Valid() {
			valid = append(valid, e)
		}
	}
	return tail(valid, turns)
}

// AttachEffectiveness records score on an entry. It succeeds once per entry.
func (s *Store) AttachEffectiveness(persona, entryID string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[persona]
	if !ok {
		return ErrUnknownEntry
	}
	for i := range l.entries {
		if l.entries[i].ID != entryID {
			continue
		}
		if l.entries[i].Effectiveness != nil {
			return ErrAlreadyScored
		}
		v := score
		l.entries[i].Effectiveness = &v
		return nil
	}
	return ErrUnknownEntry
}

// AnalyzeUserPatterns derives the user profile from the full log. The result
// is cached until the log changes.
func (s *Store) AnalyzeUserPatterns(persona string) domain.UserPatternProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.log(persona)
	if l.profile == nil || l.profileAppends != l.appends {
		p := buildProfile(l.entries)
		l.profile = &p
		l.profileAppends = l.appends
	}
	return copyProfile(*l.profile)
}

func buildProfile(entries []domain.ConversationEntry) domain.UserPatternProfile {
	p := domain.UserPatternProfile{TopicFrequency: make(map[string]int)}

	var msgs []domain.ConversationEntry
	for _, e := range entries {
		if e.Speaker == domain.UserSpeaker && e.Valid() {
			msgs = append(msgs, e)
		}
	}
	if len(msgs) == 0 {
		return p
	}
	p.Messages = len(msgs)

	phrases := make(map[string]int)
	hours := make(map[int]int)
	var totalLen, questions int
	var totalSentiment float64
	for _, m := range msgs {
		for _, t := range m.Tags {
			p.TopicFrequency[t]++
		}
		for _, ph := range analyzer.NGrams(analyzer.Tokens(m.Message)) {
			phrases[ph]++
		}
		totalLen += len([]rune(m.Message))
		totalSentiment += m.Sentiment
		if strings.Contains(m.Message, "?") {
			questions++
		}
		hours[m.Timestamp.Hour()]++
	}

	p.RecurringPhrases = topRepeated(phrases, maxRecurringPhrases)

	avgLen := float64(totalLen) / float64(len(msgs))
	switch {
	case avgLen > 100:
		p.ResponseStyle = "lengthy"
	case avgLen < 20:
		p.ResponseStyle = "brief"
	default:
		p.ResponseStyle = "moderate"
	}

	p.AverageSentiment = totalSentiment / float64(len(msgs))
	p.RoastSensitivity = math.Max(0.1, 1-math.Abs(p.AverageSentiment))
	p.QuestionFrequency = float64(questions) / float64(len(msgs))

	if len(msgs) > 1 {
		best, bestN := 0, -1
		for h := 0; h < 24; h++ {
			if hours[h] > bestN {
				best, bestN = h, hours[h]
			}
		}
		switch {
		case best >= 6 && best < 12:
			p.PreferredTime = "morning"
		case best >= 12 && best < 18:
			p.PreferredTime = "afternoon"
		default:
			p.PreferredTime = "evening"
		}
	}
	return p
}

func topRepeated(counts map[string]int, n int) []string {
	var out []string
	for k, v := range counts {
		if v > 1 {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Stats summarizes one persona's log.
type Stats struct {
	Total                int       `json:"total"`
	UserMessages         int       `json:"user_messages"`
	PersonaMessages      int       `json:"persona_messages"`
	Oldest               time.Time `json:"oldest"`
	Newest               time.Time `json:"newest"`
	Scored               int       `json:"scored"`
	AverageEffectiveness float64   `json:"average_effectiveness"`
	Pinned               int       `json:"pinned"` // currently safe from eviction
}

func (s *Store) Stats(persona string) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	l, ok := s.logs[persona]
	if !ok {
		return st
	}
	var sum float64
	counts := tagCounts(l.entries)
	for _, e := range l.entries {
		st.Total++
		if s.isSalient(e, counts) {
			st.Pinned++
		}
		if e.Speaker == domain.UserSpeaker {
			st.UserMessages++
		} else {
			st.PersonaMessages++
		}
		if st.Oldest.IsZero() || e.Timestamp.Before(st.Oldest) {
			st.Oldest = e.Timestamp
		}
		if e.Timestamp.After(st.Newest) {
			st.Newest = e.Timestamp
		}
		if e.Effectiveness != nil {
			st.Scored++
			sum += *e.Effectiveness
		}
	}
	if st.Scored > 0 {
		st.AverageEffectiveness = sum / float64(st.Scored)
	}
	return st
}

// Forget drops entries older than cutoff and returns how many were removed.
func (s *Store) Forget(persona string, cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[persona]
	if !ok {
		return 0
	}
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(l.entries) - len(kept)
	l.entries = kept
	if removed > 0 {
		l.appends++
	}
	return removed
}

// Entries returns a copy of persona's full log.
func (s *Store) Entries(persona string) []domain.ConversationEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[persona]
	if !ok {
		return nil
	}
	return tail(l.entries, len(l.entries))
}

// Personas lists every persona with a log, sorted.
// Personas lists the logs held, including ThreadLog once anything was said.
func (s *Store) Personas() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.logs))
	for id := range s.logs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Restore replaces persona's log, trimming it to capacity.
func (s *Store) Restore(persona string, entries []domain.ConversationEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.log(persona)
	l.entries = make([]domain.ConversationEntry, 0, len(entries))
	for _, e := range entries {
		l.entries = append(l.entries, clone(e))
	}
	l.appends++
	s.evict(persona, l)
}

func tagCounts(entries []domain.ConversationEntry) map[string]int {
	counts := make(map[string]int)
	for _, e := range entries {
		for _, t := range e.Tags {
			counts[t]++
		}
	}
	return counts
}

func tail(entries []domain.ConversationEntry, n int) []domain.ConversationEntry {
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]domain.ConversationEntry, 0, n)
	for _, e := range entries[len(entries)-n:] {
		out = append(out, clone(e))
	}
	return out
}

func clone(e domain.ConversationEntry) domain.ConversationEntry {
	if e.Tags != nil {
		e.Tags = append([]string(nil), e.Tags...)
	}
	if e.Effectiveness != nil {
		v := *e.Effectiveness
		e.Effectiveness = &v
	}
	return e
}

func copyProfile(p domain.UserPatternProfile) domain.UserPatternProfile {
	freq := make(map[string]int, len(p.TopicFrequency))
	for k, v := range p.TopicFrequency {
		freq[k] = v
	}
	p.TopicFrequency = freq
	if p.RecurringPhrases != nil {
		p.RecurringPhrases = append([]string(nil), p.RecurringPhrases...)
	}
	return p
}
