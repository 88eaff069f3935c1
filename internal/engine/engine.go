// Package engine runs the roommate simulation: one utterance at a time it
// decides who answers, builds their requests, generates the lines and feeds
// the user's reaction back into mood, relationships and strategy history.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"flatshare/internal/analyzer"
	"flatshare/internal/config"
	"flatshare/internal/cultural"
	"flatshare/internal/domain"
	"flatshare/internal/effectiveness"
	"flatshare/internal/memory"
	"flatshare/internal/metrics"
	"flatshare/internal/mood"
	"flatshare/internal/persona"
	"flatshare/internal/relationship"
	"flatshare/internal/safety"
	"flatshare/internal/strategy"
)

const (
	defaultGenerationTimeout = 20 * time.Second
	defaultMaxFailures       = 3
	defaultMaxSpeakers       = 3
	defaultHistoryTurns      = 5
	defaultContextLimit      = 3
	defaultThreadTurns       = 5
	persistTimeout           = 5 * time.Second
)

// ErrServiceUnavailable is returned alongside the backup lines once
// generation has failed for MaxConsecutiveFailures turns in a row.
var ErrServiceUnavailable = errors.New("generation service unavailable")

// ErrNoPersonas is returned by New for an empty cast.
var ErrNoPersonas = errors.New("engine: no personas")

// Config holds the cast, collaborators and tuning of an Engine. Nil
// components are created with their defaults.
type Config struct {
	Personas  []domain.Persona
	Generator domain.Generator
	Store     domain.SnapshotStore // optional
	Bus       domain.MessageBus    // required by Run only

	Analyzer    *analyzer.Analyzer
	Memory      *memory.Store
	Moods       *mood.Tracker
	Graph       *relationship.Graph
	Selector    *strategy.Selector
	Composer    *strategy.Composer
	Coordinator *strategy.Coordinator
	Scorer      *effectiveness.Scorer
	Pending     *effectiveness.Queue
	Safety      *safety.Filter
	Metrics     *metrics.Collector

	GenerationTimeout      time.Duration
	MaxConsecutiveFailures int
	MaxSpeakers            int // cap on lines in a banter round
	HistoryTurns           int // recent thread entries fed to the analyzer
	ContextLimit           int // memories per responder
	ThreadTurns            int // entries summarized into the conversation context
	InitiateInterval       time.Duration
	Stream                 bool

	Now    func() time.Time
	Logger *slog.Logger
}

// Engine owns every piece of mutable simulation state. Turns are
// serialized; persona state is only read or written under stateMu and
// never while a generation call is in flight.
type Engine struct {
	cfg    Config
	cast   []domain.Persona
	index  map[string]*domain.Persona
	gen    domain.Generator
	store  domain.SnapshotStore
	bus    domain.MessageBus
	now    func() time.Time
	logger *slog.Logger

	analyzer    *analyzer.Analyzer
	memory      *memory.Store
	moods       *mood.Tracker
	graph       *relationship.Graph
	selector    *strategy.Selector
	composer    *strategy.Composer
	coordinator *strategy.Coordinator
	scorer      *effectiveness.Scorer
	pending     *effectiveness.Queue
	safety      *safety.Filter
	metrics     *turnMetrics

	turnMu sync.Mutex

	stateMu       sync.Mutex
	turn          int
	failureStreak int
	lastUser      time.Time
}

// New builds an engine and registers the cast: baseline moods and the
// relationship seeds described in each persona's interactions.
func New(cfg Config) (*Engine, error) {
	if len(cfg.Personas) == 0 {
		return nil, ErrNoPersonas
	}
	if cfg.Generator == nil {
		return nil, errors.New("engine: generator is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = defaultGenerationTimeout
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = defaultMaxFailures
	}
	if cfg.MaxSpeakers <= 0 {
		cfg.MaxSpeakers = defaultMaxSpeakers
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = defaultHistoryTurns
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = defaultContextLimit
	}
	if cfg.ThreadTurns <= 0 {
		cfg.ThreadTurns = defaultThreadTurns
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = analyzer.New()
	}
	if cfg.Memory == nil {
		cfg.Memory = memory.New(memory.Config{Logger: cfg.Logger})
	}
	if cfg.Moods == nil {
		cfg.Moods = mood.New(mood.Config{Logger: cfg.Logger})
	}
	if cfg.Graph == nil {
		cfg.Graph = relationship.New(relationship.Config{Logger: cfg.Logger})
	}
	if cfg.Selector == nil {
		cfg.Selector = strategy.NewSelector(strategy.SelectorConfig{Logger: cfg.Logger})
	}
	if cfg.Composer == nil {
		cfg.Composer = strategy.NewComposer(strategy.ComposerConfig{Stream: cfg.Stream})
	}
	if cfg.Coordinator == nil {
		cfg.Coordinator = strategy.NewCoordinator(strategy.CoordinatorConfig{Logger: cfg.Logger})
	}
	if cfg.Scorer == nil {
		cfg.Scorer = effectiveness.NewScorer(effectiveness.ScorerConfig{})
	}
	if cfg.Pending == nil {
		cfg.Pending = effectiveness.NewQueue(effectiveness.QueueConfig{Logger: cfg.Logger})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New("flatshare")
	}
	if cfg.Safety == nil {
		f, err := safety.New(safety.Config{Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
		cfg.Safety = f
	}

	e := &Engine{
		cfg:         cfg,
		cast:        append([]domain.Persona(nil), cfg.Personas...),
		gen:         cfg.Generator,
		store:       cfg.Store,
		bus:         cfg.Bus,
		now:         cfg.Now,
		logger:      cfg.Logger,
		analyzer:    cfg.Analyzer,
		memory:      cfg.Memory,
		moods:       cfg.Moods,
		graph:       cfg.Graph,
		selector:    cfg.Selector,
		composer:    cfg.Composer,
		coordinator: cfg.Coordinator,
		scorer:      cfg.Scorer,
		pending:     cfg.Pending,
		safety:      cfg.Safety,
		metrics:     newTurnMetrics(cfg.Metrics),
	}
	e.index = persona.Index(e.cast)

	start := e.now()
	for _, p := range e.cast {
		e.moods.Register(p.ID, p.BaselineMood, start)
	}
	for _, edge := range persona.Seeds(e.cast) {
		e.graph.Set(edge.A, edge.B, edge.Score)
	}
	for _, u := range persona.UnknownInteractions(e.cast) {
		e.logger.Warn("interaction names a persona outside the cast", "interaction", u)
	}
	e.logger.Info("engine ready",
		"personas", len(e.cast),
		"generator", e.gen.Name(),
		"stream", cfg.Stream,
	)
	return e, nil
}

// FromConfig wires every component from cfg. Randomness is derived from
// general.seed, or from the runtime source when the seed is zero.
func FromConfig(cfg *config.Config, personas []domain.Persona, gen domain.Generator, st domain.SnapshotStore, bus domain.MessageBus, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	seed := uint64(cfg.General.Seed)
	if seed == 0 {
		seed = rand.Uint64()
	}
	stream := func(n uint64) *rand.Rand { return rand.New(rand.NewPCG(seed, n)) }

	filter, err := safety.New(safety.Config{
		MaxChars:    cfg.Simulation.MaxResponseChars,
		Replacement: cfg.Safety.Replacement,
		Extra:       cfg.Safety.ExtraPatterns,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	registry := cultural.DefaultRegistry()
	if p, ok := registry.Lookup(cfg.General.DefaultCultural); ok && p.Name() != registry.Default().Name() {
		if !cultural.SupportsAll(p) {
			return nil, fmt.Errorf("cultural style %q cannot be the default: it lacks some categories", p.Name())
		}
		registry = cultural.NewRegistry(p, cultural.Generic{}, cultural.Indian{})
	}

	return New(Config{
		Personas:  personas,
		Generator: gen,
		Store:     st,
		Bus:       bus,
		Memory: memory.New(memory.Config{
			Capacity:          cfg.Memory.Capacity,
			SalienceThreshold: cfg.Memory.SalienceThreshold,
			RecurringTopicMin: cfg.Memory.RecurringTopicMin,
			Logger:            logger,
		}),
		Moods: mood.New(mood.Config{
			DecayPerMinute:     cfg.Mood.DecayPerMinute,
			MaxDecayFraction:   cfg.Mood.MaxDecayFraction,
			InitiateThreshold:  cfg.Mood.InitiateThreshold,
			InitiateBaseChance: cfg.Mood.InitiateBaseChance,
			InitiateMaxChance:  cfg.Mood.InitiateMaxChance,
			Rand:               stream(1),
			Logger:             logger,
		}),
		Graph: relationship.New(relationship.Config{
			DefendThreshold:   cfg.Relationships.DefendThreshold,
			DefendProbability: cfg.Relationships.DefendProbability,
			Rand:              stream(2),
			Logger:            logger,
		}),
		Selector: strategy.NewSelector(strategy.SelectorConfig{
			FailureThreshold: cfg.Strategy.FailureThreshold,
			ExplorationAfter: cfg.Strategy.ExplorationAfter,
			HistoryWindow:    cfg.Strategy.HistoryWindow,
			Rand:             stream(3),
			Logger:           logger,
		}),
		Composer: strategy.NewComposer(strategy.ComposerConfig{
			Cultural:    registry,
			Temperature: cfg.Generator.Temperature,
			MaxTokens:   cfg.Generator.MaxTokens,
			Stream:      cfg.Generator.Stream,
			Rand:        stream(4),
		}),
		Coordinator: strategy.NewCoordinator(strategy.CoordinatorConfig{
			MinSpeakers: cfg.Simulation.MinSpeakers,
			MaxSpeakers: cfg.Simulation.MaxSpeakers,
			Rand:        stream(5),
			Logger:      logger,
		}),
		Scorer: effectiveness.NewScorer(effectiveness.ScorerConfig{
			LatencyWindow:    time.Duration(cfg.Effectiveness.LatencyWindowSeconds) * time.Second,
			SuccessThreshold: cfg.Strategy.SuccessThreshold,
			FailureThreshold: cfg.Strategy.FailureThreshold,
		}),
		Pending: effectiveness.NewQueue(effectiveness.QueueConfig{
			Timeout: time.Duration(cfg.Effectiveness.PendingTimeoutSeconds) * time.Second,
			Logger:  logger,
		}),
		Safety:                 filter,
		GenerationTimeout:      time.Duration(cfg.Generator.TimeoutSeconds) * time.Second,
		MaxConsecutiveFailures: cfg.Simulation.MaxConsecutiveFailures,
		MaxSpeakers:            cfg.Simulation.MaxSpeakers,
		HistoryTurns:           cfg.Simulation.HistoryTurns,
		ContextLimit:           cfg.Memory.ContextLimit,
		ThreadTurns:            cfg.Memory.ThreadTurns,
		InitiateInterval:       time.Duration(cfg.Simulation.InitiateIntervalSecs) * time.Second,
		Stream:                 cfg.Generator.Stream,
		Logger:                 logger,
	})
}

// Personas returns the cast in configuration order.
func (e *Engine) Personas() []domain.Persona {
	return append([]domain.Persona(nil), e.cast...)
}

// Persona looks up a cast member by ID.
func (e *Engine) Persona(id string) (domain.Persona, bool) {
	p, ok := e.index[id]
	if !ok {
		return domain.Persona{}, false
	}
	return *p, true
}

// Generator returns the generator the engine talks to.
func (e *Engine) Generator() domain.Generator { return e.gen }

func (e *Engine) displayName(id string) string {
	if p, ok := e.index[id]; ok && p.Name != "" {
		return p.Name
	}
	return id
}
