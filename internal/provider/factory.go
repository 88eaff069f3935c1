package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"flatshare/internal/config"
	"flatshare/internal/domain"
)

// Constructor creates a generator from a config entry.
type Constructor func(pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) domain.Generator

// Factory creates and caches generators from config.
type Factory struct {
	cfg          config.GeneratorConfig
	logger       *slog.Logger
	constructors map[string]Constructor
	cache        map[string]domain.Generator
	mu           sync.RWMutex
}

// NewFactory creates a generator factory with the built-in constructors registered.
func NewFactory(cfg config.GeneratorConfig, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.Generator),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a constructor for a provider kind.
func (f *Factory) RegisterConstructor(kind string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["ollama"] = func(pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) domain.Generator {
		return NewOllama(OllamaConfig{
			APIBase:      pc.APIBase,
			DefaultModel: pc.DefaultModel,
			MaxRetries:   pc.MaxRetries,
			Client:       SharedHTTPClient(timeout),
			Logger:       logger,
		})
	}
	f.constructors["openai"] = func(pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) domain.Generator {
		return NewOpenAI(OpenAIConfig{
			APIKey:     pc.APIKey,
			APIBase:    pc.APIBase,
			Model:      pc.DefaultModel,
			MaxRetries: pc.MaxRetries,
			Client:     SharedHTTPClient(timeout),
			Logger:     logger,
		})
	}
	f.constructors["anthropic"] = func(pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) domain.Generator {
		return NewAnthropic(AnthropicConfig{
			APIKey:     pc.APIKey,
			APIBase:    pc.APIBase,
			Model:      pc.DefaultModel,
			MaxRetries: pc.MaxRetries,
			Client:     SharedHTTPClient(timeout),
			Logger:     logger,
		})
	}
	f.constructors["mock"] = func(config.ProviderConfig, time.Duration, *slog.Logger) domain.Generator {
		return NewMock(MockConfig{Latency: 150 * time.Millisecond})
	}
}

// Get returns the generator configured under name, or the default if name is
// empty. Created generators are cached so the same instance is reused.
func (f *Factory) Get(name string) (domain.Generator, error) {
	if name == "" {
		name = f.cfg.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	ctor, ok := f.constructors[pc.KindOr(name)]
	if !ok {
		return nil, fmt.Errorf("provider %s: no constructor for kind %q", name, pc.KindOr(name))
	}

	timeout := time.Duration(f.cfg.TimeoutSeconds) * time.Second
	var g domain.Generator = ctor(pc, timeout, f.logger.With("provider", name))
	if pc.RateLimitPerMin > 0 {
		g = NewRateLimited(g, pc.RateLimitPerMin, 3)
	}

	f.cache[name] = g
	return g, nil
}

// Generator returns the generator the engine should use: the default
// provider alone, or a failover chain headed by it when failoverChain names
// further enabled providers.
func (f *Factory) Generator() (domain.Generator, error) {
	primary, err := f.Get("")
	if err != nil {
		return nil, err
	}
	chain := []domain.Generator{primary}
	seen := map[string]bool{f.cfg.DefaultProvider: true}
	for _, name := range f.cfg.FailoverChain {
		if seen[name] {
			continue
		}
		seen[name] = true
		g, err := f.Get(name)
		if err != nil {
			f.logger.Warn("skipping failover provider", "provider", name, "err", err)
			continue
		}
		chain = append(chain, g)
	}
	if len(chain) == 1 {
		return primary, nil
	}
	return NewFailover(chain, f.logger), nil
}

// HealthyGenerator returns the first enabled provider, in name order, that
// passes a health check, or nil.
func (f *Factory) HealthyGenerator(ctx context.Context) domain.Generator {
	names := make([]string, 0, len(f.cfg.Providers))
	for name := range f.cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g, err := f.Get(name)
		if err != nil {
			continue
		}
		if g.Healthy(ctx) == nil {
			return g
		}
	}
	return nil
}
