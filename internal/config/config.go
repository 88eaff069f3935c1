package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override, e.g. FLATSHARE_GENERAL_LOG_LEVEL.
const EnvPrefix = "FLATSHARE_"

// Config is the root configuration for flatshare.
type Config struct {
	General       GeneralConfig       `json:"general" envPrefix:"GENERAL_"`
	Generator     GeneratorConfig     `json:"generator" envPrefix:"GENERATOR_"`
	Simulation    SimulationConfig    `json:"simulation" envPrefix:"SIMULATION_"`
	Memory        MemoryConfig        `json:"memory" envPrefix:"MEMORY_"`
	Mood          MoodConfig          `json:"mood" envPrefix:"MOOD_"`
	Relationships RelationshipsConfig `json:"relationships" envPrefix:"RELATIONSHIPS_"`
	Strategy      StrategyConfig      `json:"strategy" envPrefix:"STRATEGY_"`
	Effectiveness EffectivenessConfig `json:"effectiveness" envPrefix:"EFFECTIVENESS_"`
	Safety        SafetyConfig        `json:"safety" envPrefix:"SAFETY_"`
	Store         StoreConfig         `json:"store" envPrefix:"STORE_"`
	Channels      ChannelsConfig      `json:"channels" envPrefix:"CHANNELS_"`
}

type GeneralConfig struct {
	LogLevel        string `json:"logLevel" env:"LOG_LEVEL"`
	LogFile         string `json:"logFile,omitempty" env:"LOG_FILE"`
	Seed            int64  `json:"seed,omitempty" env:"SEED"` // 0 = seed from the clock
	PersonasFile    string `json:"personasFile,omitempty" env:"PERSONAS_FILE"`
	DefaultCultural string `json:"defaultCultural" env:"DEFAULT_CULTURAL"`
	MetricsAddr     string `json:"metricsAddr,omitempty" env:"METRICS_ADDR"` // e.g. 127.0.0.1:9464; empty disables
}

type GeneratorConfig struct {
	DefaultProvider string                    `json:"defaultProvider" env:"DEFAULT_PROVIDER"`
	FailoverChain   []string                  `json:"failoverChain,omitempty" env:"FAILOVER_CHAIN"`
	Stream          bool                      `json:"stream" env:"STREAM"`
	TimeoutSeconds  int                       `json:"timeoutSeconds" env:"TIMEOUT_SECONDS"`
	Temperature     float64                   `json:"temperature" env:"TEMPERATURE"`
	MaxTokens       int                       `json:"maxTokens" env:"MAX_TOKENS"`
	Providers       map[string]ProviderConfig `json:"providers"`
}

type ProviderConfig struct {
	Enabled         bool   `json:"enabled"`
	Kind            string `json:"kind,omitempty"` // "ollama" | "openai" | "mock"; defaults to the entry name
	APIBase         string `json:"apiBase,omitempty"`
	APIKey          string `json:"apiKey,omitempty"`
	DefaultModel    string `json:"defaultModel,omitempty"`
	RateLimitPerMin int    `json:"rateLimitPerMinute,omitempty"`
	MaxRetries      int    `json:"maxRetries,omitempty"`
}

type SimulationConfig struct {
	MinSpeakers            int `json:"minSpeakers" env:"MIN_SPEAKERS"`
	MaxSpeakers            int `json:"maxSpeakers" env:"MAX_SPEAKERS"`
	MaxConsecutiveFailures int `json:"maxConsecutiveFailures" env:"MAX_CONSECUTIVE_FAILURES"`
	MaxResponseChars       int `json:"maxResponseChars" env:"MAX_RESPONSE_CHARS"`
	HistoryTurns           int `json:"historyTurns" env:"HISTORY_TURNS"`
	InitiateIntervalSecs   int `json:"initiateIntervalSeconds" env:"INITIATE_INTERVAL_SECONDS"` // 0 = no autonomous banter
}

type MemoryConfig struct {
	Capacity          int     `json:"capacity" env:"CAPACITY"`
	SalienceThreshold float64 `json:"salienceThreshold" env:"SALIENCE_THRESHOLD"`
	RecurringTopicMin int     `json:"recurringTopicMin" env:"RECURRING_TOPIC_MIN"`
	ContextLimit      int     `json:"contextLimit" env:"CONTEXT_LIMIT"`
	ThreadTurns       int     `json:"threadTurns" env:"THREAD_TURNS"`
}

type MoodConfig struct {
	DecayPerMinute     float64 `json:"decayPerMinute" env:"DECAY_PER_MINUTE"`
	MaxDecayFraction   float64 `json:"maxDecayFraction" env:"MAX_DECAY_FRACTION"`
	InitiateThreshold  float64 `json:"initiateThreshold" env:"INITIATE_THRESHOLD"`
	InitiateBaseChance float64 `json:"initiateBaseChance" env:"INITIATE_BASE_CHANCE"`
	InitiateMaxChance  float64 `json:"initiateMaxChance" env:"INITIATE_MAX_CHANCE"`
}

type RelationshipsConfig struct {
	DefendThreshold   int     `json:"defendThreshold" env:"DEFEND_THRESHOLD"`
	DefendProbability float64 `json:"defendProbability" env:"DEFEND_PROBABILITY"`
}

type StrategyConfig struct {
	FailureThreshold float64 `json:"failureThreshold" env:"FAILURE_THRESHOLD"`
	SuccessThreshold float64 `json:"successThreshold" env:"SUCCESS_THRESHOLD"`
	ExplorationAfter int     `json:"explorationAfter" env:"EXPLORATION_AFTER"`
	HistoryWindow    int     `json:"historyWindow" env:"HISTORY_WINDOW"`
}

type EffectivenessConfig struct {
	LatencyWindowSeconds  int `json:"latencyWindowSeconds" env:"LATENCY_WINDOW_SECONDS"`
	PendingTimeoutSeconds int `json:"pendingTimeoutSeconds" env:"PENDING_TIMEOUT_SECONDS"`
}

// SafetyConfig tunes the output filter. ExtraPatterns are regular
// expressions blocked in addition to the built-in protected topics.
type SafetyConfig struct {
	ExtraPatterns []string `json:"extraPatterns,omitempty" env:"EXTRA_PATTERNS"`
	Replacement   string   `json:"replacement,omitempty" env:"REPLACEMENT"`
}

type StoreConfig struct {
	Driver          string `json:"driver" env:"DRIVER"` // "none" | "sqlite" | "redis"
	DBPath          string `json:"dbPath,omitempty" env:"DB_PATH"`
	RedisAddr       string `json:"redisAddr,omitempty" env:"REDIS_ADDR"`
	RedisPassword   string `json:"redisPassword,omitempty" env:"REDIS_PASSWORD"`
	RedisDB         int    `json:"redisDB,omitempty" env:"REDIS_DB"`
	KeyPrefix       string `json:"keyPrefix,omitempty" env:"KEY_PREFIX"`
	TranscriptLimit int    `json:"transcriptLimit" env:"TRANSCRIPT_LIMIT"`
}

type ChannelsConfig struct {
	CLI      CLIConfig      `json:"cli" envPrefix:"CLI_"`
	Telegram TelegramConfig `json:"telegram" envPrefix:"TELEGRAM_"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled" env:"ENABLED"`
	Spinner bool `json:"spinner" env:"SPINNER"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled" env:"ENABLED"`
	Token     string         `json:"token" env:"TOKEN"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// secrets are read from conventional unprefixed variables when the config
// file leaves them empty.
type secrets struct {
	OpenAIKey     string `env:"OPENAI_API_KEY"`
	AnthropicKey  string `env:"ANTHROPIC_API_KEY"`
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`
}

// DefaultConfigDir returns the default config directory (~/.flatshare).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flatshare"
	}
	return filepath.Join(home, ".flatshare")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(ExpandPath(p)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the JSON config at path over Defaults, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadOrDefault behaves like Load but falls back to Defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); errors.Is(err, fs.ErrNotExist) {
		return finish(Defaults())
	}
	return Load(path)
}

func finish(cfg *Config) (*Config, error) {
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.PersonasFile = ExpandPath(cfg.General.PersonasFile)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays FLATSHARE_* environment variables onto cfg. Unset
// variables leave the existing value alone.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}

	var s secrets
	if err := env.Parse(&s); err != nil {
		return fmt.Errorf("env secrets: %w", err)
	}
	if pc, ok := cfg.Generator.Providers["openai"]; ok && pc.APIKey == "" && s.OpenAIKey != "" {
		pc.APIKey = s.OpenAIKey
		cfg.Generator.Providers["openai"] = pc
	}
	if pc, ok := cfg.Generator.Providers["anthropic"]; ok && pc.APIKey == "" && s.AnthropicKey != "" {
		pc.APIKey = s.AnthropicKey
		cfg.Generator.Providers["anthropic"] = pc
	}
	if cfg.Channels.Telegram.Token == "" {
		cfg.Channels.Telegram.Token = s.TelegramToken
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if _, ok := cfg.Generator.Providers[cfg.Generator.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("generator.defaultProvider references unknown provider: %s", cfg.Generator.DefaultProvider))
	}
	for _, name := range cfg.Generator.FailoverChain {
		if _, ok := cfg.Generator.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("generator.failoverChain references unknown provider: %s", name))
		}
	}
	for name, pc := range cfg.Generator.Providers {
		switch pc.KindOr(name) {
		case "ollama", "mock":
		case "openai":
			if pc.Enabled && pc.APIKey == "" && pc.APIBase == "" {
				errs = append(errs, fmt.Sprintf("generator.providers.%s: apiKey or apiBase is required", name))
			}
		case "anthropic":
			if pc.Enabled && pc.APIKey == "" {
				errs = append(errs, fmt.Sprintf("generator.providers.%s: apiKey is required", name))
			}
		default:
			errs = append(errs, fmt.Sprintf("generator.providers.%s: unknown kind %q", name, pc.KindOr(name)))
		}
		if pc.RateLimitPerMin < 0 {
			errs = append(errs, fmt.Sprintf("generator.providers.%s: rateLimitPerMinute must be >= 0", name))
		}
	}
	if cfg.Generator.TimeoutSeconds < 1 {
		errs = append(errs, "generator.timeoutSeconds must be >= 1")
	}
	if cfg.Generator.Temperature < 0 || cfg.Generator.Temperature > 2 {
		errs = append(errs, "generator.temperature must be between 0 and 2")
	}

	s := cfg.Simulation
	if s.MinSpeakers < 1 {
		errs = append(errs, "simulation.minSpeakers must be >= 1")
	}
	if s.MaxSpeakers < s.MinSpeakers {
		errs = append(errs, "simulation.maxSpeakers must be >= simulation.minSpeakers")
	}
	if s.MaxConsecutiveFailures < 1 {
		errs = append(errs, "simulation.maxConsecutiveFailures must be >= 1")
	}
	if s.MaxResponseChars < 20 {
		errs = append(errs, "simulation.maxResponseChars must be >= 20")
	}
	if s.InitiateIntervalSecs < 0 {
		errs = append(errs, "simulation.initiateIntervalSeconds must be >= 0")
	}

	if cfg.Memory.Capacity < 1 {
		errs = append(errs, "memory.capacity must be >= 1")
	}
	if !unit(cfg.Memory.SalienceThreshold) {
		errs = append(errs, "memory.salienceThreshold must be between 0 and 1")
	}
	if cfg.Memory.ContextLimit < 0 || cfg.Memory.ThreadTurns < 0 {
		errs = append(errs, "memory.contextLimit and memory.threadTurns must be >= 0")
	}

	if cfg.Mood.DecayPerMinute < 0 || !unit(cfg.Mood.MaxDecayFraction) {
		errs = append(errs, "mood.decayPerMinute must be >= 0 and mood.maxDecayFraction between 0 and 1")
	}
	if cfg.Mood.InitiateThreshold <= 1 || cfg.Mood.InitiateThreshold > 100 {
		errs = append(errs, "mood.initiateThreshold must be in (1, 100]")
	}
	if !unit(cfg.Mood.InitiateBaseChance) || !unit(cfg.Mood.InitiateMaxChance) || cfg.Mood.InitiateBaseChance > cfg.Mood.InitiateMaxChance {
		errs = append(errs, "mood.initiateBaseChance and mood.initiateMaxChance must satisfy 0 <= base <= max <= 1")
	}

	if cfg.Relationships.DefendThreshold < 0 || cfg.Relationships.DefendThreshold > 100 {
		errs = append(errs, "relationships.defendThreshold must be between 0 and 100")
	}
	if !unit(cfg.Relationships.DefendProbability) {
		errs = append(errs, "relationships.defendProbability must be between 0 and 1")
	}

	st := cfg.Strategy
	if !unit(st.FailureThreshold) || !unit(st.SuccessThreshold) || st.FailureThreshold > st.SuccessThreshold {
		errs = append(errs, "strategy thresholds must satisfy 0 <= failureThreshold <= successThreshold <= 1")
	}
	if st.ExplorationAfter < 1 || st.HistoryWindow < 1 {
		errs = append(errs, "strategy.explorationAfter and strategy.historyWindow must be >= 1")
	}

	if cfg.Effectiveness.LatencyWindowSeconds < 1 || cfg.Effectiveness.PendingTimeoutSeconds < 1 {
		errs = append(errs, "effectiveness.latencyWindowSeconds and effectiveness.pendingTimeoutSeconds must be >= 1")
	}
	for _, p := range cfg.Safety.ExtraPatterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Sprintf("safety.extraPatterns: %q: %v", p, err))
		}
	}

	switch cfg.Store.Driver {
	case "none", "":
	case "sqlite":
		if cfg.Store.DBPath == "" {
			errs = append(errs, "store.dbPath is required for the sqlite driver")
		}
	case "redis":
		if cfg.Store.RedisAddr == "" {
			errs = append(errs, "store.redisAddr is required for the redis driver")
		}
	default:
		errs = append(errs, "store.driver must be one of: none, sqlite, redis")
	}
	if cfg.Store.TranscriptLimit < 0 {
		errs = append(errs, "store.transcriptLimit must be >= 0")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// KindOr returns the provider kind, defaulting to name.
func (pc ProviderConfig) KindOr(name string) string {
	if pc.Kind != "" {
		return pc.Kind
	}
	return name
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
