package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:        "info",
			DefaultCultural: "generic",
		},
		Generator: GeneratorConfig{
			DefaultProvider: "ollama",
			FailoverChain:   []string{"ollama", "mock"},
			Stream:          false,
			TimeoutSeconds:  20,
			Temperature:     0.9,
			MaxTokens:       80,
			Providers: map[string]ProviderConfig{
				"ollama": {
					Enabled:      true,
					APIBase:      "http://localhost:11434",
					DefaultModel: "llama3.1:8b",
					MaxRetries:   1,
				},
				"openai": {
					Enabled:         false,
					APIBase:         "https://api.openai.com/v1",
					DefaultModel:    "gpt-4o-mini",
					RateLimitPerMin: 60,
				},
				"anthropic": {
					Enabled:         false,
					APIBase:         "https://api.anthropic.com/v1",
					DefaultModel:    "claude-3-5-haiku-latest",
					RateLimitPerMin: 50,
				},
				"mock": {
					Enabled: true,
				},
			},
		},
		Simulation: SimulationConfig{
			MinSpeakers:            1,
			MaxSpeakers:            3,
			MaxConsecutiveFailures: 3,
			MaxResponseChars:       280,
			HistoryTurns:           5,
		},
		Memory: MemoryConfig{
			Capacity:          50,
			SalienceThreshold: 0.6,
			RecurringTopicMin: 3,
			ContextLimit:      3,
			ThreadTurns:       5,
		},
		Mood: MoodConfig{
			DecayPerMinute:     0.01,
			MaxDecayFraction:   0.9,
			InitiateThreshold:  30,
			InitiateBaseChance: 0.02,
			InitiateMaxChance:  0.45,
		},
		Relationships: RelationshipsConfig{
			DefendThreshold:   70,
			DefendProbability: 0.35,
		},
		Strategy: StrategyConfig{
			FailureThreshold: 0.4,
			SuccessThreshold: 0.6,
			ExplorationAfter: 3,
			HistoryWindow:    5,
		},
		Effectiveness: EffectivenessConfig{
			LatencyWindowSeconds:  30,
			PendingTimeoutSeconds: 600,
		},
		Store: StoreConfig{
			Driver:          "none",
			DBPath:          "~/.flatshare/flatshare.db",
			RedisAddr:       "localhost:6379",
			KeyPrefix:       "flatshare:",
			TranscriptLimit: 200,
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{
				Enabled: true,
				Spinner: true,
			},
		},
	}
}
