package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_LogLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		cfg := Defaults()
		cfg.General.LogLevel = lvl
		if err := Validate(cfg); err != nil {
			t.Fatalf("logLevel %q should be valid: %v", lvl, err)
		}
	}
	cfg := Defaults()
	cfg.General.LogLevel = "loud"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for logLevel=loud")
	}
}

func TestValidate_Speakers(t *testing.T) {
	cfg := Defaults()
	cfg.Simulation.MinSpeakers = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for minSpeakers=0")
	}

	cfg = Defaults()
	cfg.Simulation.MinSpeakers = 3
	cfg.Simulation.MaxSpeakers = 2
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxSpeakers < minSpeakers")
	}

	cfg = Defaults()
	cfg.Simulation.MinSpeakers = 2
	cfg.Simulation.MaxSpeakers = 2
	if err := Validate(cfg); err != nil {
		t.Fatalf("min == max should be valid: %v", err)
	}
}

func TestValidate_UnknownProviderReferences(t *testing.T) {
	cfg := Defaults()
	cfg.Generator.DefaultProvider = "nope"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown default provider")
	}

	cfg = Defaults()
	cfg.Generator.FailoverChain = []string{"ollama", "ghost"}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("expected failover chain error naming ghost, got %v", err)
	}
}

func TestValidate_ProviderKind(t *testing.T) {
	cfg := Defaults()
	cfg.Generator.Providers["lmstudio"] = ProviderConfig{Enabled: true, Kind: "openai", APIBase: "http://localhost:1234/v1"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("openai-compatible entry should be valid: %v", err)
	}

	cfg.Generator.Providers["weird"] = ProviderConfig{Enabled: true}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown provider kind")
	}
}

func TestValidate_OpenAINeedsKeyOrBase(t *testing.T) {
	cfg := Defaults()
	cfg.Generator.Providers["openai"] = ProviderConfig{Enabled: true}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled openai without apiKey or apiBase")
	}
}

func TestValidate_AnthropicNeedsKey(t *testing.T) {
	cfg := Defaults()
	pc := cfg.Generator.Providers["anthropic"]
	pc.Enabled = true
	cfg.Generator.Providers["anthropic"] = pc
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled anthropic without apiKey")
	}
	pc.APIKey = "ak-1"
	cfg.Generator.Providers["anthropic"] = pc
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Thresholds(t *testing.T) {
	cfg := Defaults()
	cfg.Strategy.FailureThreshold = 0.7
	cfg.Strategy.SuccessThreshold = 0.6
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for failureThreshold > successThreshold")
	}

	cfg = Defaults()
	cfg.Mood.InitiateBaseChance = 0.5
	cfg.Mood.InitiateMaxChance = 0.1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for base > max initiate chance")
	}

	cfg = Defaults()
	cfg.Relationships.DefendProbability = 1.5
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for defendProbability > 1")
	}
}

func TestValidate_SafetyPatterns(t *testing.T) {
	cfg := Defaults()
	cfg.Safety.ExtraPatterns = []string{`\bfine\b`, `([unclosed`}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "safety.extraPatterns") {
		t.Fatalf("expected safety pattern error, got %v", err)
	}
}

func TestValidate_StoreDriver(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "mongo"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown store driver")
	}

	cfg = Defaults()
	cfg.Store.Driver = "redis"
	cfg.Store.RedisAddr = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for redis without address")
	}

	cfg = Defaults()
	cfg.Store.Driver = "sqlite"
	if err := Validate(cfg); err != nil {
		t.Fatalf("sqlite with default path should be valid: %v", err)
	}
}

func TestValidate_TelegramNeedsToken(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for telegram without token")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.Capacity = 0
	cfg.Generator.TimeoutSeconds = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"memory.capacity", "generator.timeoutSeconds"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Simulation.MaxSpeakers = 5

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Simulation.MaxSpeakers != 5 {
		t.Fatalf("expected maxSpeakers 5, got %d", loaded.Simulation.MaxSpeakers)
	}
	if len(loaded.Generator.Providers) != 4 {
		t.Fatalf("expected 4 providers, got %d", len(loaded.Generator.Providers))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("load or default: %v", err)
	}
	if cfg.Memory.Capacity != 50 {
		t.Fatalf("expected default capacity, got %d", cfg.Memory.Capacity)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"memory": {"capacity": 10}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Memory.Capacity != 10 {
		t.Fatalf("expected capacity 10, got %d", cfg.Memory.Capacity)
	}
	if cfg.Memory.SalienceThreshold != 0.6 {
		t.Fatalf("expected default salience 0.6, got %v", cfg.Memory.SalienceThreshold)
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"simulation": {
			"minSpeakers": 0
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for minSpeakers=0")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_FLATSHARE_DB", "/tmp/test-flatshare.db")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"store": {
			"driver": "sqlite",
			"dbPath": "${TEST_FLATSHARE_DB}"
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.DBPath != "/tmp/test-flatshare.db" {
		t.Fatalf("expected dbPath '/tmp/test-flatshare.db', got %q", cfg.Store.DBPath)
	}
}

// --- Environment overrides ---

func TestApplyEnv_Overrides(t *testing.T) {
	t.Setenv("FLATSHARE_GENERAL_LOG_LEVEL", "debug")
	t.Setenv("FLATSHARE_SIMULATION_MAX_SPEAKERS", "4")
	t.Setenv("FLATSHARE_MOOD_DECAY_PER_MINUTE", "0.05")
	t.Setenv("FLATSHARE_GENERATOR_FAILOVER_CHAIN", "openai,mock")
	t.Setenv("FLATSHARE_CHANNELS_TELEGRAM_TOKEN", "123:abc")

	cfg := Defaults()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.General.LogLevel != "debug" {
		t.Fatalf("expected debug, got %q", cfg.General.LogLevel)
	}
	if cfg.Simulation.MaxSpeakers != 4 {
		t.Fatalf("expected maxSpeakers 4, got %d", cfg.Simulation.MaxSpeakers)
	}
	if cfg.Mood.DecayPerMinute != 0.05 {
		t.Fatalf("expected decay 0.05, got %v", cfg.Mood.DecayPerMinute)
	}
	if len(cfg.Generator.FailoverChain) != 2 || cfg.Generator.FailoverChain[0] != "openai" {
		t.Fatalf("unexpected failover chain: %v", cfg.Generator.FailoverChain)
	}
	if cfg.Channels.Telegram.Token != "123:abc" {
		t.Fatalf("expected telegram token override, got %q", cfg.Channels.Telegram.Token)
	}
}

func TestApplyEnv_UnsetKeepsValues(t *testing.T) {
	cfg := Defaults()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Simulation.MaxSpeakers != 3 || cfg.General.LogLevel != "info" {
		t.Fatalf("unset variables must not change values: %+v", cfg.Simulation)
	}
}

func TestApplyEnv_Secrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-secret")
	t.Setenv("ANTHROPIC_API_KEY", "ak-test-secret")
	t.Setenv("TELEGRAM_BOT_TOKEN", "999:xyz")

	cfg := Defaults()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Generator.Providers["openai"].APIKey != "sk-test-secret" {
		t.Fatalf("expected openai key from env, got %q", cfg.Generator.Providers["openai"].APIKey)
	}
	if cfg.Generator.Providers["anthropic"].APIKey != "ak-test-secret" {
		t.Fatalf("expected anthropic key from env, got %q", cfg.Generator.Providers["anthropic"].APIKey)
	}
	if cfg.Channels.Telegram.Token != "999:xyz" {
		t.Fatalf("expected telegram token from env, got %q", cfg.Channels.Telegram.Token)
	}
}

func TestApplyEnv_InvalidNumber(t *testing.T) {
	t.Setenv("FLATSHARE_MEMORY_CAPACITY", "lots")
	if err := ApplyEnv(Defaults()); err == nil {
		t.Fatal("expected error for non-numeric capacity")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("FLATSHARE_TEST_DOTENV=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("FLATSHARE_TEST_DOTENV") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("FLATSHARE_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("expected from-file, got %q", got)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "generator.defaultProvider")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "ollama" {
		t.Fatalf("expected 'ollama', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_StringConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "generator.defaultProvider", "mock"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Generator.DefaultProvider != "mock" {
		t.Fatalf("expected 'mock', got %q", cfg.Generator.DefaultProvider)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "generator.stream", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if !cfg.Generator.Stream {
		t.Fatal("expected generator.stream=true")
	}
}

func TestSetByPath_NumberConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "simulation.maxSpeakers", "5"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Simulation.MaxSpeakers != 5 {
		t.Fatalf("expected 5, got %d", cfg.Simulation.MaxSpeakers)
	}
	if err := SetByPath(cfg, "mood.decayPerMinute", "0.02"); err != nil {
		t.Fatalf("set float: %v", err)
	}
	if cfg.Mood.DecayPerMinute != 0.02 {
		t.Fatalf("expected 0.02, got %v", cfg.Mood.DecayPerMinute)
	}
}

func TestSetByPath_NumericTextIntoStringField(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "store.redisPassword", "123456"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if cfg.Store.RedisPassword != "123456" {
		t.Fatalf("expected \"123456\", got %q", cfg.Store.RedisPassword)
	}
	if err := SetByPath(cfg, "general.defaultCultural", "true"); err != nil {
		t.Fatalf("set cultural: %v", err)
	}
	if cfg.General.DefaultCultural != "true" {
		t.Fatalf("expected \"true\", got %q", cfg.General.DefaultCultural)
	}
}

func TestSetByPath_UnknownPath(t *testing.T) {
	cfg := Defaults()
	before, _ := json.Marshal(cfg)
	for _, path := range []string{"simulation.maxSpeakerz", "nosuchsection.value", "simulation.maxSpeakers.deeper", ""} {
		if err := SetByPath(cfg, path, "3"); err == nil {
			t.Fatalf("expected error for %q", path)
		}
	}
	after, _ := json.Marshal(cfg)
	if string(before) != string(after) {
		t.Fatal("rejected paths must not change the config")
	}
}

func TestSetByPath_BadValueLeavesConfig(t *testing.T) {
	cfg := Defaults()
	want := cfg.Simulation.MaxSpeakers
	if err := SetByPath(cfg, "simulation.maxSpeakers", "lots"); err == nil {
		t.Fatal("expected error for non-numeric value")
	}
	if err := SetByPath(cfg, "generator.stream", "maybe"); err == nil {
		t.Fatal("expected error for non-bool value")
	}
	if err := SetByPath(cfg, "generator.providers", "x"); err == nil {
		t.Fatal("expected error for a section")
	}
	if cfg.Simulation.MaxSpeakers != want {
		t.Fatalf("maxSpeakers changed to %d", cfg.Simulation.MaxSpeakers)
	}
}

func TestSetByPath_OptionalAndListFields(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "general.seed", "42"); err != nil {
		t.Fatalf("set seed: %v", err)
	}
	if cfg.General.Seed != 42 {
		t.Fatalf("expected seed 42, got %d", cfg.General.Seed)
	}
	if err := SetByPath(cfg, "generator.failoverChain", "ollama, mock"); err != nil {
		t.Fatalf("set chain: %v", err)
	}
	if got := strings.Join(cfg.Generator.FailoverChain, "|"); got != "ollama|mock" {
		t.Fatalf("expected ollama|mock, got %q", got)
	}
	if err := SetByPath(cfg, "channels.telegram.allowFrom", "111,222"); err != nil {
		t.Fatalf("set allowFrom: %v", err)
	}
	if len(cfg.Channels.Telegram.AllowFrom) != 2 || cfg.Channels.Telegram.AllowFrom[1] != "222" {
		t.Fatalf("unexpected allowFrom %v", cfg.Channels.Telegram.AllowFrom)
	}
}

func TestSetByPath_ProviderEntry(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "generator.providers.openai.apiKey", "0000"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	if cfg.Generator.Providers["openai"].APIKey != "0000" {
		t.Fatalf("expected apiKey 0000, got %q", cfg.Generator.Providers["openai"].APIKey)
	}
	if err := SetByPath(cfg, "generator.providers.lmstudio.enabled", "true"); err != nil {
		t.Fatalf("set new provider: %v", err)
	}
	if !cfg.Generator.Providers["lmstudio"].Enabled {
		t.Fatal("expected new provider entry to be enabled")
	}
	if _, err := GetByPath(cfg, "generator.providers.nobody.apiKey"); err == nil {
		t.Fatal("expected get of a missing provider to fail")
	}
}

func TestGetByPath_EmptyOptionalSetting(t *testing.T) {
	cfg := Defaults()
	cfg.General.MetricsAddr = ""
	val, err := GetByPath(cfg, "general.metricsAddr")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "" {
		t.Fatalf("expected empty string, got %v", val)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.Generator.Providers["openai"] = ProviderConfig{
		Enabled: true,
		APIKey:  "sk-1234567890abcdefghijklmnop",
	}
	cfg.Store.RedisPassword = "hunter2"

	sanitized := Sanitize(cfg)

	if sanitized.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if sanitized.Generator.Providers["openai"].APIKey == cfg.Generator.Providers["openai"].APIKey {
		t.Fatal("API key should be masked")
	}
	if sanitized.Store.RedisPassword != "***" {
		t.Fatalf("redis password should be masked, got %q", sanitized.Store.RedisPassword)
	}
	if cfg.Channels.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Channels.Telegram.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Channels.Telegram.Token)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	for _, expected := range []string{"general.logLevel", "memory.capacity", "generator.providers.ollama.apiBase"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	input := `["hello", 123, "world", 456.0]`
	var list FlexStringList
	if err := json.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list))
	}
	if list[0] != "hello" || list[2] != "world" {
		t.Fatal("string items mismatch")
	}
	if list[1] != "123" || list[3] != "456" {
		t.Fatalf("number conversion mismatch: %v", list)
	}
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var list FlexStringList
	err := json.Unmarshal([]byte(`not json`), &list)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`)
	expected := `{"apiKey": "sk-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}
