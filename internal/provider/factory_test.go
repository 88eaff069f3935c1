package provider

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"flatshare/internal/config"
	"flatshare/internal/domain"
)

// --- Mock ---

func TestMock_UsesStrategyLinesAndTarget(t *testing.T) {
	m := NewMock(MockConfig{Rand: rand.New(rand.NewPCG(1, 2))})
	res, err := m.Generate(context.Background(), domain.GenerationRequest{Strategy: "cultural", Target: "Priya", User: "x"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(res.Text, "Priya") {
		t.Fatalf("expected target in %q", res.Text)
	}
	found := false
	for _, l := range mockLines["cultural"] {
		if strings.ReplaceAll(l, "{target}", "Priya") == res.Text {
			found = true
		}
	}
	if !found {
		t.Fatalf("%q is not a cultural line", res.Text)
	}
}

func TestMock_ReplyOverride(t *testing.T) {
	boom := errors.New("boom")
	m := NewMock(MockConfig{Reply: func(req domain.GenerationRequest) (string, error) {
		if req.PersonaID == "bad" {
			return "", boom
		}
		return "hi " + req.PersonaID, nil
	}})
	res, err := m.Generate(context.Background(), domain.GenerationRequest{PersonaID: "a"})
	if err != nil || res.Text != "hi a" {
		t.Fatalf("unexpected %v %v", res, err)
	}
	if _, err := m.Generate(context.Background(), domain.GenerationRequest{PersonaID: "bad"}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestMock_LatencyHonorsContext(t *testing.T) {
	m := NewMock(MockConfig{Latency: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Generate(ctx, domain.GenerationRequest{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMock_StreamWordByWord(t *testing.T) {
	m := NewMock(MockConfig{Reply: func(domain.GenerationRequest) (string, error) { return "one two three", nil }})
	out := make(chan domain.StreamEvent, 16)
	if err := m.GenerateStream(context.Background(), domain.GenerationRequest{}, out); err != nil {
		t.Fatalf("stream: %v", err)
	}
	frags, done := collect(out)
	if strings.Join(frags, "") != "one two three" || len(frags) != 3 || done != "one two three" {
		t.Fatalf("unexpected stream %q %q", frags, done)
	}
}

// --- RateLimited ---

func TestRateLimited_BurstThenWait(t *testing.T) {
	inner := &stubGenerator{name: "inner", text: "ok"}
	r := NewRateLimited(inner, 60, 1) // one per second

	if _, err := r.Generate(context.Background(), domain.GenerationRequest{}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Generate(ctx, domain.GenerationRequest{})
	if err == nil {
		t.Fatal("second call inside the window should not get through")
	}
	if inner.calls != 1 {
		t.Fatalf("inner should be called once, got %d", inner.calls)
	}
}

func TestRateLimited_Unlimited(t *testing.T) {
	inner := &stubGenerator{name: "inner", text: "ok"}
	r := NewRateLimited(inner, 0, 0)
	for i := 0; i < 20; i++ {
		if _, err := r.Generate(context.Background(), domain.GenerationRequest{}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if r.Name() != "inner" {
		t.Fatalf("expected name passthrough, got %q", r.Name())
	}
}

func TestRateLimited_StreamsNonStreamingInner(t *testing.T) {
	r := NewRateLimited(&stubGenerator{name: "inner", text: "whole"}, 0, 1)
	out := make(chan domain.StreamEvent, 4)
	if err := r.GenerateStream(context.Background(), domain.GenerationRequest{}, out); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if _, done := collect(out); done != "whole" {
		t.Fatalf("unexpected final %q", done)
	}
}

// --- Factory ---

func TestFactory_GetCachesAndRejects(t *testing.T) {
	cfg := config.Defaults().Generator
	f := NewFactory(cfg, testLogger())

	g1, err := f.Get("mock")
	if err != nil {
		t.Fatalf("get mock: %v", err)
	}
	g2, _ := f.Get("mock")
	if g1 != g2 {
		t.Fatal("expected cached instance")
	}

	if _, err := f.Get("openai"); err == nil {
		t.Fatal("disabled provider should be rejected")
	}
	if _, err := f.Get("nope"); err == nil {
		t.Fatal("unknown provider should be rejected")
	}
}

func TestFactory_KindSelectsConstructor(t *testing.T) {
	cfg := config.Defaults().Generator
	cfg.Providers["lmstudio"] = config.ProviderConfig{Enabled: true, Kind: "openai", APIBase: "http://localhost:1234/v1", RateLimitPerMin: 30}
	f := NewFactory(cfg, testLogger())

	g, err := f.Get("lmstudio")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	rl, ok := g.(*RateLimited)
	if !ok {
		t.Fatalf("expected rate-limited wrapper, got %T", g)
	}
	if _, ok := rl.next.(*OpenAI); !ok {
		t.Fatalf("expected OpenAI generator, got %T", rl.next)
	}
}

func TestFactory_GeneratorBuildsFailoverChain(t *testing.T) {
	cfg := config.Defaults().Generator
	f := NewFactory(cfg, testLogger())

	g, err := f.Generator()
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	if g.Name() != "failover(ollama→mock)" {
		t.Fatalf("unexpected chain %q", g.Name())
	}

	cfg.FailoverChain = nil
	cfg.DefaultProvider = "mock"
	g, err = NewFactory(cfg, testLogger()).Generator()
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	if _, ok := g.(*Mock); !ok {
		t.Fatalf("expected bare mock, got %T", g)
	}
}

func TestFactory_RegisterConstructor(t *testing.T) {
	cfg := config.Defaults().Generator
	cfg.Providers["custom"] = config.ProviderConfig{Enabled: true}
	f := NewFactory(cfg, testLogger())
	f.RegisterConstructor("custom", func(config.ProviderConfig, time.Duration, *slog.Logger) domain.Generator {
		return &stubGenerator{name: "custom", healthy: true}
	})

	g, err := f.Get("custom")
	if err != nil || g.Name() != "custom" {
		t.Fatalf("unexpected %v %v", g, err)
	}
	if h := f.HealthyGenerator(context.Background()); h == nil {
		t.Fatal("expected a healthy generator")
	}
}
