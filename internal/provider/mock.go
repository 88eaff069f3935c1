package provider

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"flatshare/internal/domain"
)

// mockLines are canned roasts keyed by strategy; "{target}" is replaced.
var mockLines = map[string][]string{
	"aggressive": {
		"{target}, that was the weakest thing said in this flat all week.",
		"Honestly {target}, even the fridge has better ideas.",
	},
	"passive_aggressive": {
		"No no, {target}, it's great. Really. For you.",
		"Wow {target}, bold choice. Interesting.",
	},
	"witty": {
		"{target}, your plan has the structural integrity of wet papad.",
		"If overthinking burned calories, {target} would be a supermodel.",
	},
	"absurd": {
		"{target} just asked the toaster for life advice and lost the argument.",
		"Breaking news: {target} spotted negotiating with a houseplant.",
	},
	"cultural": {
		"{target}, even Sharma ji's son is laughing at this one.",
		"Beta {target}, in our time we solved this with one chai.",
	},
}

// MockConfig configures the offline generator.
type MockConfig struct {
	// Latency is waited before replying; it honors context cancellation.
	Latency time.Duration
	// Rand picks lines; nil uses a fixed seed.
	Rand *rand.Rand
	// Reply overrides the canned lines when set.
	Reply func(domain.GenerationRequest) (string, error)
}

// Mock is an offline generator that needs no service.
type Mock struct {
	latency time.Duration
	reply   func(domain.GenerationRequest) (string, error)

	mu  sync.Mutex
	rng *rand.Rand
}

func NewMock(cfg MockConfig) *Mock {
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(7, 11))
	}
	return &Mock{latency: cfg.Latency, reply: cfg.Reply, rng: cfg.Rand}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Healthy(context.Context) error { return nil }

func (m *Mock) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	start := time.Now()
	if m.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.latency):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var text string
	if m.reply != nil {
		var err error
		if text, err = m.reply(req); err != nil {
			return nil, err
		}
	} else {
		text = m.line(req)
	}
	return &domain.GenerationResult{
		Text:         text,
		FinishReason: "stop",
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

// GenerateStream emits the reply word by word. It closes out on return.
func (m *Mock) GenerateStream(ctx context.Context, req domain.GenerationRequest, out chan<- domain.StreamEvent) error {
	defer close(out)
	res, err := m.Generate(ctx, req)
	if err != nil {
		return err
	}
	words := strings.Fields(res.Text)
	for i, w := range words {
		if i < len(words)-1 {
			w += " "
		}
		if !send(ctx, out, domain.StreamEvent{Type: domain.StreamFragment, PersonaID: req.PersonaID, Content: w}) {
			return ctx.Err()
		}
	}
	send(ctx, out, domain.StreamEvent{Type: domain.StreamDone, PersonaID: req.PersonaID, Content: res.Text})
	return nil
}

func (m *Mock) line(req domain.GenerationRequest) string {
	lines, ok := mockLines[req.Strategy]
	if !ok {
		lines = mockLines["witty"]
	}
	m.mu.Lock()
	i := m.rng.IntN(len(lines))
	m.mu.Unlock()

	target := req.Target
	if target == "" {
		target = "you"
	}
	return strings.ReplaceAll(lines[i], "{target}", target)
}
