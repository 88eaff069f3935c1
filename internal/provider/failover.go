package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"flatshare/internal/domain"
)

// Failover tries multiple generators in order, falling back to the next one
// when the current fails.
type Failover struct {
	generators []domain.Generator
	logger     *slog.Logger
}

// NewFailover creates a failover chain from the given generators.
// At least one generator is required.
func NewFailover(generators []domain.Generator, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{generators: generators, logger: logger}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.generators))
	for i, g := range f.generators {
		names[i] = g.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (f *Failover) Healthy(ctx context.Context) error {
	for _, g := range f.generators {
		if err := g.Healthy(ctx); err == nil {
			return nil
		}
	}
	return domain.Unreachable(f.Name(), errors.New("no healthy generator in failover chain"))
}

// Generate tries each generator in order and returns the first success.
// A cancelled or expired context stops the chain at once.
func (f *Failover) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	if len(f.generators) == 0 {
		return nil, domain.Unreachable(f.Name(), errors.New("empty failover chain"))
	}
	var lastErr error
	for i, g := range f.generators {
		res, err := g.Generate(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover: used fallback generator", "generator", g.Name(), "attempt", i+1)
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		f.logger.Warn("failover: generator failed, trying next",
			"generator", g.Name(),
			"attempt", i+1,
			"err", err,
		)
	}
	return nil, fmt.Errorf("all generators in failover chain failed: %w", lastErr)
}

// GenerateStream streams from each generator in turn. A generator that fails
// before forwarding any fragment is skipped; once fragments have reached out
// the failure is final. Each attempt gets its own channel, so out is closed
// exactly once, here.
func (f *Failover) GenerateStream(ctx context.Context, req domain.GenerationRequest, out chan<- domain.StreamEvent) error {
	defer close(out)
	if len(f.generators) == 0 {
		return domain.Unreachable(f.Name(), errors.New("empty failover chain"))
	}

	var lastErr error
	for i, g := range f.generators {
		sent, err := streamOnce(ctx, g, req, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if sent {
			return err
		}
		lastErr = err
		f.logger.Warn("failover: stream failed, trying next", "generator", g.Name(), "attempt", i+1, "err", err)
	}
	return fmt.Errorf("all generators in failover chain failed: %w", lastErr)
}

// streamOnce runs one generator and forwards its events to out, reporting
// whether any fragment was forwarded. Non-streaming generators are adapted
// by emitting their whole reply as one fragment.
func streamOnce(ctx context.Context, g domain.Generator, req domain.GenerationRequest, out chan<- domain.StreamEvent) (bool, error) {
	sg, ok := g.(domain.StreamingGenerator)
	if !ok {
		res, err := g.Generate(ctx, req)
		if err != nil {
			return false, err
		}
		if !send(ctx, out, domain.StreamEvent{Type: domain.StreamFragment, PersonaID: req.PersonaID, Content: res.Text}) {
			return false, ctx.Err()
		}
		send(ctx, out, domain.StreamEvent{Type: domain.StreamDone, PersonaID: req.PersonaID, Content: res.Text})
		return true, nil
	}

	inner := make(chan domain.StreamEvent, 16)
	errCh := make(chan error, 1)
	go func() { errCh <- sg.GenerateStream(ctx, req, inner) }()

	sent := false
	for ev := range inner {
		if ctx.Err() != nil {
			continue // drain so the generator can return
		}
		if send(ctx, out, ev) && ev.Type == domain.StreamFragment {
			sent = true
		}
	}
	return sent, <-errCh
}
