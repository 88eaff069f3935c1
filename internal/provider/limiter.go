package provider

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"flatshare/internal/domain"
)

// RateLimited throttles calls to a generator with a token bucket. A pile-on
// turn fires several generations at once, so the bucket's burst decides how
// many of them may start together.
type RateLimited struct {
	next    domain.Generator
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute calls per minute with the given burst.
// perMinute <= 0 disables limiting.
func NewRateLimited(next domain.Generator, perMinute, burst int) *RateLimited {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) Name() string { return r.next.Name() }

func (r *RateLimited) Healthy(ctx context.Context) error { return r.next.Healthy(ctx) }

func (r *RateLimited) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The wait would outlive the deadline; report the service as saturated.
		return domain.Unreachable(r.Name(), errors.Join(errors.New("rate limited"), err))
	}
	return nil
}

func (r *RateLimited) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Generate(ctx, req)
}

// GenerateStream closes out on return.
func (r *RateLimited) GenerateStream(ctx context.Context, req domain.GenerationRequest, out chan<- domain.StreamEvent) error {
	if err := r.wait(ctx); err != nil {
		close(out)
		return err
	}
	if sg, ok := r.next.(domain.StreamingGenerator); ok {
		return sg.GenerateStream(ctx, req, out)
	}
	defer close(out)
	_, err := streamOnce(ctx, r.next, req, out)
	return err
}
