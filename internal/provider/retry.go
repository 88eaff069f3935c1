package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"flatshare/internal/domain"
)

const defaultMaxRetries = 2

// backoffUnit scales the quadratic retry backoff.
var backoffUnit = time.Second

// statusError is a non-2xx reply from a generation service.
type statusError struct {
	statusCode int
	body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

func (e *statusError) retryable() bool {
	return e.statusCode >= 500 || e.statusCode == http.StatusTooManyRequests
}

// doWithRetry executes an HTTP request with exponential backoff retry
// for transient errors (network failures, 5xx, 429). Other non-2xx replies
// are returned at once as *statusError.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), retries int, logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * backoffUnit
			jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
			backoff := base + jitter
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			logger.Warn("request failed", "attempt", attempt+1, "err", err)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			se := &statusError{statusCode: resp.StatusCode, body: string(body)}
			if !se.retryable() {
				return nil, se
			}
			lastErr = se
			logger.Warn("server error", "attempt", attempt+1, "status", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("after %d retries: %w", retries, lastErr)
}

// classify maps a transport failure onto a generation error kind. Context
// errors pass through untouched so callers can tell a timeout from a
// broken service.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ge *domain.GenerationError
	if errors.As(err, &ge) {
		return err
	}
	var se *statusError
	if errors.As(err, &se) && !se.retryable() {
		return domain.MalformedRequest(provider, err)
	}
	return domain.Unreachable(provider, err)
}
