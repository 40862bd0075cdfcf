package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brunobiangulo/docdiff/page"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
)

type retrying struct {
	next     Extractor
	attempts int
	delay    time.Duration
	timeout  time.Duration
}

// WithRetry wraps e so that each page gets up to attempts tries, each bounded
// by timeout, with exponential backoff starting at delay. Cancellation of the
// caller's context is returned as is and never retried.
func WithRetry(e Extractor, attempts int, delay, timeout time.Duration) Extractor {
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	if delay < 0 {
		delay = 0
	}
	return &retrying{next: e, attempts: attempts, delay: delay, timeout: timeout}
}

func (r *retrying) Name() string { return r.next.Name() }

func (r *retrying) Extract(ctx context.Context, img page.Image) ([]page.Span, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			wait := r.delay * time.Duration(1<<(attempt-2))
			slog.Warn("extract: retrying page",
				"backend", r.next.Name(),
				"side", img.Side,
				"page", img.Number(),
				"attempt", attempt,
				"delay", wait,
				"error", lastErr,
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		spans, err := r.try(ctx, img)
		if err == nil {
			return spans, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}

	var ee *ExtractionError
	if errors.As(lastErr, &ee) && r.attempts == 1 {
		return nil, ee
	}
	return nil, &ExtractionError{
		Backend: r.next.Name(),
		Path:    img.Path,
		Reason:  fmt.Sprintf("failed after %d attempts", r.attempts),
		Err:     lastErr,
	}
}

func (r *retrying) try(ctx context.Context, img page.Image) ([]page.Span, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.next.Extract(ctx, img)
}
