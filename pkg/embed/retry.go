package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Retry bounds each EmbedBatch call of the wrapped embedder with Timeout
// and, on failure, retries exactly once after Backoff. A cancelled parent
// context is never retried.
type Retry struct {
	Embedder

	// Timeout applies to each attempt. Zero means no timeout.
	Timeout time.Duration

	// Backoff is the pause before the single retry.
	Backoff time.Duration

	// Logger receives a warning when the first attempt fails. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

func (r *Retry) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// EmbedBatch embeds texts with at most two attempts.
func (r *Retry) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	vecs, err := r.attempt(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("embed: %w", ctx.Err())
	}
	r.logger().Warn("embed: attempt failed, retrying", "texts", len(texts), "backoff", r.Backoff, "error", err)

	if r.Backoff > 0 {
		t := time.NewTimer(r.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("embed: %w", ctx.Err())
		case <-t.C:
		}
	}
	vecs, err = r.attempt(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: retry failed: %w", err)
	}
	return vecs, nil
}

func (r *Retry) attempt(ctx context.Context, texts []string) ([][]float32, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	vecs, err := r.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if err := checkVectors(vecs, len(texts)); err != nil {
		return nil, err
	}
	return vecs, nil
}
