package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// RetryConfig bounds the in-call retry applied to transient backend errors.
// Queue-level retries still apply on top of this.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig retries twice with a short exponential backoff.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

// statusError is a non-2xx response from an embedding API.
type statusError struct {
	backend string
	code    int
	msg     string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s embedder: %s", e.backend, e.msg)
}

// retryable reports whether err is worth another attempt: rate limiting,
// server errors and transport failures. Client errors and dimension
// mismatches are permanent.
func retryable(err error) bool {
	if errors.Is(err, ErrDimensionMismatch) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

// retrying wraps an Embedder with retryWithBackoff.
type retrying struct {
	Embedder
	cfg    RetryConfig
	logger *slog.Logger
}

// WithRetry decorates e so transient failures are retried per cfg.
func WithRetry(e Embedder, cfg RetryConfig, log *slog.Logger) Embedder {
	if cfg.MaxAttempts <= 1 {
		return e
	}
	if log == nil {
		log = slog.Default()
	}
	return &retrying{Embedder: e, cfg: cfg, logger: log}
}

func (r *retrying) Embed(ctx context.Context, texts []string, docType DocumentType) ([][]float32, error) {
	return retryWithBackoff(ctx, r.cfg, r.logger, func() ([][]float32, error) {
		return r.Embedder.Embed(ctx, texts, docType)
	})
}

func retryWithBackoff[T any](ctx context.Context, cfg RetryConfig, log *slog.Logger, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !retryable(err) || attempt == cfg.MaxAttempts {
			break
		}

		log.Debug("embedder: retrying after error",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if cfg.MaxDelay > 0 && backoff > cfg.MaxDelay {
			backoff = cfg.MaxDelay
		}
	}
	return zero, lastErr
}
