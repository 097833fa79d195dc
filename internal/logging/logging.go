// Package logging provides a structured logger built on [log/slog].
// It is configured once at startup via [New] and distributed through
// context values using [WithLogger] / [FromContext].
//
// Settings (config.LoggingConfig):
//
//	level  = debug | info | warn | error  (default: info)
//	format = json | text                  (default: json)
//	file   = optional path; receives a JSON copy of every record
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"

	"github.com/54b3r/ragindex/internal/config"
)

// contextKey is an unexported type for context keys in this package.
type contextKey struct{}

// New constructs a [*slog.Logger] from cfg writing to stderr.
// When cfg.File is set the stderr handler is fanned out with a JSON handler
// on that file. The returned close function releases the file and is never nil.
func New(cfg config.LoggingConfig) (*slog.Logger, func() error, error) {
	noop := func() error { return nil }
	if cfg.File == "" {
		return slog.New(newHandler(os.Stderr, cfg)), noop, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return slog.New(newHandler(os.Stderr, cfg)), noop, fmt.Errorf("logging: open %s: %w", cfg.File, err)
	}
	return NewWithWriters(os.Stderr, f, cfg), f.Close, nil
}

// NewWithWriters builds the fan-out logger over explicit writers. file may be
// nil, in which case only the console handler is used.
func NewWithWriters(console, file io.Writer, cfg config.LoggingConfig) *slog.Logger {
	if file == nil {
		return slog.New(newHandler(console, cfg))
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	return slog.New(slogmulti.Fanout(newHandler(console, cfg), fileHandler))
}

// newHandler selects the console handler: text for local dev, JSON otherwise.
func newHandler(w io.Writer, cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the [*slog.Logger] stored in ctx.
// If no logger is present it returns [slog.Default] so callers never
// need to nil-check.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// parseLevel converts a string to a [slog.Level], defaulting to Info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
