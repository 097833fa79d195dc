// Package tracing wires optional Langfuse tracing into eino callbacks so the
// answer path's model calls are recorded.
package tracing

import (
	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/ragindex/internal/config"
)

// DefaultHost is used when a key pair is set without a host.
const DefaultHost = "http://localhost:3000"

// Setup initialises the Langfuse callback handler when both keys are set and
// registers it globally. The returned flush function must be called before
// process exit so buffered traces are sent. When tracing is not configured,
// Setup returns a no-op flush and false.
func Setup(cfg config.TracingConfig) (func(), bool) {
	handler, flush, ok := newHandler(cfg)
	if !ok {
		return func() {}, false
	}
	callbacks.AppendGlobalHandlers(handler)
	return flush, true
}

func newHandler(cfg config.TracingConfig) (callbacks.Handler, func(), bool) {
	if cfg.PublicKey == "" || cfg.SecretKey == "" {
		return nil, nil, false
	}
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
	})
	return handler, flusher, true
}
