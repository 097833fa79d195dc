package server

import (
	"context"
	"fmt"

	"github.com/54b3r/ragindex/internal/embedder"
)

// EmbedderPinger probes an embedding backend by embedding a single short
// query and checking the returned dimension. It satisfies the Pinger
// interface and is used by GET /api/ready.
type EmbedderPinger struct {
	// embedder is the backend to probe.
	embedder embedder.Embedder
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewEmbedderPinger constructs an EmbedderPinger for the given embedder and
// backend name.
func NewEmbedderPinger(e embedder.Embedder, name string) *EmbedderPinger {
	return &EmbedderPinger{embedder: e, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *EmbedderPinger) Name() string { return p.name }

// Ping embeds "ping" and verifies the vector has the configured size.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	vec, err := embedder.EmbedOne(ctx, p.embedder, "ping", embedder.Query)
	if err != nil {
		return fmt.Errorf("embed failed: %w", err)
	}
	if len(vec) != p.embedder.Size() {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(vec), p.embedder.Size())
	}
	return nil
}
