package embedder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// CompatConfig configures an embedder for a local OpenAI-compatible server
// (llama.cpp, vLLM, LM Studio).
type CompatConfig struct {
	// BaseURL is the server's /v1 base.
	BaseURL string
	// APIKey is optional; "none" is sent when empty.
	APIKey string
	// Model is the embedding model name.
	Model string
	// Dimensions is the vector length the model produces.
	Dimensions int
	// BatchSize caps texts per request.
	BatchSize int
}

// CompatEmbedder adapts a langchaingo embeddings.Embedder. Documents go
// through EmbedDocuments, queries through EmbedQuery.
type CompatEmbedder struct {
	inner  embeddings.Embedder
	size   int
	logger *slog.Logger
}

// NewCompatEmbedder builds a CompatEmbedder on the langchaingo OpenAI client.
func NewCompatEmbedder(cfg *CompatConfig, log *slog.Logger) (*CompatEmbedder, error) {
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("compat embedder: create client: %w", err)
	}

	opts := []embeddings.Option{embeddings.WithStripNewLines(true)}
	if cfg.BatchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(cfg.BatchSize))
	}
	inner, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("compat embedder: %w", err)
	}
	return newCompatEmbedder(inner, cfg.Dimensions, log), nil
}

func newCompatEmbedder(inner embeddings.Embedder, size int, log *slog.Logger) *CompatEmbedder {
	if log == nil {
		log = slog.Default()
	}
	return &CompatEmbedder{inner: inner, size: size, logger: log.With(slog.String("component", "compat-embedder"))}
}

// Size returns the configured vector length.
func (e *CompatEmbedder) Size() int { return e.size }

// Embed embeds texts with the method matching docType.
func (e *CompatEmbedder) Embed(ctx context.Context, texts []string, docType DocumentType) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	e.logger.Debug("embedding texts", slog.Int("count", len(texts)), slog.String("type", string(docType)))

	var vectors [][]float32
	if docType == Query {
		vectors = make([][]float32, 0, len(texts))
		for _, t := range texts {
			v, err := e.inner.EmbedQuery(ctx, t)
			if err != nil {
				return nil, fmt.Errorf("compat embedder: embed query: %w", err)
			}
			vectors = append(vectors, v)
		}
	} else {
		var err error
		vectors, err = e.inner.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("compat embedder: embed documents: %w", err)
		}
	}

	if err := checkVectors("compat", vectors, len(texts), e.size); err != nil {
		return nil, err
	}
	return vectors, nil
}
