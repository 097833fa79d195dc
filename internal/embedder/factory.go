package embedder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/ragindex/internal/config"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
)

// knownDimensions lists the output size of common embedding models so the
// collection size can be resolved before the first embed call.
var knownDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,
	"bge-m3":                 1024,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// Dimensions resolves the vector size: the explicit setting wins, then the
// known size of the model. Zero means unknown.
func Dimensions(model string, explicit int) int {
	if explicit > 0 {
		return explicit
	}
	name := strings.ToLower(model)
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[:i]
	}
	return knownDimensions[name]
}

// New constructs the Embedder selected by cfg.Embedding, inheriting
// credentials and hosts from cfg.Model when embedding-specific values are
// not set. Transient failures are retried with DefaultRetryConfig.
//
// Resolution order:
//
//  1. embedding.provider — if unset, inherits model.provider (default: ollama)
//  2. Per-backend credentials are inherited from the chat provider settings
//  3. embedding.model — overrides the default model for the resolved backend
//  4. embedding.api_key / embedding.endpoint — override inherited values
//  5. embedding.dimensions — overrides the known model size
func New(cfg *config.Config, log *slog.Logger) (Embedder, error) {
	if log == nil {
		log = slog.Default()
	}
	ec := cfg.Embedding
	backend := resolveBackend(cfg)

	var (
		e   Embedder
		err error
	)
	switch backend {
	case "ollama":
		host := valueOr(ec.Endpoint, cfg.Model.Ollama.Host)
		model := valueOr(ec.Model, defaultOllamaModel)
		size := Dimensions(model, ec.Dimensions)
		if size == 0 {
			return nil, fmt.Errorf("embedder: unknown dimensions for ollama model %q — set EMBEDDING_DIMENSIONS", model)
		}
		e = NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model, Dimensions: size, TaskPrefixes: ec.TaskPrefixes})

	case "openai":
		apiKey := valueOr(ec.APIKey, cfg.Model.OpenAI.APIKey)
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		model := valueOr(ec.Model, defaultOpenAIModel)
		e = NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    valueOr(ec.Endpoint, valueOr(cfg.Model.OpenAI.BaseURL, "https://api.openai.com/v1")),
			APIKey:     apiKey,
			Model:      model,
			Dimensions: Dimensions(model, ec.Dimensions),
		})

	case "azure":
		apiKey := valueOr(ec.APIKey, cfg.Model.Azure.APIKey)
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := valueOr(ec.Endpoint, cfg.Model.Azure.Endpoint)
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		model := valueOr(ec.Model, defaultOpenAIModel)
		e = NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    strings.TrimRight(endpoint, "/") + "/openai",
			APIKey:     apiKey,
			Model:      model,
			Dimensions: Dimensions(model, ec.Dimensions),
			Azure:      true,
			APIVersion: valueOr(ec.APIVersion, "2025-04-01-preview"),
		})

	case "compat":
		if ec.Endpoint == "" || ec.Model == "" {
			return nil, fmt.Errorf("embedder: compat requires EMBEDDING_ENDPOINT and EMBEDDING_MODEL")
		}
		size := Dimensions(ec.Model, ec.Dimensions)
		if size == 0 {
			return nil, fmt.Errorf("embedder: unknown dimensions for model %q — set EMBEDDING_DIMENSIONS", ec.Model)
		}
		e, err = NewCompatEmbedder(&CompatConfig{
			BaseURL:    ec.Endpoint,
			APIKey:     ec.APIKey,
			Model:      ec.Model,
			Dimensions: size,
			BatchSize:  cfg.Pipeline.PageSize,
		}, log)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q — valid values: ollama, openai, azure, compat", backend)
	}

	log.Debug("embedder: configured", slog.String("backend", backend), slog.Int("size", e.Size()))
	return WithRetry(e, DefaultRetryConfig, log), nil
}

// resolveBackend returns the embedding backend, falling back to the chat
// provider when it is also an embedding backend.
func resolveBackend(cfg *config.Config) string {
	if cfg.Embedding.Provider != "" {
		return cfg.Embedding.Provider
	}
	switch cfg.Model.Provider {
	case "openai", "azure":
		return cfg.Model.Provider
	default:
		return "ollama"
	}
}

func valueOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
