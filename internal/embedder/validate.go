package embedder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/ragindex/internal/config"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") {
		return false
	}
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate is a pre-flight check run before any job touches the vector store.
// It returns an error when the configuration cannot produce a usable
// collection size, and warns when the embedding model looks like a chat
// model.
func Validate(cfg *config.Config, log *slog.Logger) error {
	backend := resolveBackend(cfg)
	ec := cfg.Embedding

	if ec.Provider == "" && cfg.Model.Provider != backend {
		log.Warn("embedder: embedding.provider is not set — falling back to ollama",
			slog.String("model_provider", cfg.Model.Provider),
			slog.String("hint", "set EMBEDDING_PROVIDER to ollama, openai, azure or compat"),
		)
	}

	model := ec.Model
	switch backend {
	case "ollama":
		model = valueOr(model, defaultOllamaModel)
	case "openai", "azure":
		model = valueOr(model, defaultOpenAIModel)
	}
	if Dimensions(model, ec.Dimensions) == 0 {
		return fmt.Errorf("embedder: cannot determine vector size for model %q — set EMBEDDING_DIMENSIONS", model)
	}

	if ec.Model != "" && looksLikeChatModel(ec.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model — "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", ec.Model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}
	return nil
}
