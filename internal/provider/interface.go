// Package provider selects and constructs the generation model used by the
// answer path. Supported backends: Ollama, OpenAI, Azure OpenAI, Volcano
// Engine Ark, Google Gemini.
package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/54b3r/ragindex/internal/config"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API or an OpenAI-compatible server.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects Volcano Engine Ark.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	Host  string
	Model string
}

// ProviderOpenAI holds OpenAI settings.
type ProviderOpenAI struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// ProviderArk holds Volcano Engine Ark settings.
type ProviderArk struct {
	APIKey  string
	BaseURL string
	Model   string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// SharedTuning holds generation parameters common to every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Config is the resolved provider configuration.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend     Backend
	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ark         ProviderArk
	Gemini      ProviderGemini
	Tuning      SharedTuning
}

// FromConfig maps the application model settings onto a provider Config.
func FromConfig(mc config.ModelConfig) *Config {
	return &Config{
		Backend: Backend(strings.ToLower(mc.Provider)),
		Ollama:  ProviderOllama{Host: mc.Ollama.Host, Model: mc.Ollama.Model},
		OpenAI:  ProviderOpenAI{APIKey: mc.OpenAI.APIKey, Model: mc.OpenAI.Model, BaseURL: mc.OpenAI.BaseURL},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     mc.Azure.APIKey,
			Endpoint:   mc.Azure.Endpoint,
			Deployment: mc.Azure.Deployment,
			APIVersion: mc.Azure.APIVersion,
		},
		Ark:    ProviderArk{APIKey: mc.Ark.APIKey, BaseURL: mc.Ark.BaseURL, Model: mc.Ark.Model},
		Gemini: ProviderGemini{APIKey: mc.Gemini.APIKey, Model: mc.Gemini.Model},
		Tuning: SharedTuning{MaxTokens: mc.MaxTokens, Temperature: mc.Temperature},
	}
}

// Validate reports the first missing setting for the selected backend,
// naming the env var that supplies it.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Model == "" {
			return errors.New("provider: OLLAMA_MODEL is required for ollama backend")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return errors.New("provider: OPENAI_API_KEY is required for openai backend")
		}
		if c.OpenAI.Model == "" {
			return errors.New("provider: OPENAI_MODEL is required for openai backend")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return errors.New("provider: AZURE_OPENAI_API_KEY is required for azure backend")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return errors.New("provider: AZURE_OPENAI_ENDPOINT is required for azure backend")
		}
		if c.AzureOpenAI.Deployment == "" {
			return errors.New("provider: AZURE_OPENAI_DEPLOYMENT is required for azure backend")
		}
	case BackendArk:
		if c.Ark.APIKey == "" {
			return errors.New("provider: ARK_API_KEY is required for ark backend")
		}
		if c.Ark.Model == "" {
			return errors.New("provider: ARK_MODEL is required for ark backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return errors.New("provider: GOOGLE_API_KEY is required for gemini backend")
		}
		if c.Gemini.Model == "" {
			return errors.New("provider: GEMINI_MODEL is required for gemini backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q — valid values: ollama, openai, azure, ark, gemini", c.Backend)
	}
	return nil
}

// isAzureReasoningModel reports whether an Azure deployment is an o-series or
// codex-class model, which reject temperature and max_tokens.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, p := range []string{"o1", "o3", "o4", "codex"} {
		if strings.HasPrefix(d, p) {
			return true
		}
	}
	return false
}
