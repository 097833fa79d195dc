// Package config provides the explicit configuration for ragindex.
// A single Config is built once at process start and passed by pointer into
// every component constructor. Nothing reads the environment after Load.
//
// Layered precedence: defaults → YAML file → env vars. Environment variables
// always win, and a .env file in the working directory is loaded into the
// environment first (never overriding variables that are already set).
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. RAGINDEX_CONFIG environment variable
//  3. ~/.ragindex/config.yaml
//  4. ./ragindex.yaml
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Store configures the SQLite database holding the ledger, projects,
	// assets, and chunks.
	Store StoreConfig `yaml:"store"`

	// VectorDB selects and configures the vector store backend.
	VectorDB VectorDBConfig `yaml:"vectordb"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Model configures the generation (chat) model used by the answer path.
	Model ModelConfig `yaml:"model"`

	// Pipeline holds chunking and paging parameters.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Worker configures the task queue workers.
	Worker WorkerConfig `yaml:"worker"`

	// Maintenance configures the ledger sweep.
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// Files configures the local asset file store.
	Files FilesConfig `yaml:"files"`

	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// StoreConfig holds relational store settings.
type StoreConfig struct {
	// Path is the SQLite database path. ":memory:" is accepted for tests.
	Path string `yaml:"path"`
}

// VectorDBConfig holds vector store settings.
type VectorDBConfig struct {
	// Backend selects the implementation: qdrant, pgvector, badger.
	Backend string `yaml:"backend"`
	// Distance is the similarity metric: cosine or dot.
	Distance string `yaml:"distance"`
	// IndexThreshold is the record count at which the secondary similarity
	// index is created.
	IndexThreshold int `yaml:"index_threshold"`
	// Qdrant holds Qdrant connection settings.
	Qdrant QdrantConfig `yaml:"qdrant"`
	// PGVector holds Postgres connection settings.
	PGVector PGVectorConfig `yaml:"pgvector"`
	// Badger holds embedded store settings.
	Badger BadgerConfig `yaml:"badger"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// PGVectorConfig holds Postgres + pgvector settings.
type PGVectorConfig struct {
	// DSN is the Postgres connection string. Prefer env var PGVECTOR_DSN.
	DSN string `yaml:"dsn"`
	// MaxConns caps the pgxpool size (0 = pgx default).
	MaxConns int `yaml:"max_conns"`
}

// BadgerConfig holds embedded Badger store settings.
type BadgerConfig struct {
	// Path is the Badger data directory.
	Path string `yaml:"path"`
	// InMemory runs Badger without touching disk.
	InMemory bool `yaml:"in_memory"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// APIVersion is the Azure OpenAI API version (azure only).
	APIVersion string `yaml:"api_version"`
	// TaskPrefixes prepends "search_document: " / "search_query: " to inputs,
	// as expected by nomic-style embedding models.
	TaskPrefixes bool `yaml:"task_prefixes"`
}

// ModelConfig holds generation model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider"`
	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`
	// ContextTokens is the prompt budget retrieved documents are fitted into.
	ContextTokens int `yaml:"context_tokens"`
	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`
	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`
	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`
	// Ark holds Volcano Engine Ark settings.
	Ark ArkConfig `yaml:"ark"`
	// Gemini holds Google Gemini-specific settings.
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
	// BaseURL overrides the API base for OpenAI-compatible servers.
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// ArkConfig holds Volcano Engine Ark provider settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey string `yaml:"api_key"`
	// BaseURL is the Ark endpoint.
	BaseURL string `yaml:"base_url"`
	// Model is the Ark endpoint/model id.
	Model string `yaml:"model"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// PipelineConfig holds file-processing and indexing parameters.
type PipelineConfig struct {
	// ChunkSize is the default splitter chunk size in characters.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is the default splitter overlap in characters.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// PageSize is the number of chunks read per page while indexing.
	PageSize int `yaml:"page_size"`
	// BatchSize bounds a single vector store upsert request/transaction.
	BatchSize int `yaml:"batch_size"`
	// LoadConcurrency bounds parallel asset loading during file processing.
	LoadConcurrency int `yaml:"load_concurrency"`
}

// WorkerConfig holds queue worker settings.
type WorkerConfig struct {
	// Concurrency is the worker pool size.
	Concurrency int `yaml:"concurrency"`
	// TaskTimeLimit is the wall-clock limit per job.
	TaskTimeLimit time.Duration `yaml:"task_time_limit"`
	// StuckGrace is added to TaskTimeLimit before a non-terminal ledger record
	// is considered stuck.
	StuckGrace time.Duration `yaml:"stuck_grace"`
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries"`
	// RetryCountdown is the fixed delay before a retry is dispatched.
	RetryCountdown time.Duration `yaml:"retry_countdown"`
}

// MaintenanceConfig holds ledger sweep settings.
type MaintenanceConfig struct {
	// Retention is how long ledger records are kept.
	Retention time.Duration `yaml:"retention"`
	// Interval is how often the worker schedules the sweep (0 disables it).
	Interval time.Duration `yaml:"interval"`
}

// FilesConfig holds local asset file store settings.
type FilesConfig struct {
	// Dir is the root directory for uploaded assets.
	Dir string `yaml:"dir"`
	// MaxSizeMB is the largest accepted upload.
	MaxSizeMB int `yaml:"max_size_mb"`
	// AllowedExtensions lists accepted upload extensions (with leading dot).
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var RAGINDEX_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit is the sustained per-IP request rate.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-IP burst size.
	RateBurst int `yaml:"rate_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
	// File, when set, receives a JSON copy of every log record.
	File string `yaml:"file"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Path: "ragindex.db"},
		VectorDB: VectorDBConfig{
			Backend:        "qdrant",
			Distance:       "cosine",
			IndexThreshold: 100,
			Qdrant:         QdrantConfig{Host: "localhost", Port: 6334},
			Badger:         BadgerConfig{Path: "vectors"},
		},
		Embedding: EmbeddingConfig{Provider: "ollama"},
		Model: ModelConfig{
			Provider:    "ollama",
			MaxTokens:     1024,
			Temperature:   0.1,
			ContextTokens: 6000,
			Ollama:        OllamaConfig{Host: "http://localhost:11434", Model: "llama3"},
			OpenAI:        OpenAIConfig{Model: "gpt-4o-mini"},
			Azure:         AzureConfig{APIVersion: "2024-02-01"},
			Gemini:        GeminiConfig{Model: "gemini-1.5-flash"},
		},
		Pipeline: PipelineConfig{
			ChunkSize:       100,
			ChunkOverlap:    20,
			PageSize:        50,
			BatchSize:       50,
			LoadConcurrency: 4,
		},
		Worker: WorkerConfig{
			Concurrency:    2,
			TaskTimeLimit:  600 * time.Second,
			StuckGrace:     60 * time.Second,
			MaxRetries:     3,
			RetryCountdown: 60 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			Retention: 5 * 24 * time.Hour,
			Interval:  84600 * time.Second,
		},
		Files: FilesConfig{
			Dir:               "assets/files",
			MaxSizeMB:         10,
			AllowedExtensions: []string{".txt", ".md", ".pdf", ".html", ".csv"},
		},
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			RateLimit: 10,
			RateBurst: 20,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.VectorDB.Backend {
	case "qdrant", "pgvector", "badger":
	default:
		return fmt.Errorf("config: vectordb.backend %q — valid values: qdrant, pgvector, badger", c.VectorDB.Backend)
	}
	switch c.VectorDB.Distance {
	case "cosine", "dot":
	default:
		return fmt.Errorf("config: vectordb.distance %q — valid values: cosine, dot", c.VectorDB.Distance)
	}
	if c.VectorDB.Backend == "pgvector" && c.VectorDB.PGVector.DSN == "" {
		return errors.New("config: vectordb.pgvector.dsn (PGVECTOR_DSN) is required for the pgvector backend")
	}
	if c.VectorDB.Backend == "badger" && !c.VectorDB.Badger.InMemory && c.VectorDB.Badger.Path == "" {
		return errors.New("config: vectordb.badger.path (BADGER_PATH) is required unless in_memory is set")
	}
	if c.Store.Path == "" {
		return errors.New("config: store.path (RAGINDEX_DB_PATH) must not be empty")
	}
	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("config: pipeline.chunk_size must be positive, got %d", c.Pipeline.ChunkSize)
	}
	if c.Pipeline.ChunkOverlap < 0 || c.Pipeline.ChunkOverlap >= c.Pipeline.ChunkSize {
		return fmt.Errorf("config: pipeline.chunk_overlap must be in [0, chunk_size), got %d", c.Pipeline.ChunkOverlap)
	}
	if c.Pipeline.PageSize <= 0 || c.Pipeline.BatchSize <= 0 {
		return errors.New("config: pipeline.page_size and pipeline.batch_size must be positive")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("config: worker.concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("config: worker.max_retries must not be negative, got %d", c.Worker.MaxRetries)
	}
	return nil
}

// envMapping maps env var names onto Config fields. Applied after the YAML
// file, so env always wins. Empty values are ignored.
var envMapping = []struct {
	envKey string
	set    func(c *Config, v string) error
}{
	{"RAGINDEX_DB_PATH", func(c *Config, v string) error { c.Store.Path = v; return nil }},
	{"VECTOR_DB_BACKEND", func(c *Config, v string) error { c.VectorDB.Backend = strings.ToLower(v); return nil }},
	{"VECTOR_DB_DISTANCE", func(c *Config, v string) error { c.VectorDB.Distance = strings.ToLower(v); return nil }},
	{"VECTOR_DB_PGVEC_INDEX_THRESHOLD", func(c *Config, v string) error { return setInt(&c.VectorDB.IndexThreshold, v) }},
	{"QDRANT_HOST", func(c *Config, v string) error { c.VectorDB.Qdrant.Host = v; return nil }},
	{"QDRANT_PORT", func(c *Config, v string) error { return setInt(&c.VectorDB.Qdrant.Port, v) }},
	{"QDRANT_API_KEY", func(c *Config, v string) error { c.VectorDB.Qdrant.APIKey = v; return nil }},
	{"QDRANT_TLS", func(c *Config, v string) error { return setBool(&c.VectorDB.Qdrant.TLS, v) }},
	{"PGVECTOR_DSN", func(c *Config, v string) error { c.VectorDB.PGVector.DSN = v; return nil }},
	{"BADGER_PATH", func(c *Config, v string) error { c.VectorDB.Badger.Path = v; return nil }},
	{"EMBEDDING_PROVIDER", func(c *Config, v string) error { c.Embedding.Provider = v; return nil }},
	{"EMBEDDING_MODEL", func(c *Config, v string) error { c.Embedding.Model = v; return nil }},
	{"EMBEDDING_DIMENSIONS", func(c *Config, v string) error { return setInt(&c.Embedding.Dimensions, v) }},
	{"EMBEDDING_API_KEY", func(c *Config, v string) error { c.Embedding.APIKey = v; return nil }},
	{"EMBEDDING_ENDPOINT", func(c *Config, v string) error { c.Embedding.Endpoint = v; return nil }},
	{"EMBEDDING_TASK_PREFIXES", func(c *Config, v string) error { return setBool(&c.Embedding.TaskPrefixes, v) }},
	{"MODEL_PROVIDER", func(c *Config, v string) error { c.Model.Provider = v; return nil }},
	{"MODEL_MAX_TOKENS", func(c *Config, v string) error { return setInt(&c.Model.MaxTokens, v) }},
	{"MODEL_CONTEXT_TOKENS", func(c *Config, v string) error { return setInt(&c.Model.ContextTokens, v) }},
	{"MODEL_TEMPERATURE", func(c *Config, v string) error { return setFloat32(&c.Model.Temperature, v) }},
	{"OLLAMA_HOST", func(c *Config, v string) error { c.Model.Ollama.Host = v; return nil }},
	{"OLLAMA_MODEL", func(c *Config, v string) error { c.Model.Ollama.Model = v; return nil }},
	{"OPENAI_API_KEY", func(c *Config, v string) error { c.Model.OpenAI.APIKey = v; return nil }},
	{"OPENAI_MODEL", func(c *Config, v string) error { c.Model.OpenAI.Model = v; return nil }},
	{"OPENAI_BASE_URL", func(c *Config, v string) error { c.Model.OpenAI.BaseURL = v; return nil }},
	{"AZURE_OPENAI_API_KEY", func(c *Config, v string) error { c.Model.Azure.APIKey = v; return nil }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config, v string) error { c.Model.Azure.Endpoint = v; return nil }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config, v string) error { c.Model.Azure.Deployment = v; return nil }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config, v string) error { c.Model.Azure.APIVersion = v; return nil }},
	{"ARK_API_KEY", func(c *Config, v string) error { c.Model.Ark.APIKey = v; return nil }},
	{"ARK_BASE_URL", func(c *Config, v string) error { c.Model.Ark.BaseURL = v; return nil }},
	{"ARK_MODEL", func(c *Config, v string) error { c.Model.Ark.Model = v; return nil }},
	{"GOOGLE_API_KEY", func(c *Config, v string) error { c.Model.Gemini.APIKey = v; return nil }},
	{"GEMINI_MODEL", func(c *Config, v string) error { c.Model.Gemini.Model = v; return nil }},
	{"CHUNK_SIZE", func(c *Config, v string) error { return setInt(&c.Pipeline.ChunkSize, v) }},
	{"CHUNK_OVERLAP", func(c *Config, v string) error { return setInt(&c.Pipeline.ChunkOverlap, v) }},
	{"INDEX_PAGE_SIZE", func(c *Config, v string) error { return setInt(&c.Pipeline.PageSize, v) }},
	{"UPSERT_BATCH_SIZE", func(c *Config, v string) error { return setInt(&c.Pipeline.BatchSize, v) }},
	{"WORKER_CONCURRENCY", func(c *Config, v string) error { return setInt(&c.Worker.Concurrency, v) }},
	{"TASK_TIME_LIMIT", func(c *Config, v string) error { return setDuration(&c.Worker.TaskTimeLimit, v) }},
	{"TASK_MAX_RETRIES", func(c *Config, v string) error { return setInt(&c.Worker.MaxRetries, v) }},
	{"TASK_RETRY_COUNTDOWN", func(c *Config, v string) error { return setDuration(&c.Worker.RetryCountdown, v) }},
	{"LEDGER_RETENTION", func(c *Config, v string) error { return setDuration(&c.Maintenance.Retention, v) }},
	{"LEDGER_SWEEP_INTERVAL", func(c *Config, v string) error { return setDuration(&c.Maintenance.Interval, v) }},
	{"FILES_DIR", func(c *Config, v string) error { c.Files.Dir = v; return nil }},
	{"FILE_MAX_SIZE_MB", func(c *Config, v string) error { return setInt(&c.Files.MaxSizeMB, v) }},
	{"FILE_ALLOWED_EXTENSIONS", func(c *Config, v string) error { c.Files.AllowedExtensions = splitList(v); return nil }},
	{"RAGINDEX_HOST", func(c *Config, v string) error { c.Server.Host = v; return nil }},
	{"RAGINDEX_PORT", func(c *Config, v string) error { return setInt(&c.Server.Port, v) }},
	{"RAGINDEX_API_KEY", func(c *Config, v string) error { c.Server.APIKey = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Logging.Format = v; return nil }},
	{"LOG_FILE", func(c *Config, v string) error { c.Logging.File = v; return nil }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config, v string) error { c.Tracing.PublicKey = v; return nil }},
	{"LANGFUSE_SECRET_KEY", func(c *Config, v string) error { c.Tracing.SecretKey = v; return nil }},
	{"LANGFUSE_HOST", func(c *Config, v string) error { c.Tracing.Host = v; return nil }},
}

// Load builds the Config: defaults, then the YAML file (if one is found),
// then env vars. Returns the config, the path that was loaded (empty string
// if no file was found), and the first validation error.
func Load(explicitPath string, log *slog.Logger) (*Config, string, error) {
	loadDotEnv(log)

	cfg := Default()

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using defaults and env vars")
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	applied, err := applyEnv(cfg)
	if err != nil {
		return nil, "", err
	}

	log.Info("config: loaded",
		slog.String("path", valueOr(path, "none")),
		slog.Int("env_keys_applied", applied),
	)

	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// EnvKeys returns every environment variable Load reads, in mapping order.
func EnvKeys() []string {
	keys := make([]string, len(envMapping))
	for i, m := range envMapping {
		keys[i] = m.envKey
	}
	return keys
}

// applyEnv overlays non-empty env vars onto cfg and returns how many applied.
func applyEnv(cfg *Config) (int, error) {
	applied := 0
	for _, m := range envMapping {
		v := os.Getenv(m.envKey)
		if v == "" {
			continue
		}
		if err := m.set(cfg, v); err != nil {
			return applied, fmt.Errorf("config: %s: %w", m.envKey, err)
		}
		applied++
	}
	return applied, nil
}

// loadDotEnv loads ./.env into the process environment if present.
// Variables that are already set are left untouched.
func loadDotEnv(log *slog.Logger) {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(".env"); err != nil {
		log.Warn("config: failed to load .env", slog.Any("error", err))
	}
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("RAGINDEX_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".ragindex", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("ragindex.yaml"); err == nil {
		return "ragindex.yaml"
	}

	return ""
}

func setInt(dst *int, v string) error {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("not an integer: %q", v)
	}
	*dst = i
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("not a boolean: %q", v)
	}
	*dst = b
	return nil
}

func setFloat32(dst *float32, v string) error {
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return fmt.Errorf("not a number: %q", v)
	}
	*dst = float32(f)
	return nil
}

// setDuration accepts Go duration syntax ("90s") or a bare number of seconds.
func setDuration(dst *time.Duration, v string) error {
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("not a duration: %q", v)
	}
	*dst = d
	return nil
}

// splitList splits a comma-separated env value, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
