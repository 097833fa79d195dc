package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragindex/internal/indexing"
	"github.com/54b3r/ragindex/internal/ingestion"
	"github.com/54b3r/ragindex/internal/ledger"
	"github.com/54b3r/ragindex/internal/queue"
	"github.com/54b3r/ragindex/internal/rag"
	"github.com/54b3r/ragindex/internal/vectordb"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on /api/v1
	// routes (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all /api/v1 routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MaxUploadBytes caps a multipart upload request body. Defaults to 32 MiB.
	MaxUploadBytes int64
	// MetricsRegistry receives the server's metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is served on GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Submitter queues pipeline jobs. *workflow.Coordinator satisfies it.
type Submitter interface {
	SubmitWorkflow(ctx context.Context, req ingestion.Request) (string, error)
	SubmitIndex(ctx context.Context, req indexing.Request) (string, error)
}

// TaskStatuser reports in-process task state. *queue.Dispatcher satisfies it.
type TaskStatuser interface {
	Status(taskID string) (*queue.TaskStatus, error)
}

// LedgerReader looks up durable task records. *ledger.Ledger satisfies it.
type LedgerReader interface {
	LatestByExternalID(ctx context.Context, externalID string) (*ledger.Record, error)
}

// FileUploader stores uploads as project assets. *ingestion.Uploader satisfies it.
type FileUploader interface {
	Upload(ctx context.Context, projectID, name string, size int64, r io.Reader) (*ingestion.StoredFile, error)
}

// Searcher runs similarity search. *rag.Searcher satisfies it.
type Searcher interface {
	Search(ctx context.Context, projectID, text string, limit int) ([]vectordb.SearchResult, error)
	Collection(projectID string) string
}

// Answerer answers questions from indexed chunks. *rag.Answerer satisfies it.
type Answerer interface {
	Answer(ctx context.Context, projectID, query string, limit int) (*rag.Answer, error)
}

// CollectionInspector describes collections. Every vectordb.Store satisfies it.
type CollectionInspector interface {
	GetCollectionInfo(ctx context.Context, name string) (*vectordb.CollectionInfo, error)
}

// Deps are the pipeline components the API is served from.
type Deps struct {
	Submitter Submitter
	Tasks     TaskStatuser
	Ledger    LedgerReader
	Uploader  FileUploader
	Searcher  Searcher
	Answerer  Answerer
	Vectors   CollectionInspector
}

// Server is the HTTP server that exposes the indexing pipeline.
type Server struct {
	// deps are the pipeline components behind the handlers.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// handler is the fully wrapped root handler.
	handler http.Handler
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus metrics.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// processRequest is the JSON body for POST /api/v1/data/process/{project_id}.
type processRequest struct {
	// FileID selects one uploaded file; empty processes all of them.
	FileID string `json:"file_id"`
	// ChunkSize is the splitter chunk size (default 100).
	ChunkSize int `json:"chunk_size"`
	// OverlapSize is the splitter overlap (default 20).
	OverlapSize int `json:"overlap_size"`
	// Reset deletes prior chunks and the collection first.
	Reset bool `json:"is_reset"`
}

// pushRequest is the JSON body for POST /api/v1/nlp/index/push/{project_id}.
type pushRequest struct {
	// Reset drops and recreates the collection before indexing.
	Reset bool `json:"is_reset"`
}

// searchRequest is the JSON body for the search and answer routes.
type searchRequest struct {
	// Text is the query.
	Text string `json:"text"`
	// Limit caps the number of retrieved chunks (default 10).
	Limit int `json:"limit"`
}

// submitResponse acknowledges a queued job.
type submitResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// uploadResponse is returned by the upload route.
type uploadResponse struct {
	FileID  string `json:"file_id"`
	Size    int64  `json:"size"`
	Message string `json:"message"`
}

// infoResponse is returned by the index info route.
type infoResponse struct {
	CollectionInfo *vectordb.CollectionInfo `json:"collection_info"`
	Message        string                   `json:"message"`
}

// searchResponse is returned by the search route.
type searchResponse struct {
	Results []vectordb.SearchResult `json:"results"`
	Message string                  `json:"message"`
}

// taskResponse is returned by the task status route when the task is only
// known to the ledger (for example after a restart).
type taskResponse struct {
	TaskID      string     `json:"task_id"`
	TaskName    string     `json:"task_name"`
	Status      string     `json:"status"`
	Result      any        `json:"result,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// errorResponse is the JSON body of every handler error.
type errorResponse struct {
	Message string `json:"message"`
}
