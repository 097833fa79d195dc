// Package server implements the HTTP API of the indexing pipeline: uploads,
// job submission, task status polling, collection info, search and answers,
// plus health, readiness, and Prometheus metrics.
// The server is started by the `ragindex worker` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// New constructs a Server from the pipeline components and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Submitter == nil || deps.Tasks == nil || deps.Ledger == nil {
		return nil, errors.New("server: submitter, task status, and ledger are required")
	}
	if deps.Uploader == nil || deps.Searcher == nil || deps.Answerer == nil || deps.Vectors == nil {
		return nil, errors.New("server: uploader, searcher, answerer, and vector store are required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Answers wait on the generation model.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		log.Warn("server: API key not set, /api/v1 authentication is disabled")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	rl.onReject = s.metrics.rateLimitedTotal.Inc
	s.stopRL = stop

	api := http.NewServeMux()
	s.route(api, "POST /api/v1/data/upload/{project_id}", "upload", s.handleUpload)
	s.route(api, "POST /api/v1/data/process/{project_id}", "process", s.handleProcess)
	s.route(api, "POST /api/v1/nlp/index/push/{project_id}", "index_push", s.handlePush)
	s.route(api, "GET /api/v1/nlp/index/info/{project_id}", "index_info", s.handleInfo)
	s.route(api, "POST /api/v1/nlp/index/search/{project_id}", "index_search", s.handleSearch)
	s.route(api, "POST /api/v1/nlp/index/answer/{project_id}", "index_answer", s.handleAnswer)
	s.route(api, "GET /api/v1/tasks/{task_id}", "task_status", s.handleTaskStatus)

	root := http.NewServeMux()
	root.Handle("/api/v1/", authMiddleware(cfg.APIKey, rl.middleware(api)))
	s.route(root, "GET /api/health", "health", s.handleHealth)
	s.route(root, "GET /api/ready", "ready", s.handleReady)
	root.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.handler = requestLogger(log, root)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the root handler with every middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
