package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragindex/internal/server"
	"github.com/54b3r/ragindex/internal/version"
)

// NewWorkerCmd constructs the `ragindex worker` command, which runs the job
// queue, the ledger maintenance schedule, and the HTTP API in one process.
func NewWorkerCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the job queue and the HTTP API",
		Long: `Start the pipeline worker.

The worker executes processing and indexing jobs on a bounded pool, sweeps
old ledger records on a schedule, and serves the HTTP API:

  POST /api/v1/data/upload/{project_id}        multipart upload (field "file")
  POST /api/v1/data/process/{project_id}       process files, then index
  POST /api/v1/nlp/index/push/{project_id}     index stored chunks
  GET  /api/v1/nlp/index/info/{project_id}     collection info
  POST /api/v1/nlp/index/search/{project_id}   similarity search
  POST /api/v1/nlp/index/answer/{project_id}   retrieval-augmented answer
  GET  /api/v1/tasks/{task_id}                 task status
  GET  /api/health, /api/ready, /metrics

Examples:
  ragindex worker
  ragindex worker --port 9090
  VECTOR_DB_BACKEND=qdrant ragindex worker`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info("worker starting", slog.String("version", version.String()))

			a, err := buildPipeline(ctx)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			defer a.shutdown()

			answerer, flush, err := buildAnswerer(ctx, a)
			defer flush()
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}

			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			srv, err := server.New(server.Deps{
				Submitter: a.coordinator,
				Tasks:     a.dispatcher,
				Ledger:    a.ledger,
				Uploader:  a.uploader,
				Searcher:  a.searcher,
				Answerer:  answerer,
				Vectors:   a.vectors,
			}, &server.Config{
				Host:      cfg.Server.Host,
				Port:      cfg.Server.Port,
				APIKey:    cfg.Server.APIKey,
				RateLimit: cfg.Server.RateLimit,
				RateBurst: cfg.Server.RateBurst,
				Logger:    log,
				Pingers: []server.Pinger{
					a.store,
					a.vectors,
					server.NewEmbedderPinger(a.embedder, "embedder"),
				},
				MetricsRegistry: a.registry,
				MetricsGatherer: a.registry,
			})
			if err != nil {
				return fmt.Errorf("worker: failed to create server: %w", err)
			}

			go a.coordinator.RunMaintenance(ctx, cfg.Maintenance.Interval)

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (overrides server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (overrides server.port)")

	return cmd
}

// waitContext is used by one-shot commands that run a job in-process and
// stop on Ctrl-C.
func waitContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}
