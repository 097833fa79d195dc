package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/54b3r/ragindex/internal/embedder"
	"github.com/54b3r/ragindex/internal/indexing"
	"github.com/54b3r/ragindex/internal/ingestion"
	"github.com/54b3r/ragindex/internal/ledger"
	"github.com/54b3r/ragindex/internal/metrics"
	"github.com/54b3r/ragindex/internal/provider"
	"github.com/54b3r/ragindex/internal/queue"
	"github.com/54b3r/ragindex/internal/rag"
	"github.com/54b3r/ragindex/internal/store"
	"github.com/54b3r/ragindex/internal/tracing"
	"github.com/54b3r/ragindex/internal/vectordb"
	"github.com/54b3r/ragindex/internal/workflow"
)

// shutdownTimeout bounds how long running jobs get to finish on exit.
const shutdownTimeout = 30 * time.Second

// app is the fully wired pipeline shared by the worker and one-shot commands.
type app struct {
	store       *store.SQLiteStore
	ledger      *ledger.Ledger
	vectors     vectordb.Store
	embedder    embedder.Embedder
	files       *ingestion.LocalFileStore
	uploader    *ingestion.Uploader
	dispatcher  *queue.Dispatcher
	coordinator *workflow.Coordinator
	searcher    *rag.Searcher
	registry    *prometheus.Registry

	closers []func() error
}

// buildStores opens the chunk store and the task ledger. It is enough for
// commands that only read task state.
func buildStores() (*app, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	a := &app{store: st}
	a.closers = append(a.closers, st.Close)
	a.ledger = ledger.New(st.DB(), ledger.WithGracePeriod(cfg.Worker.StuckGrace))
	log.Debug("store opened", slog.String("path", cfg.Store.Path))
	return a, nil
}

// buildSearch adds the embedder, the vector store, and the searcher.
func buildSearch(ctx context.Context) (*app, error) {
	a, err := buildStores()
	if err != nil {
		return nil, err
	}
	if err := embedder.Validate(cfg, log); err != nil {
		a.close()
		return nil, err
	}
	if a.embedder, err = embedder.New(cfg, log); err != nil {
		a.close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	if a.vectors, err = vectordb.New(cfg.VectorDB, log); err != nil {
		a.close()
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	if err := a.vectors.Connect(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("connect %s: %w", a.vectors.Name(), err)
	}
	a.closers = append(a.closers, a.vectors.Disconnect)
	log.Info("vector store connected",
		slog.String("backend", a.vectors.Name()),
		slog.Int("embedding_size", a.embedder.Size()),
	)
	if a.searcher, err = rag.NewSearcher(a.embedder, a.vectors); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// buildPipeline wires the full job pipeline: file store, processor,
// orchestrator, dispatcher, and coordinator, with metrics registered on a
// fresh registry.
func buildPipeline(ctx context.Context) (*app, error) {
	a, err := buildSearch(ctx)
	if err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipeline := metrics.NewPipeline(a.registry)

	a.files = ingestion.NewLocalFileStore(cfg.Files, log)
	if a.uploader, err = ingestion.NewUploader(a.files, a.store, log); err != nil {
		a.close()
		return nil, err
	}

	processor, err := ingestion.NewProcessor(a.store, a.files, a.vectors, ingestion.Config{
		EmbeddingSize:    a.embedder.Size(),
		LoadConcurrency:  cfg.Pipeline.LoadConcurrency,
		DefaultChunkSize: cfg.Pipeline.ChunkSize,
		DefaultOverlap:   cfg.Pipeline.ChunkOverlap,
	}, log)
	if err != nil {
		a.close()
		return nil, err
	}

	indexer, err := indexing.New(a.store, a.embedder, a.vectors, indexing.Config{
		PageSize:  cfg.Pipeline.PageSize,
		BatchSize: cfg.Pipeline.BatchSize,
	}, log)
	if err != nil {
		a.close()
		return nil, err
	}

	a.dispatcher, err = queue.New(queue.Config{
		Concurrency: cfg.Worker.Concurrency,
		OnRetry:     pipeline.TaskRetried,
	}, log)
	if err != nil {
		a.close()
		return nil, err
	}

	a.coordinator, err = workflow.New(a.dispatcher, a.ledger, processor, indexer, pipeline, workflow.ConfigFrom(cfg), log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.coordinator.Register()
	return a, nil
}

// buildAnswerer wires the generation model, with Langfuse tracing when keys
// are configured. The returned flush must run before exit.
func buildAnswerer(ctx context.Context, a *app) (*rag.Answerer, func(), error) {
	flush, traced := tracing.Setup(cfg.Tracing)
	if traced {
		log.Info("langfuse tracing enabled")
	}

	pcfg := provider.FromConfig(cfg.Model)
	if err := pcfg.Validate(); err != nil {
		return nil, flush, err
	}
	chatModel, err := provider.New(ctx, pcfg)
	if err != nil {
		return nil, flush, fmt.Errorf("init model provider: %w", err)
	}
	gen, err := provider.NewGenerator(chatModel, log)
	if err != nil {
		return nil, flush, err
	}
	log.Info("provider initialised", slog.String("provider", string(pcfg.Backend)))

	answerer, err := rag.NewAnswerer(a.searcher, gen, log, rag.WithContextTokens(cfg.Model.ContextTokens))
	return answerer, flush, err
}

// shutdown drains the dispatcher, if any, then closes every resource.
func (a *app) shutdown() {
	if a.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.dispatcher.Shutdown(ctx); err != nil {
			log.Warn("dispatcher shutdown", slog.Any("error", err))
		}
		cancel()
	}
	a.close()
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn("close resources", slog.Any("error", err))
	}
}
