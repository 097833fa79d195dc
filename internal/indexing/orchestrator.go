// Package indexing drives the vector-indexing stage: it pages through a
// project's persisted chunks, embeds each page in one call, and upserts the
// vectors into the project's collection using the chunk ids as record ids.
package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/54b3r/ragindex/internal/embedder"
	"github.com/54b3r/ragindex/internal/store"
	"github.com/54b3r/ragindex/internal/vectordb"
)

var (
	// ErrVectorInsertFailed is returned when a page could not be written to
	// the vector store. The run stops at that page.
	ErrVectorInsertFailed = errors.New("indexing: vector insert failed")

	// ErrEmbeddingFailed is returned when a page could not be embedded.
	ErrEmbeddingFailed = errors.New("indexing: embedding failed")
)

// ChunkReader is the paginated read path over persisted chunks.
type ChunkReader interface {
	GetOrCreateProject(ctx context.Context, projectID string) (*store.Project, error)
	GetPage(ctx context.Context, projectRowID int64, pageNumber, pageSize int) ([]store.Chunk, error)
	CountTotal(ctx context.Context, projectRowID int64) (int, error)
}

// Config holds paging and batching sizes.
type Config struct {
	// PageSize is the number of chunks read and embedded per page.
	PageSize int
	// BatchSize bounds one vector store upsert request.
	BatchSize int
}

// Request describes one indexing run.
type Request struct {
	// ProjectID is the caller-facing project identifier.
	ProjectID string `json:"project_id"`
	// Reset drops and recreates the collection before indexing.
	Reset bool `json:"is_reset"`
}

// Result summarises a completed run.
type Result struct {
	InsertedItemsCount int    `json:"inserted_items_count"`
	Pages              int    `json:"pages"`
	Collection         string `json:"collection"`
	Message            string `json:"message"`
}

// ProgressFunc is called after every indexed page with the running count and
// the advisory total.
type ProgressFunc func(done, total int)

// Orchestrator runs indexing for one project at a time. Callers serialise runs
// per project; the chunk cursor assumes no concurrent writers.
type Orchestrator struct {
	chunks   ChunkReader
	embedder embedder.Embedder
	vectors  vectordb.Store
	cfg      Config
	logger   *slog.Logger
}

// New constructs an Orchestrator.
func New(chunks ChunkReader, emb embedder.Embedder, vectors vectordb.Store, cfg Config, log *slog.Logger) (*Orchestrator, error) {
	if chunks == nil {
		return nil, errors.New("indexing: chunk reader must not be nil")
	}
	if emb == nil {
		return nil, errors.New("indexing: embedder must not be nil")
	}
	if vectors == nil {
		return nil, errors.New("indexing: vector store must not be nil")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.PageSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{chunks: chunks, embedder: emb, vectors: vectors, cfg: cfg, logger: log}, nil
}

// CollectionFor returns the collection name used for a project.
func (o *Orchestrator) CollectionFor(projectID string) string {
	return vectordb.CollectionName(o.embedder.Size(), projectID)
}

// Run indexes every chunk of the project. A project without chunks is a
// successful no-op that still leaves its collection in place.
func (o *Orchestrator) Run(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	project, err := o.chunks.GetOrCreateProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	name := o.CollectionFor(project.ProjectID)
	created, err := o.vectors.CreateCollection(ctx, name, o.embedder.Size(), req.Reset)
	if err != nil {
		return nil, fmt.Errorf("indexing: create collection %s: %w", name, err)
	}

	total, err := o.chunks.CountTotal(ctx, project.ID)
	if err != nil {
		// Progress only; indexing does not depend on it.
		o.logger.Warn("indexing: count chunks failed", slog.Any("error", err))
	}
	log := o.logger.With(slog.String("project_id", project.ProjectID), slog.String("collection", name))
	log.Info("indexing: run started",
		slog.Bool("created", created),
		slog.Bool("reset", req.Reset),
		slog.Int("total_chunks", total),
	)

	start := time.Now()
	res := &Result{Collection: name}
	for page := 1; ; page++ {
		chunks, err := o.chunks.GetPage(ctx, project.ID, page, o.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("indexing: read page %d: %w", page, err)
		}
		if len(chunks) == 0 {
			break
		}
		if err := o.indexPage(ctx, name, page, chunks); err != nil {
			log.Error("indexing: page failed",
				slog.Int("page", page),
				slog.Int("inserted", res.InsertedItemsCount),
				slog.Any("error", err),
			)
			return nil, err
		}
		res.Pages++
		res.InsertedItemsCount += len(chunks)
		if progress != nil {
			progress(res.InsertedItemsCount, total)
		}
	}
	res.Message = "indexing completed"

	log.Info("indexing: run complete",
		slog.Int("pages", res.Pages),
		slog.Int("inserted", res.InsertedItemsCount),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// indexPage embeds one page and upserts it. Index i of texts, vectors,
// metadata, and ids always describes the same chunk.
func (o *Orchestrator) indexPage(ctx context.Context, name string, page int, chunks []store.Chunk) error {
	texts := make([]string, len(chunks))
	ids := make([]int64, len(chunks))
	meta := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
		ids[i] = c.ID
		m := make(map[string]any, len(c.Metadata)+2)
		maps.Copy(m, c.Metadata)
		m["chunk_order"] = c.Order
		m["asset_id"] = c.AssetID
		meta[i] = m
	}

	vectors, err := o.embedder.Embed(ctx, texts, embedder.Document)
	if err != nil {
		return fmt.Errorf("%w: page %d: %w", ErrEmbeddingFailed, page, err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("%w: page %d: got %d vectors for %d chunks", ErrEmbeddingFailed, page, len(vectors), len(texts))
	}

	ok, err := o.vectors.UpsertBatch(ctx, name, vectordb.Batch{
		Texts:    texts,
		Vectors:  vectors,
		Metadata: meta,
		IDs:      ids,
	}, o.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("%w: page %d: %w", ErrVectorInsertFailed, page, err)
	}
	if !ok {
		return fmt.Errorf("%w: page %d: collection %s not found", ErrVectorInsertFailed, page, name)
	}
	return nil
}
