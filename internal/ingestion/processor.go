// Package ingestion implements the file-processing stage of the pipeline.
// It resolves a project's uploaded assets, loads each one with a
// format-specific document loader, splits it into ordered overlapping chunks,
// and persists the chunks so the indexing stage can page through them.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/ragindex/internal/store"
	"github.com/54b3r/ragindex/internal/vectordb"
)

// ErrNoFiles is returned when a project has no file assets to process.
var ErrNoFiles = errors.New("ingestion: no files found for project")

// ChunkStore is the subset of the relational store file processing needs.
type ChunkStore interface {
	GetOrCreateProject(ctx context.Context, projectID string) (*store.Project, error)
	GetAssetByName(ctx context.Context, projectRowID int64, name string) (*store.Asset, error)
	ListAssets(ctx context.Context, projectRowID int64, assetType string) ([]store.Asset, error)
	AssetChunkIDs(ctx context.Context, assetID int64) ([]int64, error)
	ReplaceAssetChunks(ctx context.Context, assetID int64, chunks []store.Chunk) (deleted, inserted int, err error)
	DeleteAllForProject(ctx context.Context, projectRowID int64) (int, error)
}

// VectorCleaner removes vectors that no longer have a chunk: the whole
// collection on reset, or the records of replaced chunks on a re-run.
type VectorCleaner interface {
	DeleteCollection(ctx context.Context, name string) (bool, error)
	DeleteRecords(ctx context.Context, name string, ids []int64) (int, error)
}

// Request describes one file-processing run.
type Request struct {
	// ProjectID is the caller-facing project identifier.
	ProjectID string `json:"project_id"`
	// FileID selects a single asset; empty processes every file asset.
	FileID string `json:"file_id,omitempty"`
	// ChunkSize is the splitter chunk size in characters.
	ChunkSize int `json:"chunk_size"`
	// Overlap is the splitter overlap in characters.
	Overlap int `json:"overlap_size"`
	// Reset deletes the project's chunks and drops its collection first.
	Reset bool `json:"is_reset"`
}

// Result summarises a completed run.
type Result struct {
	TotalChunks    int    `json:"total_chunks"`
	ProcessedFiles int    `json:"processed_files"`
	SkippedFiles   int    `json:"skipped_files"`
	Message        string `json:"message"`
}

// Config holds the Processor's tuning.
type Config struct {
	// EmbeddingSize picks the collection dropped on reset.
	EmbeddingSize int
	// LoadConcurrency bounds parallel loading; <= 0 means 1.
	LoadConcurrency int
	// DefaultChunkSize and DefaultOverlap apply when a Request leaves them zero.
	DefaultChunkSize int
	DefaultOverlap   int
}

// Processor runs the load → split → persist flow for a project's assets.
type Processor struct {
	chunks  ChunkStore
	files   FileStore
	vectors VectorCleaner
	cfg     Config
	logger  *slog.Logger
}

// NewProcessor constructs a Processor from its collaborators.
func NewProcessor(chunks ChunkStore, files FileStore, vectors VectorCleaner, cfg Config, log *slog.Logger) (*Processor, error) {
	if chunks == nil {
		return nil, fmt.Errorf("ingestion: chunk store must not be nil")
	}
	if files == nil {
		return nil, fmt.Errorf("ingestion: file store must not be nil")
	}
	if vectors == nil {
		return nil, fmt.Errorf("ingestion: vector store must not be nil")
	}
	if cfg.LoadConcurrency <= 0 {
		cfg.LoadConcurrency = 1
	}
	if cfg.DefaultChunkSize <= 0 {
		cfg.DefaultChunkSize = 100
	}
	if cfg.DefaultOverlap < 0 || cfg.DefaultOverlap >= cfg.DefaultChunkSize {
		cfg.DefaultOverlap = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{chunks: chunks, files: files, vectors: vectors, cfg: cfg, logger: log}, nil
}

// loaded is the outcome of loading one asset.
type loaded struct {
	asset  store.Asset
	chunks []store.Chunk
	// skipped is set when the file content was unavailable.
	skipped bool
}

// Process runs file processing for the request. Each asset's chunks replace
// any chunks it already had, and the vectors of the replaced chunks are
// removed first, so a retried run never duplicates chunks or vectors.
func (p *Processor) Process(ctx context.Context, req Request) (*Result, error) {
	chunkSize, overlap, err := p.splitParams(req)
	if err != nil {
		return nil, err
	}

	project, err := p.chunks.GetOrCreateProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	assets, err := p.resolveAssets(ctx, project, req.FileID)
	if err != nil {
		return nil, err
	}

	if req.Reset {
		if err := p.reset(ctx, project); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	results := make([]loaded, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.LoadConcurrency)
	for i, a := range assets {
		g.Go(func() error {
			out, err := p.loadAsset(gctx, project, a, chunkSize, overlap)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{}
	for _, r := range results {
		if r.skipped {
			res.SkippedFiles++
			continue
		}
		if len(r.chunks) == 0 {
			p.logger.Warn("ingestion: no chunks produced",
				slog.String("project_id", project.ProjectID),
				slog.String("file_id", r.asset.Name),
			)
		}
		if err := p.pruneVectors(ctx, project, r.asset); err != nil {
			return nil, err
		}
		deleted, inserted, err := p.chunks.ReplaceAssetChunks(ctx, r.asset.ID, r.chunks)
		if err != nil {
			return nil, fmt.Errorf("ingestion: persist chunks of %s: %w", r.asset.Name, err)
		}
		if deleted > 0 {
			p.logger.Debug("ingestion: replaced previous chunks",
				slog.String("file_id", r.asset.Name),
				slog.Int("deleted", deleted),
			)
		}
		res.TotalChunks += inserted
		res.ProcessedFiles++
	}
	res.Message = "file processing completed"

	p.logger.Info("ingestion: project files processed",
		slog.String("project_id", project.ProjectID),
		slog.Int("files", res.ProcessedFiles),
		slog.Int("skipped", res.SkippedFiles),
		slog.Int("chunks", res.TotalChunks),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (p *Processor) splitParams(req Request) (int, int, error) {
	size, overlap := req.ChunkSize, req.Overlap
	if size == 0 {
		size = p.cfg.DefaultChunkSize
		if overlap == 0 {
			overlap = p.cfg.DefaultOverlap
		}
	}
	if size < 1 {
		return 0, 0, fmt.Errorf("ingestion: chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return 0, 0, fmt.Errorf("ingestion: overlap must be in [0, %d), got %d", size, overlap)
	}
	return size, overlap, nil
}

// resolveAssets returns the named asset, or every file asset of the project.
func (p *Processor) resolveAssets(ctx context.Context, project *store.Project, fileID string) ([]store.Asset, error) {
	if fileID != "" {
		a, err := p.chunks.GetAssetByName(ctx, project.ID, fileID)
		if err != nil {
			return nil, fmt.Errorf("ingestion: resolve file %q: %w", fileID, err)
		}
		return []store.Asset{*a}, nil
	}
	assets, err := p.chunks.ListAssets(ctx, project.ID, store.AssetTypeFile)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoFiles, project.ProjectID)
	}
	return assets, nil
}

// reset drops the project's collection and then its chunks.
func (p *Processor) reset(ctx context.Context, project *store.Project) error {
	name := vectordb.CollectionName(p.cfg.EmbeddingSize, project.ProjectID)
	if _, err := p.vectors.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("ingestion: reset collection %s: %w", name, err)
	}
	n, err := p.chunks.DeleteAllForProject(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("ingestion: reset chunks: %w", err)
	}
	p.logger.Info("ingestion: project reset",
		slog.String("project_id", project.ProjectID),
		slog.String("collection", name),
		slog.Int("chunks_deleted", n),
	)
	return nil
}

// pruneVectors deletes the vectors of the asset's current chunks. Their
// replacements get new ids, so indexing without reset would otherwise leave
// the old vectors searchable next to the new ones.
func (p *Processor) pruneVectors(ctx context.Context, project *store.Project, a store.Asset) error {
	ids, err := p.chunks.AssetChunkIDs(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("ingestion: previous chunks of %s: %w", a.Name, err)
	}
	if len(ids) == 0 {
		return nil
	}
	name := vectordb.CollectionName(p.cfg.EmbeddingSize, project.ProjectID)
	n, err := p.vectors.DeleteRecords(ctx, name, ids)
	if err != nil {
		return fmt.Errorf("ingestion: prune vectors of %s: %w", a.Name, err)
	}
	p.logger.Debug("ingestion: pruned stale vectors",
		slog.String("file_id", a.Name),
		slog.String("collection", name),
		slog.Int("records", n),
	)
	return nil
}

func (p *Processor) loadAsset(ctx context.Context, project *store.Project, a store.Asset, chunkSize, overlap int) (loaded, error) {
	content, err := p.files.ReadContent(ctx, project.ProjectID, a.Name)
	if err != nil {
		return loaded{}, fmt.Errorf("ingestion: read %s: %w", a.Name, err)
	}
	if content == nil {
		p.logger.Error("ingestion: skipping file without content",
			slog.String("project_id", project.ProjectID),
			slog.String("file_id", a.Name),
		)
		return loaded{asset: a, skipped: true}, nil
	}

	docs, err := splitContent(ctx, InferMetadata(a.Name), content, chunkSize, overlap)
	if err != nil {
		return loaded{}, err
	}
	chunks := make([]store.Chunk, len(docs))
	for i, d := range docs {
		chunks[i] = store.Chunk{
			Text:      d.PageContent,
			Metadata:  d.Metadata,
			Order:     i + 1,
			ProjectID: project.ID,
			AssetID:   a.ID,
		}
	}
	return loaded{asset: a, chunks: chunks}, nil
}
