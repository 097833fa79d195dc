package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/54b3r/ragindex/internal/store"
)

// AssetRegistrar records stored uploads as project assets.
type AssetRegistrar interface {
	GetOrCreateProject(ctx context.Context, projectID string) (*store.Project, error)
	CreateAsset(ctx context.Context, a store.Asset) (*store.Asset, error)
}

// Uploader stores an upload and registers it as a file asset of its project,
// which makes it visible to file processing.
type Uploader struct {
	files  *LocalFileStore
	assets AssetRegistrar
	logger *slog.Logger
}

// NewUploader constructs an Uploader.
func NewUploader(files *LocalFileStore, assets AssetRegistrar, log *slog.Logger) (*Uploader, error) {
	if files == nil {
		return nil, errors.New("ingestion: file store must not be nil")
	}
	if assets == nil {
		return nil, errors.New("ingestion: asset registrar must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Uploader{files: files, assets: assets, logger: log}, nil
}

// Upload validates name and the declared size (pass a negative size when it
// is unknown), stores r, and creates the asset row. The stored file is removed
// again when the asset cannot be recorded.
func (u *Uploader) Upload(ctx context.Context, projectID, name string, size int64, r io.Reader) (*StoredFile, error) {
	if err := u.files.Validate(name, max(size, 0)); err != nil {
		return nil, err
	}
	project, err := u.assets.GetOrCreateProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	sf, err := u.files.Save(ctx, projectID, name, r)
	if err != nil {
		return nil, err
	}
	_, err = u.assets.CreateAsset(ctx, store.Asset{
		ProjectID: project.ID,
		Type:      store.AssetTypeFile,
		Name:      sf.FileID,
		Size:      sf.Size,
		Config:    map[string]any{"original_name": name},
	})
	if err != nil {
		if rmErr := os.Remove(sf.Path); rmErr != nil {
			u.logger.Warn("ingestion: remove orphaned upload", slog.String("path", sf.Path), slog.Any("error", rmErr))
		}
		return nil, fmt.Errorf("ingestion: register asset %s: %w", sf.FileID, err)
	}
	return sf, nil
}
