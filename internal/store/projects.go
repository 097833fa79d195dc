package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AssetTypeFile is the asset_type of uploaded files.
const AssetTypeFile = "file"

// Project is the ownership anchor for assets and chunks.
type Project struct {
	// ID is the surrogate row id referenced by assets and chunks.
	ID int64
	// ProjectID is the caller-facing identifier used in collection names.
	ProjectID string
	// CreatedAt is when the project was first referenced.
	CreatedAt time.Time
}

// Asset is an uploaded source file owned by a project.
type Asset struct {
	// ID is the surrogate row id referenced by chunks.
	ID int64
	// ProjectID is the owning project's row id.
	ProjectID int64
	// Type is the asset kind (AssetTypeFile).
	Type string
	// Name is the stored file id (unique per project).
	Name string
	// Size is the file size in bytes.
	Size int64
	// Config is free-form asset metadata.
	Config map[string]any
	// CreatedAt is when the asset was registered.
	CreatedAt time.Time
}

// GetOrCreateProject returns the project with the given identifier, creating
// it on first reference.
func (s *SQLiteStore) GetOrCreateProject(ctx context.Context, projectID string) (*Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("store: project id must not be empty")
	}

	now := time.Now().Unix()
	const ins = `INSERT INTO projects (project_id, created_at, updated_at) VALUES (?, ?, ?)
ON CONFLICT (project_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, ins, projectID, now, now); err != nil {
		return nil, fmt.Errorf("store: create project: %w", err)
	}
	return s.GetProject(ctx, projectID)
}

// GetProject returns the project with the given identifier or ErrNotFound.
func (s *SQLiteStore) GetProject(ctx context.Context, projectID string) (*Project, error) {
	const q = `SELECT id, project_id, created_at FROM projects WHERE project_id = ?`
	var p Project
	var ts int64
	err := s.db.QueryRowContext(ctx, q, projectID).Scan(&p.ID, &p.ProjectID, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: project %q", ErrNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get project: %w", err)
	}
	p.CreatedAt = time.Unix(ts, 0)
	return &p, nil
}

// CreateAsset registers an asset. Returns ErrAlreadyExists if the project
// already has an asset with the same name.
func (s *SQLiteStore) CreateAsset(ctx context.Context, a Asset) (*Asset, error) {
	if a.Type == "" {
		a.Type = AssetTypeFile
	}
	cfg, err := encodeJSON(a.Config)
	if err != nil {
		return nil, fmt.Errorf("store: create asset: %w", err)
	}

	now := time.Now()
	const q = `INSERT INTO assets (asset_project_id, asset_type, asset_name, asset_size, asset_config, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (asset_project_id, asset_name) DO NOTHING`
	res, err := s.db.ExecContext(ctx, q, a.ProjectID, a.Type, a.Name, a.Size, cfg, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: create asset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: asset %q", ErrAlreadyExists, a.Name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: create asset id: %w", err)
	}
	a.ID = id
	a.CreatedAt = time.Unix(now.Unix(), 0)
	return &a, nil
}

// GetAssetByName returns the project's asset with the given name or ErrNotFound.
func (s *SQLiteStore) GetAssetByName(ctx context.Context, projectRowID int64, name string) (*Asset, error) {
	const q = `SELECT id, asset_project_id, asset_type, asset_name, asset_size, asset_config, created_at
FROM assets WHERE asset_project_id = ? AND asset_name = ?`
	a, err := scanAsset(s.db.QueryRowContext(ctx, q, projectRowID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: asset %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get asset: %w", err)
	}
	return a, nil
}

// ListAssets returns the project's assets of the given type ordered by id.
func (s *SQLiteStore) ListAssets(ctx context.Context, projectRowID int64, assetType string) ([]Asset, error) {
	const q = `SELECT id, asset_project_id, asset_type, asset_name, asset_size, asset_config, created_at
FROM assets WHERE asset_project_id = ? AND asset_type = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, projectRowID, assetType)
	if err != nil {
		return nil, fmt.Errorf("store: list assets: %w", err)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list assets scan: %w", err)
		}
		assets = append(assets, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list assets rows: %w", err)
	}
	return assets, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(r rowScanner) (*Asset, error) {
	var a Asset
	var cfg sql.NullString
	var ts int64
	if err := r.Scan(&a.ID, &a.ProjectID, &a.Type, &a.Name, &a.Size, &cfg, &ts); err != nil {
		return nil, err
	}
	if cfg.Valid && cfg.String != "" {
		if err := json.Unmarshal([]byte(cfg.String), &a.Config); err != nil {
			return nil, fmt.Errorf("decode asset config: %w", err)
		}
	}
	a.CreatedAt = time.Unix(ts, 0)
	return &a, nil
}

// encodeJSON marshals v, mapping nil maps to SQL NULL.
func encodeJSON(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
