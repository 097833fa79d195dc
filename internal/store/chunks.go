package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Chunk is an ordered slice of an asset's text, the unit indexed into the
// vector store. ID doubles as the vector store record id.
type Chunk struct {
	// ID is the persisted row id, assigned on insert.
	ID int64
	// Text is the chunk content.
	Text string
	// Metadata is free-form loader/splitter metadata.
	Metadata map[string]any
	// Order is the 1-based position of the chunk within its asset.
	Order int
	// ProjectID is the owning project's row id.
	ProjectID int64
	// AssetID is the owning asset's row id.
	AssetID int64
}

// InsertChunks persists chunks in a single transaction and returns how many
// were written. A failure leaves none of them visible.
func (s *SQLiteStore) InsertChunks(ctx context.Context, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	var n int
	err := s.withTx(ctx, func(q querier) error {
		var err error
		n, err = insertChunks(ctx, q, chunks)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ReplaceAssetChunks deletes every chunk of the asset and inserts chunks in
// their place, all inside one transaction. Re-running file processing for
// the same asset therefore never duplicates chunks.
func (s *SQLiteStore) ReplaceAssetChunks(ctx context.Context, assetID int64, chunks []Chunk) (deleted, inserted int, err error) {
	err = s.withTx(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, `DELETE FROM chunks WHERE chunk_asset_id = ?`, assetID)
		if err != nil {
			return fmt.Errorf("store: replace chunks delete: %w", err)
		}
		d, _ := res.RowsAffected()
		deleted = int(d)

		for i := range chunks {
			if chunks[i].AssetID != assetID {
				return fmt.Errorf("store: replace chunks: chunk %d belongs to asset %d, not %d", i, chunks[i].AssetID, assetID)
			}
		}
		inserted, err = insertChunks(ctx, q, chunks)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return deleted, inserted, nil
}

// AssetChunkIDs returns the ids of the asset's chunks in id order.
func (s *SQLiteStore) AssetChunkIDs(ctx context.Context, assetID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks WHERE chunk_asset_id = ? ORDER BY id`, assetID)
	if err != nil {
		return nil, fmt.Errorf("store: asset chunk ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: asset chunk ids scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: asset chunk ids rows: %w", err)
	}
	return ids, nil
}

func insertChunks(ctx context.Context, q querier, chunks []Chunk) (int, error) {
	const ins = `INSERT INTO chunks (chunk_text, chunk_metadata, chunk_order, chunk_project_id, chunk_asset_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().Unix()
	for i, c := range chunks {
		if c.Order < 1 {
			return 0, fmt.Errorf("store: insert chunks: chunk %d has order %d, want >= 1", i, c.Order)
		}
		meta, err := encodeJSON(c.Metadata)
		if err != nil {
			return 0, fmt.Errorf("store: insert chunks: encode metadata: %w", err)
		}
		if _, err := q.ExecContext(ctx, ins, c.Text, meta, c.Order, c.ProjectID, c.AssetID, now, now); err != nil {
			return 0, fmt.Errorf("store: insert chunks: %w", err)
		}
	}
	return len(chunks), nil
}

// GetPage returns the 1-based page of a project's chunks ordered by id.
// An empty slice signals the end of the sequence.
func (s *SQLiteStore) GetPage(ctx context.Context, projectRowID int64, pageNumber, pageSize int) ([]Chunk, error) {
	if pageNumber < 1 {
		return nil, fmt.Errorf("store: get page: page number must be >= 1, got %d", pageNumber)
	}
	if pageSize < 1 {
		return nil, fmt.Errorf("store: get page: page size must be >= 1, got %d", pageSize)
	}

	const q = `SELECT id, chunk_text, chunk_metadata, chunk_order, chunk_project_id, chunk_asset_id
FROM chunks WHERE chunk_project_id = ? ORDER BY id LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, projectRowID, pageSize, (pageNumber-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("store: get page: %w", err)
	}
	defer rows.Close()

	chunks := make([]Chunk, 0, pageSize)
	for rows.Next() {
		var c Chunk
		var meta sql.NullString
		if err := rows.Scan(&c.ID, &c.Text, &meta, &c.Order, &c.ProjectID, &c.AssetID); err != nil {
			return nil, fmt.Errorf("store: get page scan: %w", err)
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &c.Metadata); err != nil {
				return nil, fmt.Errorf("store: get page decode metadata of chunk %d: %w", c.ID, err)
			}
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get page rows: %w", err)
	}
	return chunks, nil
}

// CountTotal returns the number of chunks owned by the project.
func (s *SQLiteStore) CountTotal(ctx context.Context, projectRowID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE chunk_project_id = ?`, projectRowID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count chunks: %w", err)
	}
	return n, nil
}

// DeleteAllForProject removes every chunk owned by the project.
func (s *SQLiteStore) DeleteAllForProject(ctx context.Context, projectRowID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE chunk_project_id = ?`, projectRowID)
	if err != nil {
		return 0, fmt.Errorf("store: delete chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete chunks count: %w", err)
	}
	return int(n), nil
}
