package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

const (
	// pgTablePrefix is prepended to collection names to form table names.
	pgTablePrefix = "pgvector_"

	// pgMaxIdentifier is Postgres' NAMEDATALEN-1; longer names are truncated
	// by the server.
	pgMaxIdentifier = 63
)

// PGVectorConfig holds Postgres connection settings.
type PGVectorConfig struct {
	// DSN is the Postgres connection string.
	DSN string

	// MaxConns caps the pool size (0 = pgx default).
	MaxConns int
}

// PGVectorStore implements Store on Postgres with the pgvector extension.
// Each collection is a table; all sub-batches of an upsert share one
// transaction. Below the index threshold searches are a sequential scan;
// once the table reaches it an HNSW index is created.
type PGVectorStore struct {
	// cfg holds the connection settings.
	cfg PGVectorConfig

	// opts holds the shared backend options.
	opts options

	// pool is the connection pool, nil until Connect.
	pool *pgxpool.Pool
}

var _ Store = (*PGVectorStore)(nil)

// NewPGVectorStore returns an unconnected PGVectorStore.
func NewPGVectorStore(cfg PGVectorConfig, opts ...Option) *PGVectorStore {
	return &PGVectorStore{cfg: cfg, opts: buildOptions(opts)}
}

// Name returns "pgvector".
func (s *PGVectorStore) Name() string { return "pgvector" }

// Connect installs the vector extension and opens the pool. A concurrent
// installer winning the race is treated as success.
func (s *PGVectorStore) Connect(ctx context.Context) error {
	if s.pool != nil {
		return nil
	}

	conn, err := pgx.Connect(ctx, s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("pgvector: connect: %w", err)
	}
	_, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	_ = conn.Close(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || (pgErr.Code != "23505" && pgErr.Code != "42710") {
			return fmt.Errorf("pgvector: create extension: %w", err)
		}
		s.opts.logger.Info("pgvector: extension already installed; skipping creation")
	}

	pcfg, err := pgxpool.ParseConfig(s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("pgvector: parse dsn: %w", err)
	}
	if s.cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(s.cfg.MaxConns)
	}
	pcfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return fmt.Errorf("pgvector: open pool: %w", err)
	}
	s.pool = pool
	return nil
}

// Disconnect closes the pool.
func (s *PGVectorStore) Disconnect() error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *PGVectorStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("pgvector: not connected")
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pgvector: ping: %w", err)
	}
	return nil
}

// CollectionExists reports whether the collection's table exists.
func (s *PGVectorStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	if s.pool == nil {
		return false, errors.New("pgvector: not connected")
	}
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = current_schema() AND tablename = $1)`,
		pgTableName(name)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("pgvector: check table %s: %w", name, err)
	}
	return ok, nil
}

// ListCollections returns the collections backed by pgvector_ tables.
func (s *PGVectorStore) ListCollections(ctx context.Context) ([]string, error) {
	if s.pool == nil {
		return nil, errors.New("pgvector: not connected")
	}
	rows, err := s.pool.Query(ctx,
		`SELECT tablename FROM pg_tables WHERE schemaname = current_schema() AND tablename LIKE 'pgvector\_%' ORDER BY tablename`)
	if err != nil {
		return nil, fmt.Errorf("pgvector: list tables: %w", err)
	}
	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("pgvector: list tables: %w", err)
	}
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = strings.TrimPrefix(t, pgTablePrefix)
	}
	return names, nil
}

// GetCollectionInfo describes the collection or returns ErrCollectionNotFound.
func (s *PGVectorStore) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	table := pgTableName(name)
	var (
		owner string
		size  int
		count int64
	)
	err = s.pool.QueryRow(ctx, `SELECT tableowner FROM pg_tables WHERE schemaname = current_schema() AND tablename = $1`, table).Scan(&owner)
	if err != nil {
		return nil, fmt.Errorf("pgvector: table info %s: %w", name, err)
	}
	// For the vector type atttypmod holds the declared dimensionality.
	err = s.pool.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute WHERE attrelid = $1::text::regclass AND attname = 'vector'`,
		quoteIdent(table)).Scan(&size)
	if err != nil {
		return nil, fmt.Errorf("pgvector: vector size of %s: %w", name, err)
	}
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&count); err != nil {
		return nil, fmt.Errorf("pgvector: count %s: %w", name, err)
	}
	indexed, err := s.indexExists(ctx, table)
	if err != nil {
		return nil, err
	}

	return &CollectionInfo{
		Name:        name,
		Backend:     s.Name(),
		VectorSize:  size,
		Distance:    s.opts.distance,
		RecordCount: count,
		Indexed:     indexed,
		Details: map[string]any{
			"table":           table,
			"table_owner":     owner,
			"index_name":      pgIndexName(table),
			"index_threshold": s.opts.indexThreshold,
		},
	}, nil
}

// CreateCollection creates the collection's table, dropping it first when
// reset is set.
func (s *PGVectorStore) CreateCollection(ctx context.Context, name string, size int, reset bool) (bool, error) {
	if size <= 0 {
		return false, fmt.Errorf("%w: vector size must be positive, got %d", ErrValidation, size)
	}
	table := pgTableName(name)
	if len(pgIndexName(table)) > pgMaxIdentifier {
		return false, fmt.Errorf("%w: collection name %q is too long for a Postgres identifier", ErrValidation, name)
	}
	if reset {
		if _, err := s.DeleteCollection(ctx, name); err != nil {
			return false, err
		}
	}

	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id       bigserial PRIMARY KEY,
    text     text,
    vector   vector(%d),
    metadata jsonb NOT NULL DEFAULT '{}',
    chunk_id bigint NOT NULL UNIQUE
)`, quoteIdent(table), size)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return false, fmt.Errorf("pgvector: create table %s: %w", table, err)
	}
	s.opts.logger.Info("pgvector: collection created", slog.String("collection", name), slog.Int("size", size))
	return true, nil
}

// DeleteCollection drops the collection's table if it exists.
func (s *PGVectorStore) DeleteCollection(ctx context.Context, name string) (bool, error) {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil || !exists {
		return false, err
	}
	if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+quoteIdent(pgTableName(name))); err != nil {
		return false, fmt.Errorf("pgvector: drop table %s: %w", name, err)
	}
	s.opts.logger.Info("pgvector: collection deleted", slog.String("collection", name))
	return true, nil
}

// UpsertOne writes a single record.
func (s *PGVectorStore) UpsertOne(ctx context.Context, name string, rec Record) (bool, error) {
	return s.UpsertBatch(ctx, name, Batch{
		Texts:    []string{rec.Text},
		Vectors:  [][]float32{rec.Vector},
		Metadata: []map[string]any{rec.Metadata},
		IDs:      []int64{rec.ID},
	}, 1)
}

// UpsertBatch writes every sub-batch inside one transaction, keyed by
// chunk_id, so a failing sub-batch leaves none of the call's rows visible.
// The index policy is checked once after the commit.
func (s *PGVectorStore) UpsertBatch(ctx context.Context, name string, b Batch, batchSize int) (bool, error) {
	if err := validateBatch(b); err != nil {
		return false, err
	}
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return false, err
	}
	if !exists {
		s.opts.logger.Error("pgvector: upsert into missing collection", slog.String("collection", name))
		return false, nil
	}

	table := pgTableName(name)
	stmt := fmt.Sprintf(`INSERT INTO %s (text, vector, metadata, chunk_id) VALUES ($1, $2, $3, $4)
ON CONFLICT (chunk_id) DO UPDATE SET text = EXCLUDED.text, vector = EXCLUDED.vector, metadata = EXCLUDED.metadata`,
		quoteIdent(table))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("pgvector: upsert into %s: begin: %w", name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = subBatches(b.Len(), batchSize, func(start, end int) error {
		batch := &pgx.Batch{}
		for i := start; i < end; i++ {
			rec := b.Record(i)
			meta, err := normalizeMetadata(rec.Metadata)
			if err != nil {
				return err
			}
			metaJSON, err := json.Marshal(meta)
			if err != nil {
				return fmt.Errorf("encode metadata of record %d: %w", rec.ID, err)
			}
			batch.Queue(stmt, rec.Text, pgvector.NewVector(rec.Vector), string(metaJSON), rec.ID)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return false, fmt.Errorf("pgvector: upsert into %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("pgvector: upsert into %s: commit: %w", name, err)
	}
	if _, err := s.ensureIndex(ctx, table); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteRecords removes the records with the given ids. Missing ids and a
// missing collection are not errors.
func (s *PGVectorStore) DeleteRecords(ctx context.Context, name string, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	exists, err := s.CollectionExists(ctx, name)
	if err != nil || !exists {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE chunk_id = ANY($1)", quoteIdent(pgTableName(name))), ids)
	if err != nil {
		return 0, fmt.Errorf("pgvector: delete records from %s: %w", name, err)
	}
	return int(tag.RowsAffected()), nil
}

// SearchByVector orders by the distance operator so the HNSW index is used
// when present.
func (s *PGVectorStore) SearchByVector(ctx context.Context, name string, vector []float32, limit int) ([]SearchResult, error) {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil || !exists {
		return nil, err
	}
	limit = searchLimit(limit)

	var q string
	if s.opts.distance == DistanceDot {
		q = `SELECT chunk_id, text, metadata, (vector <#> $1) * -1 AS score FROM %s ORDER BY vector <#> $1 LIMIT $2`
	} else {
		q = `SELECT chunk_id, text, metadata, 1 - (vector <=> $1) AS score FROM %s ORDER BY vector <=> $1 LIMIT $2`
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(q, quoteIdent(pgTableName(name))), pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search %s: %w", name, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			r    SearchResult
			text *string
			meta []byte
			sc   float64
		)
		if err := rows.Scan(&r.ID, &text, &meta, &sc); err != nil {
			return nil, fmt.Errorf("pgvector: search scan: %w", err)
		}
		if text != nil {
			r.Text = *text
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, fmt.Errorf("pgvector: decode metadata of %d: %w", r.ID, err)
			}
		}
		r.Score = float32(sc)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: search rows: %w", err)
	}
	return results, nil
}

// EnsureIndex creates the collection's HNSW index when the table has reached
// the threshold and the index does not exist yet. It reports whether an index
// was created.
func (s *PGVectorStore) EnsureIndex(ctx context.Context, name string) (bool, error) {
	return s.ensureIndex(ctx, pgTableName(name))
}

// DropIndex removes the collection's similarity index if present.
func (s *PGVectorStore) DropIndex(ctx context.Context, name string) error {
	table := pgTableName(name)
	if _, err := s.pool.Exec(ctx, "DROP INDEX IF EXISTS "+quoteIdent(pgIndexName(table))); err != nil {
		return fmt.Errorf("pgvector: drop index of %s: %w", name, err)
	}
	return nil
}

// ResetIndex drops and, if the threshold is met, recreates the index.
func (s *PGVectorStore) ResetIndex(ctx context.Context, name string) (bool, error) {
	if err := s.DropIndex(ctx, name); err != nil {
		return false, err
	}
	return s.EnsureIndex(ctx, name)
}

func (s *PGVectorStore) ensureIndex(ctx context.Context, table string) (bool, error) {
	exists, err := s.indexExists(ctx, table)
	if err != nil || exists {
		return false, err
	}

	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&count); err != nil {
		return false, fmt.Errorf("pgvector: count %s: %w", table, err)
	}
	if count < int64(s.opts.indexThreshold) {
		return false, nil
	}

	ops := "vector_cosine_ops"
	if s.opts.distance == DistanceDot {
		ops = "vector_ip_ops"
	}
	index := pgIndexName(table)
	s.opts.logger.Info("pgvector: creating vector index", slog.String("table", table), slog.Int64("records", count))
	_, err = s.pool.Exec(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (vector %s)",
		quoteIdent(index), quoteIdent(table), ops))
	if err != nil {
		return false, fmt.Errorf("pgvector: create index on %s: %w", table, err)
	}
	return true, nil
}

func (s *PGVectorStore) indexExists(ctx context.Context, table string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE schemaname = current_schema() AND tablename = $1 AND indexname = $2)`,
		table, pgIndexName(table)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("pgvector: check index on %s: %w", table, err)
	}
	return ok, nil
}

func pgTableName(collection string) string {
	return pgTablePrefix + collection
}

func pgIndexName(table string) string {
	return table + "_vector_idx"
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
