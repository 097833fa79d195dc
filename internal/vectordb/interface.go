// Package vectordb defines the vector store contract used by the indexing
// pipeline and the search path, plus three implementations with different
// consistency and indexing models: Qdrant (server, gRPC), Postgres with the
// pgvector extension (relational, transactional batches, lazy HNSW index),
// and Badger (embedded single-writer key/value store, brute-force scan with a
// lazily built flat index).
//
// Every backend honours the same contract: idempotent collection creation,
// false (not an error) when writing to a missing collection, ErrValidation for
// misaligned batches with zero writes, and a nil result when searching a
// missing or empty collection.
package vectordb

import (
	"context"
)

// Distance is the similarity metric a collection is created with.
type Distance string

const (
	// DistanceCosine ranks by cosine similarity.
	DistanceCosine Distance = "cosine"
	// DistanceDot ranks by inner product.
	DistanceDot Distance = "dot"
)

// Record is a single vector with its source text and metadata.
type Record struct {
	// ID is the record id; the indexing pipeline uses the chunk row id.
	ID int64

	// Text is the source text the vector was computed from.
	Text string

	// Vector is the embedding. Its length must match the collection size.
	Vector []float32

	// Metadata is free-form JSON-compatible metadata.
	Metadata map[string]any
}

// Batch is a column-oriented set of records for UpsertBatch. Texts, Vectors,
// and (when set) Metadata and IDs are parallel slices: index i of each
// describes the same record.
type Batch struct {
	// Texts holds the source texts.
	Texts []string

	// Vectors holds the embeddings.
	Vectors [][]float32

	// Metadata is optional; nil means no metadata for any record.
	Metadata []map[string]any

	// IDs is optional; nil assigns 0..n-1.
	IDs []int64
}

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b.Vectors) }

// Record returns the i-th record of the batch.
func (b Batch) Record(i int) Record {
	r := Record{ID: int64(i), Vector: b.Vectors[i]}
	if i < len(b.Texts) {
		r.Text = b.Texts[i]
	}
	if b.IDs != nil {
		r.ID = b.IDs[i]
	}
	if b.Metadata != nil {
		r.Metadata = b.Metadata[i]
	}
	return r
}

// SearchResult is one hit of a similarity search.
type SearchResult struct {
	// ID is the record id.
	ID int64 `json:"id"`

	// Text is the stored source text.
	Text string `json:"text"`

	// Score is the similarity; higher is more similar.
	Score float32 `json:"score"`

	// Metadata is the stored metadata.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CollectionInfo describes a collection.
type CollectionInfo struct {
	// Name is the collection name.
	Name string `json:"name"`

	// Backend is the backend name (qdrant, pgvector, badger).
	Backend string `json:"backend"`

	// VectorSize is the fixed embedding dimensionality.
	VectorSize int `json:"vector_size"`

	// Distance is the collection's similarity metric.
	Distance Distance `json:"distance"`

	// RecordCount is the approximate number of stored records.
	RecordCount int64 `json:"record_count"`

	// Indexed reports whether the secondary similarity index exists.
	Indexed bool `json:"indexed"`

	// Details holds backend-specific metadata.
	Details map[string]any `json:"details,omitempty"`
}

// Store is the vector store capability. Implementations must be safe to call
// from multiple goroutines once Connect has returned.
type Store interface {
	// Connect establishes backend resources and runs idempotent bootstrap.
	Connect(ctx context.Context) error

	// Disconnect releases backend resources.
	Disconnect() error

	// Name returns the backend name, also used as the readiness label.
	Name() string

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// CollectionExists reports whether the named collection exists.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// ListCollections returns the names of all collections.
	ListCollections(ctx context.Context) ([]string, error)

	// GetCollectionInfo describes a collection or returns ErrCollectionNotFound.
	GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)

	// CreateCollection creates the collection with the given vector size.
	// With reset it drops an existing collection first. It returns false when
	// the collection already existed and was left untouched.
	CreateCollection(ctx context.Context, name string, size int, reset bool) (bool, error)

	// DeleteCollection drops the collection and reports whether it existed.
	DeleteCollection(ctx context.Context, name string) (bool, error)

	// UpsertOne writes a single record. It returns false when the collection
	// does not exist.
	UpsertOne(ctx context.Context, name string, rec Record) (bool, error)

	// UpsertBatch writes the batch in sub-batches of batchSize. It returns
	// false when the collection does not exist, and false with ErrValidation
	// when the batch's slices are misaligned.
	UpsertBatch(ctx context.Context, name string, batch Batch, batchSize int) (bool, error)

	// DeleteRecords removes the records with the given ids. Missing ids and a
	// missing collection are not errors.
	DeleteRecords(ctx context.Context, name string, ids []int64) (int, error)

	// SearchByVector returns up to limit records (DefaultSearchLimit when
	// limit is not positive) ordered by descending similarity. It returns nil
	// when the collection is missing or empty.
	SearchByVector(ctx context.Context, name string, vector []float32, limit int) ([]SearchResult, error)
}
