package vectordb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements Store backed by a Qdrant server. Qdrant builds its
// HNSW graph itself; the index threshold is handed to the server as the
// collection's indexing threshold so small collections are searched by a
// plain scan.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client, nil until Connect.
	client *qdrant.Client

	// cfg holds the resolved connection configuration.
	cfg QdrantConfig

	// opts holds the shared backend options.
	opts options
}

var _ Store = (*QdrantStore)(nil)

// Qdrant payload keys.
const (
	qdrantTextKey     = "text"
	qdrantMetadataKey = "metadata"
)

// NewQdrantStore returns an unconnected QdrantStore.
func NewQdrantStore(cfg QdrantConfig, opts ...Option) *QdrantStore {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	return &QdrantStore{cfg: cfg, opts: buildOptions(opts)}
}

// Name returns "qdrant".
func (s *QdrantStore) Name() string { return "qdrant" }

// Connect creates the gRPC client. Calling it twice is a no-op.
func (s *QdrantStore) Connect(_ context.Context) error {
	if s.client != nil {
		return nil
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   s.cfg.Host,
		Port:   s.cfg.Port,
		APIKey: s.cfg.APIKey,
		UseTLS: s.cfg.UseTLS,
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	s.client = client
	return nil
}

// Disconnect closes the gRPC connection.
func (s *QdrantStore) Disconnect() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	if err != nil {
		return fmt.Errorf("qdrant: close: %w", err)
	}
	return nil
}

// Ping runs the server health check.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return errors.New("qdrant: not connected")
	}
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// CollectionExists reports whether the named collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	if s.client == nil {
		return false, errors.New("qdrant: not connected")
	}
	ok, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	return ok, nil
}

// ListCollections returns all collection names.
func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	if s.client == nil {
		return nil, errors.New("qdrant: not connected")
	}
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("qdrant: list collections: %w", err)
	}
	return names, nil
}

// GetCollectionInfo describes the collection or returns ErrCollectionNotFound.
func (s *QdrantStore) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("qdrant: collection info %s: %w", name, err)
	}

	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	distance := DistanceCosine
	if params.GetDistance() == qdrant.Distance_Dot {
		distance = DistanceDot
	}
	return &CollectionInfo{
		Name:        name,
		Backend:     s.Name(),
		VectorSize:  int(params.GetSize()),
		Distance:    distance,
		RecordCount: int64(info.GetPointsCount()),
		Indexed:     info.GetIndexedVectorsCount() > 0,
		Details: map[string]any{
			"status":             info.GetStatus().String(),
			"segments_count":     info.GetSegmentsCount(),
			"indexed_vectors":    info.GetIndexedVectorsCount(),
			"indexing_threshold": info.GetConfig().GetOptimizerConfig().GetIndexingThreshold(),
		},
	}, nil
}

// CreateCollection creates the collection, dropping it first when reset is set.
func (s *QdrantStore) CreateCollection(ctx context.Context, name string, size int, reset bool) (bool, error) {
	if size <= 0 {
		return false, fmt.Errorf("%w: vector size must be positive, got %d", ErrValidation, size)
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

	threshold := uint64(s.opts.indexThreshold)
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(size),
			Distance: s.distance(),
		}),
		OptimizersConfig: &qdrant.OptimizersConfigDiff{IndexingThreshold: &threshold},
	})
	if err != nil {
		return false, fmt.Errorf("qdrant: failed to create collection %q: %w", name, err)
	}
	s.opts.logger.Info("qdrant: collection created", slog.String("collection", name), slog.Int("size", size))
	return true, nil
}

// DeleteCollection drops the collection if it exists.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) (bool, error) {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil || !exists {
		return false, err
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return false, fmt.Errorf("qdrant: delete collection %q: %w", name, err)
	}
	s.opts.logger.Info("qdrant: collection deleted", slog.String("collection", name))
	return true, nil
}

// UpsertOne writes a single point.
func (s *QdrantStore) UpsertOne(ctx context.Context, name string, rec Record) (bool, error) {
	return s.UpsertBatch(ctx, name, Batch{
		Texts:    []string{rec.Text},
		Vectors:  [][]float32{rec.Vector},
		Metadata: []map[string]any{rec.Metadata},
		IDs:      []int64{rec.ID},
	}, 1)
}

// UpsertBatch writes the batch as one Upsert request per sub-batch, waiting
// for each to be applied before sending the next.
func (s *QdrantStore) UpsertBatch(ctx context.Context, name string, b Batch, batchSize int) (bool, error) {
	if err := validateBatch(b); err != nil {
		return false, err
	}
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return false, err
	}
	if !exists {
		s.opts.logger.Error("qdrant: upsert into missing collection", slog.String("collection", name))
		return false, nil
	}
	for i, id := range b.IDs {
		if id < 0 {
			return false, fmt.Errorf("%w: record %d has negative id %d", ErrValidation, i, id)
		}
	}

	points := make([]*qdrant.PointStruct, b.Len())
	for i := range points {
		rec := b.Record(i)
		meta, err := normalizeMetadata(rec.Metadata)
		if err != nil {
			return false, err
		}
		payload, err := qdrant.TryValueMap(map[string]any{
			qdrantTextKey:     rec.Text,
			qdrantMetadataKey: meta,
		})
		if err != nil {
			return false, fmt.Errorf("%w: payload of record %d: %v", ErrValidation, rec.ID, err)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(rec.ID)),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: payload,
		}
	}

	wait := true
	err = subBatches(len(points), batchSize, func(start, end int) error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           &wait,
			Points:         points[start:end],
		})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return true, nil
}

// DeleteRecords removes the points with the given ids and waits for the
// deletion to apply. Qdrant does not report which ids existed, so the count
// is the number of ids requested.
func (s *QdrantStore) DeleteRecords(ctx context.Context, name string, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	exists, err := s.CollectionExists(ctx, name)
	if err != nil || !exists {
		return 0, err
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		if id < 0 {
			return 0, fmt.Errorf("%w: negative record id %d", ErrValidation, id)
		}
		pointIDs = append(pointIDs, qdrant.NewIDNum(uint64(id)))
	}
	wait := true
	if _, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	}); err != nil {
		return 0, fmt.Errorf("qdrant: delete points from %q: %w", name, err)
	}
	return len(ids), nil
}

// SearchByVector runs a nearest-neighbour query.
func (s *QdrantStore) SearchByVector(ctx context.Context, name string, vector []float32, limit int) ([]SearchResult, error) {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil || !exists {
		return nil, err
	}
	limit = searchLimit(limit)
	l := uint64(limit)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &l,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		r := SearchResult{
			ID:    int64(h.GetId().GetNum()),
			Score: h.GetScore(),
		}
		if p := h.GetPayload(); p != nil {
			r.Text = p[qdrantTextKey].GetStringValue()
			if m, ok := fromQdrantValue(p[qdrantMetadataKey]).(map[string]any); ok {
				r.Metadata = m
			}
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *QdrantStore) distance() qdrant.Distance {
	if s.opts.distance == DistanceDot {
		return qdrant.Distance_Dot
	}
	return qdrant.Distance_Cosine
}

// fromQdrantValue converts a payload value back into a generic Go value.
func fromQdrantValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(k.StructValue.GetFields()))
		for key, f := range k.StructValue.GetFields() {
			out[key] = fromQdrantValue(f)
		}
		return out
	case *qdrant.Value_ListValue:
		out := make([]any, 0, len(k.ListValue.GetValues()))
		for _, e := range k.ListValue.GetValues() {
			out = append(out, fromQdrantValue(e))
		}
		return out
	default:
		return nil
	}
}
