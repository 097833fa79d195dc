package indexing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/ragindex/internal/embedder"
	"github.com/54b3r/ragindex/internal/store"
	"github.com/54b3r/ragindex/internal/vectordb"
)

const testDim = 4

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEmbedder returns deterministic vectors and records every call.
type fakeEmbedder struct {
	mu       sync.Mutex
	calls    []int
	docTypes []embedder.DocumentType
	err      error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string, docType embedder.DocumentType) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, len(texts))
	f.docTypes = append(f.docTypes, docType)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{1, float32(len(t) % 7), 0.5, float32(i + 1)}
	}
	return out, nil
}

func (f *fakeEmbedder) Size() int { return testDim }

// countingStore records upsert batch sizes and the collection's record count
// at the time of the first upsert of a run.
type countingStore struct {
	vectordb.Store
	mu           sync.Mutex
	batches      []int
	countAtFirst []int64
	fail         bool
}

func (c *countingStore) UpsertBatch(ctx context.Context, name string, b vectordb.Batch, batchSize int) (bool, error) {
	c.mu.Lock()
	if len(c.batches) == 0 {
		info, err := c.Store.GetCollectionInfo(ctx, name)
		if err == nil {
			c.countAtFirst = append(c.countAtFirst, info.RecordCount)
		}
	}
	c.batches = append(c.batches, b.Len())
	c.mu.Unlock()
	if c.fail {
		return false, nil
	}
	return c.Store.UpsertBatch(ctx, name, b, batchSize)
}

func (c *countingStore) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = nil
}

type harness struct {
	store   *store.SQLiteStore
	vectors *countingStore
	emb     *fakeEmbedder
	orch    *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	bs := vectordb.NewBadgerStore("", true, vectordb.WithLogger(quietLogger()))
	require.NoError(t, bs.Connect(context.Background()))
	t.Cleanup(func() { _ = bs.Disconnect() })

	h := &harness{store: s, vectors: &countingStore{Store: bs}, emb: &fakeEmbedder{}}
	h.orch, err = New(s, h.emb, h.vectors, Config{PageSize: 50, BatchSize: 50}, quietLogger())
	require.NoError(t, err)
	return h
}

// seed stores n ordered chunks for one asset of the project.
func (h *harness) seed(t *testing.T, projectID string, n int) []int64 {
	t.Helper()
	ctx := context.Background()
	p, err := h.store.GetOrCreateProject(ctx, projectID)
	require.NoError(t, err)
	a, err := h.store.CreateAsset(ctx, store.Asset{ProjectID: p.ID, Name: "doc.txt"})
	require.NoError(t, err)
	chunks := make([]store.Chunk, n)
	for i := range n {
		chunks[i] = store.Chunk{
			Text:      fmt.Sprintf("chunk number %d", i+1),
			Metadata:  map[string]any{"source": "doc.txt"},
			Order:     i + 1,
			ProjectID: p.ID,
			AssetID:   a.ID,
		}
	}
	_, err = h.store.InsertChunks(ctx, chunks)
	require.NoError(t, err)

	var ids []int64
	for page := 1; ; page++ {
		got, err := h.store.GetPage(ctx, p.ID, page, 100)
		require.NoError(t, err)
		if len(got) == 0 {
			return ids
		}
		for _, c := range got {
			ids = append(ids, c.ID)
		}
	}
}

func TestOrchestrator_IndexesEveryPage(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ids := h.seed(t, "p1", 120)
	ctx := context.Background()

	var progress []int
	res, err := h.orch.Run(ctx, Request{ProjectID: "p1"}, func(done, total int) {
		assert.Equal(t, 120, total)
		progress = append(progress, done)
	})
	require.NoError(t, err)

	assert.Equal(t, 120, res.InsertedItemsCount)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, vectordb.CollectionName(testDim, "p1"), res.Collection)
	assert.Equal(t, []int{50, 50, 20}, h.emb.calls)
	assert.Equal(t, []int{50, 50, 20}, h.vectors.batches)
	assert.Equal(t, []int{50, 100, 120}, progress)
	for _, dt := range h.emb.docTypes {
		assert.Equal(t, embedder.Document, dt)
	}

	info, err := h.vectors.GetCollectionInfo(ctx, res.Collection)
	require.NoError(t, err)
	assert.EqualValues(t, 120, info.RecordCount)
	assert.Equal(t, testDim, info.VectorSize)

	// Record ids are the chunk ids, with order carried in metadata.
	hits, err := h.vectors.SearchByVector(ctx, res.Collection, []float32{1, 1, 0.5, 1}, 200)
	require.NoError(t, err)
	require.Len(t, hits, 120)
	got := map[int64]bool{}
	for _, hit := range hits {
		got[hit.ID] = true
		assert.Contains(t, hit.Metadata, "chunk_order")
	}
	for _, id := range ids {
		assert.True(t, got[id], "chunk %d missing from collection", id)
	}
}

func TestOrchestrator_ResetStartsFromEmptyCollection(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "p1", 120)
	ctx := context.Background()

	_, err := h.orch.Run(ctx, Request{ProjectID: "p1"}, nil)
	require.NoError(t, err)

	h.vectors.reset()
	res, err := h.orch.Run(ctx, Request{ProjectID: "p1", Reset: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 120, res.InsertedItemsCount)

	require.Len(t, h.vectors.countAtFirst, 2)
	assert.EqualValues(t, 0, h.vectors.countAtFirst[0])
	assert.EqualValues(t, 0, h.vectors.countAtFirst[1], "reset must leave an empty collection before re-indexing")
}

func TestOrchestrator_RerunWithoutResetKeepsCount(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "p1", 30)
	ctx := context.Background()

	for range 2 {
		_, err := h.orch.Run(ctx, Request{ProjectID: "p1"}, nil)
		require.NoError(t, err)
	}
	info, err := h.vectors.GetCollectionInfo(ctx, h.orch.CollectionFor("p1"))
	require.NoError(t, err)
	assert.EqualValues(t, 30, info.RecordCount)
}

func TestOrchestrator_NoChunksIsNoOp(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.orch.Run(ctx, Request{ProjectID: "empty"}, nil)
	require.NoError(t, err)
	assert.Zero(t, res.InsertedItemsCount)
	assert.Zero(t, res.Pages)
	assert.Empty(t, h.emb.calls)

	exists, err := h.vectors.CollectionExists(ctx, res.Collection)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestOrchestrator_InsertFailureStopsRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "p1", 120)
	h.vectors.fail = true

	_, err := h.orch.Run(context.Background(), Request{ProjectID: "p1"}, nil)
	require.ErrorIs(t, err, ErrVectorInsertFailed)
	assert.Equal(t, []int{50}, h.vectors.batches, "no page after the failed one may be attempted")
}

func TestOrchestrator_EmbeddingFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "p1", 10)
	boom := errors.New("model unavailable")
	h.emb.err = boom

	_, err := h.orch.Run(context.Background(), Request{ProjectID: "p1"}, nil)
	require.ErrorIs(t, err, ErrEmbeddingFailed)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, h.vectors.batches)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := New(nil, h.emb, h.vectors, Config{}, nil)
	assert.Error(t, err)
	_, err = New(h.store, nil, h.vectors, Config{}, nil)
	assert.Error(t, err)
	_, err = New(h.store, h.emb, nil, Config{}, nil)
	assert.Error(t, err)

	o, err := New(h.store, h.emb, h.vectors, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, o.cfg.PageSize)
	assert.Equal(t, 50, o.cfg.BatchSize)
}
