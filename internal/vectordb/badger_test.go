package vectordb

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMemoryBadger(t *testing.T, opts ...Option) *BadgerStore {
	t.Helper()
	s := NewBadgerStore("", true, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect() })
	return s
}

func TestBadgerStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return newMemoryBadger(t) })
}

func TestBadgerStore_FlatIndexAfterThreshold(t *testing.T) {
	t.Parallel()
	s := newMemoryBadger(t, WithIndexThreshold(5))
	ctx := context.Background()
	name := uniqueCollection(3)
	_, err := s.CreateCollection(ctx, name, 3, false)
	require.NoError(t, err)

	ok, err := s.UpsertBatch(ctx, name, testBatch(4, 1), 2)
	require.NoError(t, err)
	require.True(t, ok)
	info, err := s.GetCollectionInfo(ctx, name)
	require.NoError(t, err)
	assert.False(t, info.Indexed, "below threshold searches scan")

	scanHits, err := s.SearchByVector(ctx, name, []float32{4, 1, 0}, 3)
	require.NoError(t, err)

	ok, err = s.UpsertBatch(ctx, name, testBatch(1, 5), 2)
	require.NoError(t, err)
	require.True(t, ok)
	info, err = s.GetCollectionInfo(ctx, name)
	require.NoError(t, err)
	assert.True(t, info.Indexed, "index built once threshold is reached")

	indexHits, err := s.SearchByVector(ctx, name, []float32{4, 1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, indexHits, 3)
	assert.Equal(t, scanHits[0].ID, indexHits[0].ID)
	assert.Equal(t, scanHits[0].Text, indexHits[0].Text)

	// A redundant index check is a no-op.
	require.NoError(t, s.ensureIndex(name, 3))
}

func TestBadgerStore_IndexUpdatedInPlace(t *testing.T) {
	t.Parallel()
	s := newMemoryBadger(t, WithIndexThreshold(3))
	ctx := context.Background()
	name := uniqueCollection(3)
	_, err := s.CreateCollection(ctx, name, 3, false)
	require.NoError(t, err)

	ok, err := s.UpsertBatch(ctx, name, testBatch(4, 1), 2)
	require.NoError(t, err)
	require.True(t, ok)
	s.idxMu.RLock()
	idx := s.indexes[name]
	s.idxMu.RUnlock()
	require.NotNil(t, idx)

	// id 2 is overwritten, id 9 is new.
	more := Batch{
		Texts:   []string{"moved", "added"},
		Vectors: [][]float32{{100, 1, 0}, {50, 1, 0}},
		IDs:     []int64{2, 9},
	}
	ok, err = s.UpsertBatch(ctx, name, more, 1)
	require.NoError(t, err)
	require.True(t, ok)

	s.idxMu.RLock()
	after := s.indexes[name]
	s.idxMu.RUnlock()
	assert.Same(t, idx, after, "index is not rebuilt")
	assert.Len(t, after.ids, 5)

	hits, err := s.SearchByVector(ctx, name, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, int64(2), hits[0].ID)
	assert.Equal(t, "moved", hits[0].Text)
	assert.Equal(t, int64(9), hits[1].ID)

	n, err := s.DeleteRecords(ctx, name, []int64{2, 77})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, after.ids, 4)

	hits, err = s.SearchByVector(ctx, name, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(9), hits[0].ID)
}

func TestBadgerStore_ConcurrentDeleteCollection(t *testing.T) {
	t.Parallel()
	s := newMemoryBadger(t)
	ctx := context.Background()
	name := uniqueCollection(3)
	_, err := s.CreateCollection(ctx, name, 3, false)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		deleted atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.DeleteCollection(ctx, name)
			assert.NoError(t, err)
			if ok {
				deleted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), deleted.Load(), "exactly one caller deletes the collection")
}

func TestBadgerStore_RejectsWrongVectorSize(t *testing.T) {
	t.Parallel()
	s := newMemoryBadger(t)
	ctx := context.Background()
	name := uniqueCollection(3)
	_, err := s.CreateCollection(ctx, name, 3, false)
	require.NoError(t, err)

	ok, err := s.UpsertOne(ctx, name, Record{ID: 1, Text: "x", Vector: []float32{1, 2}})
	assert.ErrorIs(t, err, ErrValidation)
	assert.False(t, ok)

	_, err = s.SearchByVector(ctx, name, []float32{1}, 1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBadgerStore_DotDistance(t *testing.T) {
	t.Parallel()
	s := newMemoryBadger(t, WithDistance(DistanceDot))
	ctx := context.Background()
	name := uniqueCollection(2)
	_, err := s.CreateCollection(ctx, name, 2, false)
	require.NoError(t, err)

	ok, err := s.UpsertBatch(ctx, name, Batch{
		Texts:   []string{"short", "long"},
		Vectors: [][]float32{{1, 0}, {3, 0}},
	}, 10)
	require.NoError(t, err)
	require.True(t, ok)

	hits, err := s.SearchByVector(ctx, name, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "long", hits[0].Text, "dot product favours magnitude")
	assert.InDelta(t, 3.0, hits[0].Score, 1e-6)

	info, err := s.GetCollectionInfo(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, DistanceDot, info.Distance)
}

func TestBadgerStore_PersistsAcrossReconnect(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	s := NewBadgerStore(dir, false, WithLogger(quietLogger()))
	require.NoError(t, s.Connect(ctx))
	name := uniqueCollection(3)
	_, err := s.CreateCollection(ctx, name, 3, false)
	require.NoError(t, err)
	_, err = s.UpsertBatch(ctx, name, testBatch(3, 1), 10)
	require.NoError(t, err)
	require.NoError(t, s.Disconnect())

	reopened := NewBadgerStore(dir, false, WithLogger(quietLogger()))
	require.NoError(t, reopened.Connect(ctx))
	t.Cleanup(func() { _ = reopened.Disconnect() })

	info, err := reopened.GetCollectionInfo(ctx, name)
	require.NoError(t, err)
	assert.EqualValues(t, 3, info.RecordCount)
}

func TestBadgerStore_NotConnected(t *testing.T) {
	t.Parallel()
	s := NewBadgerStore("", true)
	assert.Error(t, s.Ping(context.Background()))
	_, err := s.CollectionExists(context.Background(), "c")
	assert.Error(t, err)
}

func TestBadgerStore_RejectsSlashInName(t *testing.T) {
	t.Parallel()
	s := newMemoryBadger(t)
	_, err := s.CreateCollection(context.Background(), "a/b", 3, false)
	assert.ErrorIs(t, err, ErrValidation)
}
