package vectordb

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var collectionSeq atomic.Int64

// uniqueCollection returns a collection name no other test uses.
func uniqueCollection(dim int) string {
	return CollectionName(dim, fmt.Sprintf("t%d", collectionSeq.Add(1)))
}

// testBatch builds n records with 3-dimensional vectors and ids starting at
// firstID.
func testBatch(n int, firstID int64) Batch {
	b := Batch{}
	for i := range n {
		b.Texts = append(b.Texts, fmt.Sprintf("text %d", i))
		b.Vectors = append(b.Vectors, []float32{float32(i + 1), 1, 0})
		b.Metadata = append(b.Metadata, map[string]any{"source": "doc.txt"})
		b.IDs = append(b.IDs, firstID+int64(i))
	}
	return b
}

// runStoreContract exercises the behaviour every backend must share. The
// store returned by newStore must already be connected.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("create is idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		name := uniqueCollection(3)

		created, err := s.CreateCollection(ctx, name, 3, false)
		require.NoError(t, err)
		assert.True(t, created)

		ok, err := s.UpsertBatch(ctx, name, testBatch(2, 1), 50)
		require.NoError(t, err)
		require.True(t, ok)

		created, err = s.CreateCollection(ctx, name, 3, false)
		require.NoError(t, err)
		assert.False(t, created)

		info, err := s.GetCollectionInfo(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, 3, info.VectorSize)
		assert.EqualValues(t, 2, info.RecordCount)
	})

	t.Run("reset yields an empty collection of the same size", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		name := uniqueCollection(3)

		_, err := s.CreateCollection(ctx, name, 3, false)
		require.NoError(t, err)
		ok, err := s.UpsertBatch(ctx, name, testBatch(5, 1), 50)
		require.NoError(t, err)
		require.True(t, ok)

		created, err := s.CreateCollection(ctx, name, 3, true)
		require.NoError(t, err)
		assert.True(t, created)

		info, err := s.GetCollectionInfo(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, 3, info.VectorSize)
		assert.Zero(t, info.RecordCount)
	})

	t.Run("upsert into missing collection returns false", func(t *testing.T) {
		s := newStore(t)
		ok, err := s.UpsertBatch(context.Background(), uniqueCollection(3), testBatch(1, 1), 50)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.UpsertOne(context.Background(), uniqueCollection(3), Record{ID: 1, Text: "x", Vector: []float32{1, 0, 0}})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("misaligned batch is rejected without writes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		name := uniqueCollection(3)
		_, err := s.CreateCollection(ctx, name, 3, false)
		require.NoError(t, err)

		b := testBatch(3, 1)
		b.IDs = b.IDs[:2]
		ok, err := s.UpsertBatch(ctx, name, b, 1)
		assert.ErrorIs(t, err, ErrValidation)
		assert.False(t, ok)

		info, err := s.GetCollectionInfo(ctx, name)
		require.NoError(t, err)
		assert.Zero(t, info.RecordCount)
	})

	t.Run("sub-batches write every record and upserts replace", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		name := uniqueCollection(3)
		_, err := s.CreateCollection(ctx, name, 3, false)
		require.NoError(t, err)

		ok, err := s.UpsertBatch(ctx, name, testBatch(7, 100), 3)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.UpsertOne(ctx, name, Record{ID: 100, Text: "replaced", Vector: []float32{1, 1, 0}})
		require.NoError(t, err)
		require.True(t, ok)

		info, err := s.GetCollectionInfo(ctx, name)
		require.NoError(t, err)
		assert.EqualValues(t, 7, info.RecordCount)
	})

	t.Run("search orders by similarity", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		name := uniqueCollection(3)
		_, err := s.CreateCollection(ctx, name, 3, false)
		require.NoError(t, err)

		ok, err := s.UpsertBatch(ctx, name, Batch{
			Texts:    []string{"east", "north", "mostly east"},
			Vectors:  [][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}},
			Metadata: []map[string]any{{"source": "a"}, {"source": "b"}, {"source": "c"}},
			IDs:      []int64{10, 20, 30},
		}, 50)
		require.NoError(t, err)
		require.True(t, ok)

		hits, err := s.SearchByVector(ctx, name, []float32{1, 0, 0}, 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, int64(10), hits[0].ID)
		assert.Equal(t, "east", hits[0].Text)
		assert.Equal(t, int64(30), hits[1].ID)
		assert.Equal(t, "c", hits[1].Metadata["source"])
		assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	})

	t.Run("search on missing or empty collection returns nil", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		hits, err := s.SearchByVector(ctx, uniqueCollection(3), []float32{1, 0, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, hits)

		name := uniqueCollection(3)
		_, err = s.CreateCollection(ctx, name, 3, false)
		require.NoError(t, err)
		hits, err = s.SearchByVector(ctx, name, []float32{1, 0, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("non-positive limit returns the default number of hits", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		name := uniqueCollection(3)
		_, err := s.CreateCollection(ctx, name, 3, false)
		require.NoError(t, err)
		ok, err := s.UpsertBatch(ctx, name, testBatch(DefaultSearchLimit+2, 1), 50)
		require.NoError(t, err)
		require.True(t, ok)

		for _, limit := range []int{0, -1} {
			hits, err := s.SearchByVector(ctx, name, []float32{1, 1, 0}, limit)
			require.NoError(t, err)
			assert.Len(t, hits, DefaultSearchLimit, "limit %d", limit)
		}
	})

	t.Run("delete records removes only the given ids", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		name := uniqueCollection(3)
		_, err := s.CreateCollection(ctx, name, 3, false)
		require.NoError(t, err)
		ok, err := s.UpsertBatch(ctx, name, testBatch(5, 1), 50)
		require.NoError(t, err)
		require.True(t, ok)

		_, err = s.DeleteRecords(ctx, name, []int64{2, 4, 99})
		require.NoError(t, err)

		info, err := s.GetCollectionInfo(ctx, name)
		require.NoError(t, err)
		assert.EqualValues(t, 3, info.RecordCount)

		hits, err := s.SearchByVector(ctx, name, []float32{1, 1, 0}, 10)
		require.NoError(t, err)
		var ids []int64
		for _, h := range hits {
			ids = append(ids, h.ID)
		}
		assert.ElementsMatch(t, []int64{1, 3, 5}, ids)

		n, err := s.DeleteRecords(ctx, uniqueCollection(3), []int64{1})
		require.NoError(t, err, "missing collection is not an error")
		assert.Zero(t, n)
	})

	t.Run("delete and list", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		name := uniqueCollection(3)
		_, err := s.CreateCollection(ctx, name, 3, false)
		require.NoError(t, err)

		names, err := s.ListCollections(ctx)
		require.NoError(t, err)
		assert.Contains(t, names, name)

		deleted, err := s.DeleteCollection(ctx, name)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = s.DeleteCollection(ctx, name)
		require.NoError(t, err)
		assert.False(t, deleted)

		exists, err := s.CollectionExists(ctx, name)
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = s.GetCollectionInfo(ctx, name)
		assert.ErrorIs(t, err, ErrCollectionNotFound)
	})
}
