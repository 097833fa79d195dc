package vectordb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/ragindex/internal/config"
)

func TestVectorCodecRoundTrip(t *testing.T) {
	t.Parallel()
	in := []float32{0, 1.5, -2.25, 3.4028235e38}
	blob := encodeVector(in)
	assert.Len(t, blob, 16)
	assert.Equal(t, in, decodeVector(blob))
}

func TestSimilarity(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 1.0, similarity(DistanceCosine, []float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 0.0, similarity(DistanceCosine, []float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 2.0, similarity(DistanceDot, []float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.Zero(t, similarity(DistanceCosine, []float32{0, 0}, []float32{1, 0}))
	assert.Zero(t, similarity(DistanceCosine, []float32{1}, []float32{1, 0}))
}

func TestTopK(t *testing.T) {
	t.Parallel()
	got := topK([]SearchResult{{ID: 3, Score: 0.5}, {ID: 1, Score: 0.9}, {ID: 2, Score: 0.5}}, 2)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(2), got[1].ID, "ties break by id")
}

func TestNormalizeMetadata(t *testing.T) {
	t.Parallel()
	m, err := normalizeMetadata(map[string]any{"order": 3, "tags": []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, float64(3), m["order"])
	assert.Equal(t, []any{"a"}, m["tags"])

	empty, err := normalizeMetadata(nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
}

func TestValidateBatch(t *testing.T) {
	t.Parallel()
	ok := testBatch(3, 1)
	assert.NoError(t, validateBatch(ok))

	noIDs := testBatch(3, 1)
	noIDs.IDs = nil
	assert.NoError(t, validateBatch(noIDs))
	assert.Equal(t, int64(2), noIDs.Record(2).ID, "nil ids default to position")

	badTexts := testBatch(3, 1)
	badTexts.Texts = badTexts.Texts[:1]
	assert.ErrorIs(t, validateBatch(badTexts), ErrValidation)

	badMeta := testBatch(3, 1)
	badMeta.Metadata = badMeta.Metadata[:2]
	assert.ErrorIs(t, validateBatch(badMeta), ErrValidation)
}

func TestSubBatches(t *testing.T) {
	t.Parallel()
	var spans [][2]int
	err := subBatches(7, 3, func(start, end int) error {
		spans = append(spans, [2]int{start, end})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 3}, {3, 6}, {6, 7}}, spans)

	calls := 0
	boom := errors.New("boom")
	err = subBatches(7, 3, func(int, int) error { calls++; return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "stops at first failure")
}

func TestCollectionName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "collection_768_p1", CollectionName(768, "p1"))
	assert.Equal(t, "collection_3_abc", CollectionName(3, " abc "))
}

func TestParseDistance(t *testing.T) {
	t.Parallel()
	d, err := ParseDistance("")
	require.NoError(t, err)
	assert.Equal(t, DistanceCosine, d)
	d, err = ParseDistance("DOT")
	require.NoError(t, err)
	assert.Equal(t, DistanceDot, d)
	_, err = ParseDistance("euclid")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Parallel()
	s, err := New(config.VectorDBConfig{Backend: "badger", Distance: "cosine", Badger: config.BadgerConfig{InMemory: true}}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, s)

	s, err = New(config.VectorDBConfig{Backend: "qdrant", Distance: "dot"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "qdrant", s.Name())

	_, err = New(config.VectorDBConfig{Backend: "pgvector"}, nil)
	assert.Error(t, err, "pgvector needs a DSN")

	_, err = New(config.VectorDBConfig{Backend: "chroma"}, nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestPGIdentifiers(t *testing.T) {
	t.Parallel()
	table := pgTableName("collection_768_p1")
	assert.Equal(t, "pgvector_collection_768_p1", table)
	assert.Equal(t, "pgvector_collection_768_p1_vector_idx", pgIndexName(table))
	assert.Equal(t, `"we""ird"`, quoteIdent(`we"ird`))
}
