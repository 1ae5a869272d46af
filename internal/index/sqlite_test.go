package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

func newTestIndex(t *testing.T, dims int) *SQLiteIndex {
	t.Helper()
	idx, err := OpenSQLite(":memory:", dims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func testDoc(id, filename string) retrieval.Document {
	return retrieval.Document{
		ID:        id,
		Filename:  filename,
		RawText:   "raw text of " + filename,
		WordCount: 4,
		CreatedAt: time.Now(),
	}
}

func testChunk(seq int, text string) retrieval.Chunk {
	return retrieval.Chunk{Sequence: seq, Text: text, StartOffset: 0, EndOffset: len(text)}
}

func TestSQLiteIndex_EmptyQueryReturnsEmpty(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t, 3)

	results, err := idx.Query(context.Background(), []float32{1, 0, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSQLiteIndex_RoundTrip(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t, 3)
	ctx := context.Background()

	doc := testDoc("doc-1", "notes.txt")
	err := idx.InsertDocument(ctx, doc,
		[]retrieval.Chunk{testChunk(0, "alpha"), testChunk(1, "beta")},
		[][]float32{{1, 0, 0}, {0, 1, 0}})
	require.NoError(t, err)

	// Querying with an identical vector should return that chunk first at
	// distance ~0.
	results, err := idx.Query(ctx, []float32{0, 1, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "beta", results[0].Chunk.Text)
	assert.Equal(t, "notes.txt", results[0].Filename)
	assert.Equal(t, "doc-1", results[0].Chunk.DocumentID)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	assert.Greater(t, results[1].Distance, results[0].Distance)
}

func TestSQLiteIndex_DimensionMismatch(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t, 3)
	ctx := context.Background()

	doc := testDoc("doc-1", "notes.txt")

	_, err := idx.Insert(ctx, doc, testChunk(0, "alpha"), []float32{1, 0})
	assert.True(t, retrieval.IsKind(err, retrieval.KindDimensionMismatch))

	err = idx.InsertDocument(ctx, doc, []retrieval.Chunk{testChunk(0, "alpha")}, [][]float32{{1, 0, 0, 0}})
	assert.True(t, retrieval.IsKind(err, retrieval.KindDimensionMismatch))

	_, err = idx.Query(ctx, []float32{1}, 1, 0)
	assert.True(t, retrieval.IsKind(err, retrieval.KindDimensionMismatch))
}

func TestSQLiteIndex_InsertDocumentIsAtomic(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t, 3)
	ctx := context.Background()

	doc := testDoc("doc-1", "notes.txt")
	// Second vector has the wrong dimension; the whole document must be
	// rejected with nothing visible afterwards.
	err := idx.InsertDocument(ctx, doc,
		[]retrieval.Chunk{testChunk(0, "alpha"), testChunk(1, "beta")},
		[][]float32{{1, 0, 0}, {1, 0}})
	require.Error(t, err)

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Documents)
	assert.Equal(t, 0, stats.Chunks)
}

func TestSQLiteIndex_TieBreakByInsertionOrder(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t, 3)
	ctx := context.Background()

	doc := testDoc("doc-1", "notes.txt")
	// Identical vectors: equal distance, so insertion order decides.
	err := idx.InsertDocument(ctx, doc,
		[]retrieval.Chunk{testChunk(0, "first"), testChunk(1, "second"), testChunk(2, "third")},
		[][]float32{{1, 1, 0}, {1, 1, 0}, {1, 1, 0}})
	require.NoError(t, err)

	results, err := idx.Query(ctx, []float32{1, 1, 0}, 3, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "first", results[0].Chunk.Text)
	assert.Equal(t, "second", results[1].Chunk.Text)
	assert.Equal(t, "third", results[2].Chunk.Text)
}

func TestSQLiteIndex_MaxDistanceFilter(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t, 3)
	ctx := context.Background()

	doc := testDoc("doc-1", "notes.txt")
	// "near" is identical to the query (distance 0), "far" is orthogonal
	// (distance 1).
	err := idx.InsertDocument(ctx, doc,
		[]retrieval.Chunk{testChunk(0, "near"), testChunk(1, "far")},
		[][]float32{{1, 0, 0}, {0, 1, 0}})
	require.NoError(t, err)

	results, err := idx.Query(ctx, []float32{1, 0, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "near", results[0].Chunk.Text)

	// maxDistance 0 means no filter.
	results, err = idx.Query(ctx, []float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSQLiteIndex_QueryRejectsBadK(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t, 3)

	_, err := idx.Query(context.Background(), []float32{1, 0, 0}, 0, 0)
	assert.True(t, retrieval.IsKind(err, retrieval.KindInvalidInput))
}

func TestSQLiteIndex_Keyword(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t, 3)
	ctx := context.Background()

	doc := testDoc("doc-1", "biology.txt")
	err := idx.InsertDocument(ctx, doc,
		[]retrieval.Chunk{
			testChunk(0, "The cell membrane surrounds the cell. Cell walls differ."),
			testChunk(1, "Mitochondria produce energy for the cell."),
			testChunk(2, "Photosynthesis happens in chloroplasts."),
		},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})
	require.NoError(t, err)

	results, err := idx.Keyword(ctx, "Cell", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// Three case-insensitive occurrences beat one.
	assert.Equal(t, 0, results[0].Chunk.Sequence)
	assert.Equal(t, 1.0, results[0].Similarity)
	assert.Equal(t, 1, results[1].Chunk.Sequence)
	assert.Less(t, results[1].Similarity, results[0].Similarity)

	_, err = idx.Keyword(ctx, "   ", 10)
	assert.True(t, retrieval.IsKind(err, retrieval.KindInvalidInput))
}

func TestSQLiteIndex_DeleteDocument(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t, 3)
	ctx := context.Background()

	keep := testDoc("doc-keep", "keep.txt")
	gone := testDoc("doc-gone", "gone.txt")
	require.NoError(t, idx.InsertDocument(ctx, keep,
		[]retrieval.Chunk{testChunk(0, "kept chunk")}, [][]float32{{1, 0, 0}}))
	require.NoError(t, idx.InsertDocument(ctx, gone,
		[]retrieval.Chunk{testChunk(0, "doomed chunk"), testChunk(1, "also doomed")},
		[][]float32{{0, 1, 0}, {0, 0, 1}}))

	require.NoError(t, idx.DeleteDocument(ctx, "doc-gone"))

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 1, stats.Chunks)

	results, err := idx.Query(ctx, []float32{0, 1, 0}, 10, 0)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "doc-gone", r.Chunk.DocumentID)
	}

	// Deleting again (or an unknown id) is a no-op.
	require.NoError(t, idx.DeleteDocument(ctx, "doc-gone"))
	require.NoError(t, idx.DeleteDocument(ctx, "never-existed"))
}

func TestSQLiteIndex_ListDocuments(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t, 3)
	ctx := context.Background()

	older := testDoc("doc-old", "old.txt")
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := testDoc("doc-new", "new.txt")

	require.NoError(t, idx.InsertDocument(ctx, newer,
		[]retrieval.Chunk{testChunk(0, "new")}, [][]float32{{1, 0, 0}}))
	require.NoError(t, idx.InsertDocument(ctx, older,
		[]retrieval.Chunk{testChunk(0, "old")}, [][]float32{{0, 1, 0}}))

	docs, err := idx.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc-old", docs[0].ID)
	assert.Equal(t, "doc-new", docs[1].ID)
	// Listings never carry raw text.
	assert.Empty(t, docs[0].RawText)
}

func TestSQLiteIndex_SingleInsertVisibleImmediately(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t, 3)
	ctx := context.Background()

	doc := testDoc("doc-1", "notes.txt")
	id, err := idx.Insert(ctx, doc, testChunk(0, "solo"), []float32{1, 0, 0})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	results, err := idx.Query(ctx, []float32{1, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Chunk.ID)
}

func TestVectorCodecRoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 1, -1, 3.5, -2.25, 1e-7}
	out, err := decodeVector(encodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
