package retrieval_test

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybuddy-ai/studybuddy-go/internal/chunker"
	"github.com/studybuddy-ai/studybuddy-go/internal/index"
	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

// vocabEmbedder is a deterministic embedder for pipeline tests: each
// dimension counts occurrences of one vocabulary word, normalized to unit
// length, so texts about the same topic land close in cosine space.
type vocabEmbedder struct {
	vocab []string
}

func (e *vocabEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		lower := strings.ToLower(text)
		vec := make([]float32, len(e.vocab))
		var norm float64
		for i, word := range e.vocab {
			n := float32(strings.Count(lower, word))
			vec[i] = n
			norm += float64(n * n)
		}
		if norm > 0 {
			scale := float32(1 / math.Sqrt(norm))
			for i := range vec {
				vec[i] *= scale
			}
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *vocabEmbedder) Dimensions() int { return len(e.vocab) }

// flakyEmbedder embeds normally until switched down, then reports the
// backend unavailable like an unreachable Ollama would.
type flakyEmbedder struct {
	vocabEmbedder
	down bool
}

func (e *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.down {
		return nil, retrieval.NewError(retrieval.KindEmbeddingUnavailable, "embedder", "backend unreachable")
	}
	return e.vocabEmbedder.Embed(ctx, texts)
}

// newPipeline wires a real chunker and a real in-memory SQLite index behind
// the service, with only the embedding backend faked.
func newPipeline(t *testing.T, chunkSize, overlap int) (*retrieval.Service, retrieval.VectorIndex) {
	t.Helper()

	emb := &vocabEmbedder{vocab: []string{"fox", "dog", "cell", "energy"}}

	split, err := chunker.New(chunkSize, overlap)
	require.NoError(t, err)

	idx, err := index.OpenSQLite(":memory:", emb.Dimensions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	svc, err := retrieval.NewService(split, emb, idx, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return svc, idx
}

func TestPipeline_IngestSearchDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newPipeline(t, 8, 2)

	foxDoc, err := svc.Ingest(ctx, "animals.txt",
		"The quick brown fox jumps over the lazy dog. The fox is quicker than the dog on most days of the week.")
	require.NoError(t, err)
	assert.NotEmpty(t, foxDoc.ID)
	assert.Greater(t, foxDoc.ChunkCount, 1, "document should span multiple chunks")

	cellDoc, err := svc.Ingest(ctx, "biology.txt",
		"The cell produces energy through respiration. Each cell converts nutrients into usable energy for the organism.")
	require.NoError(t, err)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, foxDoc.ChunkCount+cellDoc.ChunkCount, stats.Chunks)

	// A fox query must surface the animals document first.
	resp, err := svc.Search(ctx, "where did the fox go", 3, 0)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.False(t, resp.Degraded)
	assert.Equal(t, "animals.txt", resp.Results[0].Filename)
	assert.Equal(t, foxDoc.ID, resp.Results[0].Chunk.DocumentID)
	assert.Contains(t, strings.ToLower(resp.Results[0].Chunk.Text), "fox")

	// Results are ordered by ascending distance / descending similarity.
	for i := 1; i < len(resp.Results); i++ {
		assert.LessOrEqual(t, resp.Results[i-1].Distance, resp.Results[i].Distance)
	}

	// A biology query surfaces the cell document.
	resp, err = svc.Search(ctx, "how does a cell make energy", 3, 0)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "biology.txt", resp.Results[0].Filename)

	// Deleting the animals document removes all of its chunks.
	require.NoError(t, svc.Delete(ctx, foxDoc.ID))

	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, cellDoc.ChunkCount, stats.Chunks)

	resp, err = svc.Search(ctx, "where did the fox go", 5, 0)
	require.NoError(t, err)
	for _, res := range resp.Results {
		assert.NotEqual(t, foxDoc.ID, res.Chunk.DocumentID)
	}
}

func TestPipeline_KeywordFallbackOverStoredChunks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	emb := &flakyEmbedder{vocabEmbedder: vocabEmbedder{vocab: []string{"fox", "dog", "cell", "energy"}}}

	split, err := chunker.New(8, 2)
	require.NoError(t, err)
	idx, err := index.OpenSQLite(":memory:", emb.Dimensions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	svc, err := retrieval.NewService(split, emb, idx, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	foxDoc, err := svc.Ingest(ctx, "animals.txt",
		"The quick brown fox jumps over the lazy dog while a second fox watches from the fox den nearby.")
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, "biology.txt",
		"The cell produces energy through respiration and the cell divides to grow.")
	require.NoError(t, err)

	// The embedding backend goes down after ingestion; search must fall back
	// to the keyword scan over the stored chunk text and flag the response.
	emb.down = true

	resp, err := svc.Search(ctx, "fox", 5, 0)
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "animals.txt", resp.Results[0].Filename)
	assert.Equal(t, foxDoc.ID, resp.Results[0].Chunk.DocumentID)
	for _, res := range resp.Results {
		assert.Contains(t, strings.ToLower(res.Chunk.Text), "fox")
	}

	// No match is an empty result set, still degraded, never an error.
	resp, err = svc.Search(ctx, "mitochondria", 5, 0)
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Empty(t, resp.Results)

	// Ingestion while the backend is down fails without partial writes.
	_, err = svc.Ingest(ctx, "new.txt", "the dog barks at the fox")
	require.Error(t, err)
	assert.True(t, retrieval.IsKind(err, retrieval.KindEmbeddingUnavailable))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)

	// The backend recovering restores vector search with no degraded flag.
	emb.down = false
	resp, err = svc.Search(ctx, "where did the fox go", 3, 0)
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "animals.txt", resp.Results[0].Filename)
}

func TestPipeline_ChunkProvenance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newPipeline(t, 8, 2)

	text := "The fox ran far and fast across the field while the dog slept near the barn under a warm sun."
	doc, err := svc.Ingest(ctx, "notes.txt", text)
	require.NoError(t, err)

	resp, err := svc.Search(ctx, "fox", 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	// Offsets stored with each chunk slice back into the original text.
	for _, res := range resp.Results {
		c := res.Chunk
		assert.Equal(t, doc.ID, c.DocumentID)
		require.Greater(t, c.EndOffset, c.StartOffset)
		require.LessOrEqual(t, c.EndOffset, len(text))
		assert.Equal(t, text[c.StartOffset:c.EndOffset], c.Text)
	}
}

func TestPipeline_ListDocumentsOldestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newPipeline(t, 8, 2)

	first, err := svc.Ingest(ctx, "first.txt", "the fox and the dog")
	require.NoError(t, err)
	second, err := svc.Ingest(ctx, "second.txt", "the cell and the energy")
	require.NoError(t, err)

	docs, err := svc.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, first.ID, docs[0].ID)
	assert.Equal(t, second.ID, docs[1].ID)
	assert.Empty(t, docs[0].RawText, "listings must not carry raw text")
}
