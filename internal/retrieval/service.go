package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// embedBatchSize is how many chunk texts go to the embedding backend per
// call during ingestion. Cancellation is checked between batches, so this
// also bounds how much work a cancelled ingest finishes before stopping.
const embedBatchSize = 32

// DefaultTopK is the result count used when a caller passes k <= 0.
const DefaultTopK = 5

// Service composes a Chunker, an Embedder, and a VectorIndex into the
// document pipeline: ingest, search, delete, list, stats. It is safe for
// concurrent use as long as its three components are.
type Service struct {
	chunker  Chunker
	embedder Embedder
	index    VectorIndex
	log      *slog.Logger
}

// NewService wires the pipeline together. It fails fast when the embedder
// and index disagree on vector dimensionality, since every later insert
// would fail anyway.
func NewService(chunker Chunker, embedder Embedder, index VectorIndex, log *slog.Logger) (*Service, error) {
	if ed, id := embedder.Dimensions(), index.Dimensions(); ed != id {
		return nil, NewError(KindInvalidConfiguration, "retrieval",
			fmt.Sprintf("embedder produces %d-dimensional vectors but index expects %d", ed, id))
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{chunker: chunker, embedder: embedder, index: index, log: log}, nil
}

// Ingest chunks, embeds, and indexes a document, returning its metadata.
// Nothing becomes visible to Search until the whole document is stored: all
// embeddings are computed first, then written in one transaction. Between
// embedding batches the context is checked, so cancellation during a long
// ingest leaves the index untouched; the cancellation granularity is one
// batch, so up to embedBatchSize chunks may still be embedded after cancel.
func (s *Service) Ingest(ctx context.Context, filename, text string) (Document, error) {
	if strings.TrimSpace(text) == "" {
		return Document{}, NewError(KindInvalidInput, "retrieval", "document text is empty")
	}
	if filename == "" {
		filename = "untitled"
	}

	chunks, err := s.chunker.Split(text)
	if err != nil {
		return Document{}, err
	}
	if len(chunks) == 0 {
		return Document{}, NewError(KindInvalidInput, "retrieval", "document contains no indexable text")
	}

	doc := Document{
		ID:         uuid.NewString(),
		Filename:   filename,
		RawText:    text,
		WordCount:  len(strings.Fields(text)),
		ChunkCount: len(chunks),
		CreatedAt:  time.Now(),
	}

	start := time.Now()
	vectors := make([][]float32, 0, len(chunks))
	for offset := 0; offset < len(chunks); offset += embedBatchSize {
		if err := ctx.Err(); err != nil {
			return Document{}, WrapError(KindEmbeddingUnavailable, "retrieval", "ingest cancelled", err)
		}
		end := offset + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-offset)
		for _, c := range chunks[offset:end] {
			texts = append(texts, c.Text)
		}
		batch, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return Document{}, err
		}
		vectors = append(vectors, batch...)
	}

	for i := range chunks {
		chunks[i].DocumentID = doc.ID
	}
	if err := s.index.InsertDocument(ctx, doc, chunks, vectors); err != nil {
		return Document{}, err
	}

	s.log.Info("document ingested",
		slog.String("document_id", doc.ID),
		slog.String("filename", doc.Filename),
		slog.Int("chunks", len(chunks)),
		slog.Int("words", doc.WordCount),
		slog.Duration("elapsed", time.Since(start)),
	)
	return doc, nil
}

// Search embeds the query and runs a nearest-neighbor lookup. When the
// embedding backend is unavailable it degrades to the keyword substring
// fallback and marks the response Degraded; any other failure propagates.
// k <= 0 selects DefaultTopK. Results carry Similarity derived from the
// index's distance metric.
func (s *Service) Search(ctx context.Context, query string, k int, maxDistance float64) (Response, error) {
	if strings.TrimSpace(query) == "" {
		return Response{}, NewError(KindInvalidInput, "retrieval", "query is empty")
	}
	if k <= 0 {
		k = DefaultTopK
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		if !IsKind(err, KindEmbeddingUnavailable) {
			return Response{}, err
		}
		s.log.Warn("embedding backend unavailable, falling back to keyword search",
			slog.String("error", err.Error()))
		results, kerr := s.index.Keyword(ctx, query, k)
		if kerr != nil {
			return Response{}, kerr
		}
		return Response{Results: results, Degraded: true}, nil
	}

	results, err := s.index.Query(ctx, vectors[0], k, maxDistance)
	if err != nil {
		return Response{}, err
	}
	for i := range results {
		results[i].Similarity = similarity(s.index.Metric(), results[i].Distance)
	}
	return Response{Results: results}, nil
}

// similarity maps a raw distance to a score in [0, 1], higher = better.
func similarity(metric Metric, distance float64) float64 {
	switch metric {
	case MetricL2:
		return 1 / (1 + distance)
	default: // cosine
		if distance >= 1 {
			return 0
		}
		return 1 - distance
	}
}

// Delete removes a document and all its chunks. Deleting an unknown id is a
// no-op.
func (s *Service) Delete(ctx context.Context, documentID string) error {
	if documentID == "" {
		return NewError(KindInvalidInput, "retrieval", "document id is empty")
	}
	if err := s.index.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	s.log.Info("document deleted", slog.String("document_id", documentID))
	return nil
}

// Documents lists all stored documents, oldest first.
func (s *Service) Documents(ctx context.Context) ([]Document, error) {
	return s.index.ListDocuments(ctx)
}

// Stats reports index contents.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.index.Stats(ctx)
}
