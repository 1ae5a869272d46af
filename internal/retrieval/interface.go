// Package retrieval defines the document retrieval pipeline: text chunking,
// embedding, vector indexing, and the service that composes the three.
// Concrete implementations (SQLite, Qdrant, pgvector, Ollama, etc.) satisfy
// these interfaces so callers never depend on a specific backend.
package retrieval

import (
	"context"
	"time"
)

// Document is a unit of ingested text. It is created on successful ingestion
// and never mutated afterwards; removal is only by explicit deletion.
type Document struct {
	// ID is the opaque identifier assigned at ingestion.
	ID string

	// Filename is the display label for the document. Not unique.
	Filename string

	// RawText is the full uploaded text, immutable once stored. Left
	// empty in listings; only ingestion populates it.
	RawText string

	// WordCount is the whitespace-token count of the raw text.
	WordCount int

	// ChunkCount is the number of chunks produced at ingestion. Populated
	// on the Document returned by Ingest; listings leave it zero.
	ChunkCount int

	// CreatedAt is when the document was ingested.
	CreatedAt time.Time
}

// Stats summarizes the index contents.
type Stats struct {
	// Documents is the number of stored documents.
	Documents int `json:"documents"`

	// Chunks is the number of stored chunks (and therefore vectors).
	Chunks int `json:"chunks"`
}

// Chunk is a contiguous, bounded slice of a document's text. Consecutive
// chunks overlap by a configured number of words, and their order within a
// document is stable for a given input and configuration.
type Chunk struct {
	// ID is the opaque identifier for the stored chunk. Empty until the
	// chunk is persisted by a VectorIndex.
	ID string

	// DocumentID is a back-reference to the owning document. Empty on
	// chunks freshly produced by a Chunker.
	DocumentID string

	// Sequence is the 0-based order of this chunk within its document.
	Sequence int

	// Text is the chunk content, a substring of the document's raw text.
	Text string

	// StartOffset and EndOffset are character (byte) offsets into the raw
	// text, kept for provenance. EndOffset > StartOffset always holds.
	StartOffset int
	EndOffset   int
}

// SearchResult pairs a chunk with its relevance to a query. Results are
// transient — computed per query, never persisted.
type SearchResult struct {
	// Chunk is the matched chunk.
	Chunk Chunk

	// Filename is the display label of the chunk's parent document.
	Filename string

	// Distance is the raw metric reported by the index (lower = closer).
	// Zero and meaningless for keyword-fallback results.
	Distance float64

	// Similarity is the normalized relevance score (higher = better),
	// derived as a monotonic transform of Distance, bounded in [0, 1].
	Similarity float64
}

// Response is the result of a search call.
type Response struct {
	// Results is ordered best-match first. Empty means nothing matched —
	// it is never an error.
	Results []SearchResult

	// Degraded is true when the embedding backend was unavailable and the
	// results come from the keyword substring fallback instead of vector
	// search. Callers should surface this ("results may be less relevant").
	Degraded bool
}

// Metric identifies the distance convention a VectorIndex reports.
type Metric string

const (
	// MetricCosine is cosine distance: 1 - cos(a, b), lower is closer.
	// Similarity is derived as max(0, 1-distance).
	MetricCosine Metric = "cosine"

	// MetricL2 is raw Euclidean distance with no fixed upper bound.
	// Similarity is derived as 1/(1+distance).
	MetricL2 Metric = "l2"
)

// Chunker splits raw document text into ordered, overlapping chunks.
// Implementations must be deterministic: identical input and configuration
// produce identical chunk sequences.
type Chunker interface {
	// Split returns the chunks of text in sequence order. Chunk IDs and
	// document IDs are left empty for the caller to assign. Empty or
	// whitespace-only input yields zero chunks and no error.
	Split(text string) ([]Chunk, error)
}

// Embedder converts text into fixed-dimension dense vectors. Two calls on
// identical text must yield identical vectors, and batch results must be
// identical to one-by-one calls. Implementations must be safe for
// concurrent use.
type Embedder interface {
	// Embed converts a batch of texts into their embeddings. The returned
	// slice is parallel to the input. Each text must be non-empty after
	// trimming — blank input fails with an InvalidInput error rather than
	// mapping to a silent zero vector.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length D this provider emits.
	Dimensions() int
}

// VectorIndex durably stores (document, chunk, vector) tuples and answers
// nearest-neighbor queries. Implementations must be safe for concurrent use;
// write isolation is delegated to the storage engine's transactions.
type VectorIndex interface {
	// Insert stores a single chunk and its vector under the given document,
	// creating the document row if it does not exist yet. The write is
	// atomic: either both rows are durable or neither is. After return the
	// chunk is immediately visible to Query.
	Insert(ctx context.Context, doc Document, chunk Chunk, vector []float32) (chunkID string, err error)

	// InsertDocument stores a document with all its chunks and vectors in
	// one transaction, so the document is either fully searchable or not
	// visible at all. vectors is parallel to chunks.
	InsertDocument(ctx context.Context, doc Document, chunks []Chunk, vectors [][]float32) error

	// Query returns at most k results ordered by ascending distance, ties
	// broken by insertion order (earliest wins). maxDistance > 0 excludes
	// results strictly beyond the threshold. An empty index returns an
	// empty slice, not an error.
	Query(ctx context.Context, vector []float32, k int, maxDistance float64) ([]SearchResult, error)

	// Keyword performs a case-insensitive substring search over stored
	// chunk text, ranking by occurrence count. It is the degraded-mode
	// complement to Query and never touches the embedding backend.
	Keyword(ctx context.Context, query string, k int) ([]SearchResult, error)

	// DeleteDocument removes the document and all its chunks and vectors
	// atomically. Deleting an absent id is a no-op, not an error.
	DeleteDocument(ctx context.Context, documentID string) error

	// ListDocuments returns all stored documents, oldest first. RawText
	// is not populated.
	ListDocuments(ctx context.Context) ([]Document, error)

	// Stats returns document and chunk counts.
	Stats(ctx context.Context) (Stats, error)

	// Dimensions returns the vector dimensionality this index accepts.
	Dimensions() int

	// Metric reports the distance convention Query results use.
	Metric() Metric

	// Close releases any resources held by the index.
	Close() error
}
