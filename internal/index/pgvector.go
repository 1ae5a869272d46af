package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

// PgIndex is a retrieval.VectorIndex backed by PostgreSQL with the pgvector
// extension. Queries use the cosine distance operator (<=>) with an ivfflat
// index; ties are broken by the chunk's bigserial ordinal.
type PgIndex struct {
	// pool is the pgx connection pool.
	pool *pgxpool.Pool

	// dims is the vector dimensionality of the embedding column.
	dims int
}

// OpenPg connects to PostgreSQL at the given URL, runs the schema migration
// for vectors of the given dimensionality, and returns a ready-to-use index.
func OpenPg(ctx context.Context, url string, dims int) (*PgIndex, error) {
	if dims <= 0 {
		return nil, retrieval.NewError(retrieval.KindInvalidConfiguration, "index",
			fmt.Sprintf("dimensions must be positive, got %d", dims))
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, retrieval.WrapError(retrieval.KindInvalidConfiguration, "index", "parse database url", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "connect", err)
	}

	idx := &PgIndex{pool: pool, dims: dims}
	if err := idx.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

// migrate applies the schema. The embedding column dimension is fixed at
// creation; changing embedding models requires a new database.
func (p *PgIndex) migrate(ctx context.Context) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
  id          TEXT PRIMARY KEY,
  filename    TEXT NOT NULL,
  raw_text    TEXT NOT NULL,
  word_count  INT  NOT NULL,
  created_at  TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chunks (
  id           TEXT PRIMARY KEY,
  ord          BIGSERIAL,
  document_id  TEXT NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
  seq          INT  NOT NULL,
  text         TEXT NOT NULL,
  start_offset INT  NOT NULL,
  end_offset   INT  NOT NULL,
  embedding    vector(%d) NOT NULL
);

CREATE INDEX IF NOT EXISTS chunks_document_idx
  ON chunks (document_id, seq);

CREATE INDEX IF NOT EXISTS chunks_embedding_idx
  ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(q, p.dims)); err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index", "migrate", err)
	}
	return nil
}

// Dimensions returns the vector dimensionality this index accepts.
func (p *PgIndex) Dimensions() int { return p.dims }

// Metric reports that Query distances are cosine distances.
func (p *PgIndex) Metric() retrieval.Metric { return retrieval.MetricCosine }

func (p *PgIndex) checkVector(v []float32, label string) error {
	if len(v) != p.dims {
		return retrieval.NewError(retrieval.KindDimensionMismatch, "index",
			fmt.Sprintf("%s has dimension %d, index configured for %d", label, len(v), p.dims))
	}
	return nil
}

func insertDocumentPg(ctx context.Context, tx pgx.Tx, doc retrieval.Document) error {
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	const q = `
INSERT INTO documents (id, filename, raw_text, word_count, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`
	if _, err := tx.Exec(ctx, q, doc.ID, doc.Filename, doc.RawText, doc.WordCount, createdAt); err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index", "insert document row", err)
	}
	return nil
}

func insertChunkPg(ctx context.Context, tx pgx.Tx, documentID string, chunk retrieval.Chunk, vector []float32) (string, error) {
	id := chunk.ID
	if id == "" {
		id = uuid.NewString()
	}
	const q = `
INSERT INTO chunks (id, document_id, seq, text, start_offset, end_offset, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.Exec(ctx, q, id, documentID, chunk.Sequence, chunk.Text,
		chunk.StartOffset, chunk.EndOffset, pgvector.NewVector(vector)); err != nil {
		return "", retrieval.WrapError(retrieval.KindStorage, "index", "insert chunk row", err)
	}
	return id, nil
}

// Insert stores a single chunk and its vector in one transaction.
func (p *PgIndex) Insert(ctx context.Context, doc retrieval.Document, chunk retrieval.Chunk, vector []float32) (string, error) {
	if err := p.checkVector(vector, "vector"); err != nil {
		return "", err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return "", retrieval.WrapError(retrieval.KindStorage, "index", "begin insert", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := insertDocumentPg(ctx, tx, doc); err != nil {
		return "", err
	}
	id, err := insertChunkPg(ctx, tx, doc.ID, chunk, vector)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", retrieval.WrapError(retrieval.KindStorage, "index", "commit insert", err)
	}
	return id, nil
}

// InsertDocument stores a document with all its chunks in one transaction.
func (p *PgIndex) InsertDocument(ctx context.Context, doc retrieval.Document, chunks []retrieval.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return retrieval.NewError(retrieval.KindInvalidInput, "index",
			fmt.Sprintf("%d chunks but %d vectors", len(chunks), len(vectors)))
	}
	for i, v := range vectors {
		if err := p.checkVector(v, fmt.Sprintf("vector %d", i)); err != nil {
			return err
		}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index", "begin insert document", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := insertDocumentPg(ctx, tx, doc); err != nil {
		return err
	}
	for i := range chunks {
		if _, err := insertChunkPg(ctx, tx, doc.ID, chunks[i], vectors[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index", "commit insert document", err)
	}
	return nil
}

// Query returns at most k chunks ordered by ascending cosine distance, ties
// broken by insertion order.
func (p *PgIndex) Query(ctx context.Context, vector []float32, k int, maxDistance float64) ([]retrieval.SearchResult, error) {
	if err := p.checkVector(vector, "query vector"); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, retrieval.NewError(retrieval.KindInvalidInput, "index",
			fmt.Sprintf("k must be >= 1, got %d", k))
	}

	q := `
SELECT c.id, c.document_id, c.seq, c.text, c.start_offset, c.end_offset,
       c.embedding <=> $1::vector AS distance,
       d.filename
FROM   chunks c
JOIN   documents d ON d.id = c.document_id`
	args := []any{pgvector.NewVector(vector)}
	if maxDistance > 0 {
		q += `
WHERE  c.embedding <=> $1::vector <= $3`
		args = append(args, k, maxDistance)
	} else {
		args = append(args, k)
	}
	q += `
ORDER BY distance ASC, c.ord ASC
LIMIT  $2`

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "query", err)
	}
	defer rows.Close()

	var results []retrieval.SearchResult
	for rows.Next() {
		var r retrieval.SearchResult
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.Sequence,
			&r.Chunk.Text, &r.Chunk.StartOffset, &r.Chunk.EndOffset,
			&r.Distance, &r.Filename); err != nil {
			return nil, retrieval.WrapError(retrieval.KindStorage, "index", "query scan", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "query rows", err)
	}
	return results, nil
}

// Keyword performs a case-insensitive substring search over stored chunk text.
// The occurrence count is computed in SQL by length difference, normalized
// client-side against the best candidate.
func (p *PgIndex) Keyword(ctx context.Context, query string, k int) ([]retrieval.SearchResult, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, retrieval.NewError(retrieval.KindInvalidInput, "index", "keyword query is empty")
	}
	if k < 1 {
		return nil, retrieval.NewError(retrieval.KindInvalidInput, "index",
			fmt.Sprintf("k must be >= 1, got %d", k))
	}

	const q = `
SELECT c.id, c.document_id, c.seq, c.text, c.start_offset, c.end_offset,
       (length(lower(c.text)) - length(replace(lower(c.text), $1, ''))) / length($1) AS matches,
       d.filename
FROM   chunks c
JOIN   documents d ON d.id = c.document_id
WHERE  position($1 IN lower(c.text)) > 0
ORDER BY matches DESC, c.ord ASC
LIMIT  $2`

	rows, err := p.pool.Query(ctx, q, needle, k)
	if err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "keyword query", err)
	}
	defer rows.Close()

	var results []retrieval.SearchResult
	var counts []int
	maxMatches := 0
	for rows.Next() {
		var r retrieval.SearchResult
		var matches int
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.Sequence,
			&r.Chunk.Text, &r.Chunk.StartOffset, &r.Chunk.EndOffset,
			&matches, &r.Filename); err != nil {
			return nil, retrieval.WrapError(retrieval.KindStorage, "index", "keyword scan", err)
		}
		if matches > maxMatches {
			maxMatches = matches
		}
		results = append(results, r)
		counts = append(counts, matches)
	}
	if err := rows.Err(); err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "keyword rows", err)
	}

	for i := range results {
		results[i].Similarity = float64(counts[i]) / float64(maxMatches)
	}
	return results, nil
}

// DeleteDocument removes the document; chunks cascade via the foreign key.
// Deleting an absent id is a no-op.
func (p *PgIndex) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, documentID); err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index", "delete document", err)
	}
	return nil
}

// ListDocuments returns all stored documents, oldest first. RawText is not
// populated.
func (p *PgIndex) ListDocuments(ctx context.Context) ([]retrieval.Document, error) {
	const q = `
SELECT id, filename, word_count, created_at
FROM   documents
ORDER  BY created_at ASC, id ASC`

	rows, err := p.pool.Query(ctx, q)
	if err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "list documents", err)
	}
	defer rows.Close()

	var docs []retrieval.Document
	for rows.Next() {
		var d retrieval.Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.WordCount, &d.CreatedAt); err != nil {
			return nil, retrieval.WrapError(retrieval.KindStorage, "index", "list documents scan", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "list documents rows", err)
	}
	return docs, nil
}

// Stats returns document and chunk counts.
func (p *PgIndex) Stats(ctx context.Context) (retrieval.Stats, error) {
	var st retrieval.Stats
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&st.Documents); err != nil {
		return st, retrieval.WrapError(retrieval.KindStorage, "index", "count documents", err)
	}
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&st.Chunks); err != nil {
		return st, retrieval.WrapError(retrieval.KindStorage, "index", "count chunks", err)
	}
	return st, nil
}

// Close releases the connection pool.
func (p *PgIndex) Close() error {
	p.pool.Close()
	return nil
}
