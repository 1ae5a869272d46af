// Package index provides retrieval.VectorIndex implementations. The
// canonical backend is a local SQLite database; Qdrant and Postgres+pgvector
// backends are available for deployments that already run one of those.
package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

// SQLiteIndex is a retrieval.VectorIndex backed by a local SQLite database.
// Vectors are stored as little-endian float32 BLOBs and scanned brute-force
// at query time with cosine distance. The pure-Go driver cannot load the
// sqlite-vec C extension, and for the corpus sizes this serves (hundreds of
// documents) a linear scan is well within budget.
type SQLiteIndex struct {
	// db is the underlying database connection pool.
	db *sql.DB

	// dims is the vector dimensionality this index accepts.
	dims int
}

// DefaultDBPath returns the default path for the index database. It resolves
// to ~/.studybuddy/index.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("index: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".studybuddy")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("index: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "index.db"), nil
}

// OpenSQLite opens (or creates) a SQLiteIndex at the given path for vectors
// of the given dimensionality, and runs the schema migration. Use ":memory:"
// for an in-memory database in tests.
func OpenSQLite(path string, dims int) (*SQLiteIndex, error) {
	if dims <= 0 {
		return nil, retrieval.NewError(retrieval.KindInvalidConfiguration, "index",
			fmt.Sprintf("dimensions must be positive, got %d", dims))
	}

	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index",
			fmt.Sprintf("open %s", path), err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	idx := &SQLiteIndex{db: db, dims: dims}
	if err := idx.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteIndex) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id           TEXT    PRIMARY KEY,
    filename     TEXT    NOT NULL,
    raw_text     TEXT    NOT NULL,
    word_count   INTEGER NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE TABLE IF NOT EXISTS chunks (
    id           TEXT    PRIMARY KEY,
    document_id  TEXT    NOT NULL,
    seq          INTEGER NOT NULL,
    text         TEXT    NOT NULL,
    start_offset INTEGER NOT NULL,
    end_offset   INTEGER NOT NULL,
    embedding    BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks (document_id, seq);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index", "migrate", err)
	}
	return nil
}

// Dimensions returns the vector dimensionality this index accepts.
func (s *SQLiteIndex) Dimensions() int { return s.dims }

// Metric reports that Query distances are cosine distances.
func (s *SQLiteIndex) Metric() retrieval.Metric { return retrieval.MetricCosine }

// Insert stores a single chunk and its vector, creating the document row if
// absent. Both writes share one transaction, so a failure leaves no orphan
// chunk without its vector or vice versa.
func (s *SQLiteIndex) Insert(ctx context.Context, doc retrieval.Document, chunk retrieval.Chunk, vector []float32) (string, error) {
	if len(vector) != s.dims {
		return "", retrieval.NewError(retrieval.KindDimensionMismatch, "index",
			fmt.Sprintf("vector has dimension %d, index configured for %d", len(vector), s.dims))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", retrieval.WrapError(retrieval.KindStorage, "index", "begin insert", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := insertDocumentRow(ctx, tx, doc); err != nil {
		return "", err
	}
	id, err := insertChunkRow(ctx, tx, doc.ID, chunk, vector)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", retrieval.WrapError(retrieval.KindStorage, "index", "commit insert", err)
	}
	return id, nil
}

// InsertDocument stores a document with all its chunks and vectors in one
// transaction: the document is either fully searchable after return or, on
// error, not visible at all.
func (s *SQLiteIndex) InsertDocument(ctx context.Context, doc retrieval.Document, chunks []retrieval.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return retrieval.NewError(retrieval.KindInvalidInput, "index",
			fmt.Sprintf("%d chunks but %d vectors", len(chunks), len(vectors)))
	}
	for i, v := range vectors {
		if len(v) != s.dims {
			return retrieval.NewError(retrieval.KindDimensionMismatch, "index",
				fmt.Sprintf("vector %d has dimension %d, index configured for %d", i, len(v), s.dims))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index", "begin insert document", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := insertDocumentRow(ctx, tx, doc); err != nil {
		return err
	}
	for i := range chunks {
		if _, err := insertChunkRow(ctx, tx, doc.ID, chunks[i], vectors[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index", "commit insert document", err)
	}
	return nil
}

// insertDocumentRow writes the document row inside tx. Re-inserting an
// existing id is a no-op so single-chunk Insert can be called repeatedly
// against the same document.
func insertDocumentRow(ctx context.Context, tx *sql.Tx, doc retrieval.Document) error {
	const q = `
INSERT INTO documents (id, filename, raw_text, word_count, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, q, doc.ID, doc.Filename, doc.RawText, doc.WordCount, createdAt.Unix()); err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index", "insert document row", err)
	}
	return nil
}

// insertChunkRow writes one chunk row inside tx, assigning an id if the
// chunk does not carry one.
func insertChunkRow(ctx context.Context, tx *sql.Tx, documentID string, chunk retrieval.Chunk, vector []float32) (string, error) {
	id := chunk.ID
	if id == "" {
		id = uuid.NewString()
	}
	const q = `
INSERT INTO chunks (id, document_id, seq, text, start_offset, end_offset, embedding)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, id, documentID, chunk.Sequence, chunk.Text,
		chunk.StartOffset, chunk.EndOffset, encodeVector(vector)); err != nil {
		return "", retrieval.WrapError(retrieval.KindStorage, "index", "insert chunk row", err)
	}
	return id, nil
}

// scoredChunk pairs a decoded chunk with its distance and rowid for sorting.
type scoredChunk struct {
	result retrieval.SearchResult
	rowid  int64
}

// Query scans all stored vectors, computes cosine distance to the query
// vector, and returns the k closest chunks ordered by ascending distance
// with insertion order (rowid) breaking ties. maxDistance > 0 excludes
// results strictly beyond the threshold.
func (s *SQLiteIndex) Query(ctx context.Context, vector []float32, k int, maxDistance float64) ([]retrieval.SearchResult, error) {
	if len(vector) != s.dims {
		return nil, retrieval.NewError(retrieval.KindDimensionMismatch, "index",
			fmt.Sprintf("query vector has dimension %d, index configured for %d", len(vector), s.dims))
	}
	if k < 1 {
		return nil, retrieval.NewError(retrieval.KindInvalidInput, "index",
			fmt.Sprintf("k must be >= 1, got %d", k))
	}

	const q = `
SELECT c.rowid, c.id, c.document_id, c.seq, c.text, c.start_offset, c.end_offset, c.embedding, d.filename
FROM   chunks c
JOIN   documents d ON d.id = c.document_id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "query scan", err)
	}
	defer rows.Close()

	var scored []scoredChunk
	for rows.Next() {
		var sc scoredChunk
		var blob []byte
		if err := rows.Scan(&sc.rowid, &sc.result.Chunk.ID, &sc.result.Chunk.DocumentID,
			&sc.result.Chunk.Sequence, &sc.result.Chunk.Text,
			&sc.result.Chunk.StartOffset, &sc.result.Chunk.EndOffset,
			&blob, &sc.result.Filename); err != nil {
			return nil, retrieval.WrapError(retrieval.KindStorage, "index", "query row scan", err)
		}

		stored, err := decodeVector(blob)
		if err != nil {
			return nil, retrieval.WrapError(retrieval.KindStorage, "index",
				fmt.Sprintf("chunk %s has corrupt embedding", sc.result.Chunk.ID), err)
		}
		if len(stored) != s.dims {
			return nil, retrieval.NewError(retrieval.KindDimensionMismatch, "index",
				fmt.Sprintf("chunk %s stored with dimension %d, index configured for %d",
					sc.result.Chunk.ID, len(stored), s.dims))
		}

		sc.result.Distance = cosineDistance(vector, stored)
		if maxDistance > 0 && sc.result.Distance > maxDistance {
			continue
		}
		scored = append(scored, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "query rows", err)
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].result.Distance != scored[j].result.Distance {
			return scored[i].result.Distance < scored[j].result.Distance
		}
		return scored[i].rowid < scored[j].rowid
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	results := make([]retrieval.SearchResult, 0, len(scored))
	for _, sc := range scored {
		results = append(results, sc.result)
	}
	return results, nil
}

// Keyword performs a case-insensitive substring search over stored chunk
// text, ranking by occurrence count normalized against the best candidate.
// It never touches the embedding column.
func (s *SQLiteIndex) Keyword(ctx context.Context, query string, k int) ([]retrieval.SearchResult, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, retrieval.NewError(retrieval.KindInvalidInput, "index", "keyword query is empty")
	}
	if k < 1 {
		return nil, retrieval.NewError(retrieval.KindInvalidInput, "index",
			fmt.Sprintf("k must be >= 1, got %d", k))
	}

	const q = `
SELECT c.rowid, c.id, c.document_id, c.seq, c.text, c.start_offset, c.end_offset, d.filename
FROM   chunks c
JOIN   documents d ON d.id = c.document_id
WHERE  instr(lower(c.text), ?) > 0`

	rows, err := s.db.QueryContext(ctx, q, needle)
	if err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "keyword scan", err)
	}
	defer rows.Close()

	type counted struct {
		result  retrieval.SearchResult
		matches int
		rowid   int64
	}
	var hits []counted
	maxMatches := 0
	for rows.Next() {
		var c counted
		if err := rows.Scan(&c.rowid, &c.result.Chunk.ID, &c.result.Chunk.DocumentID,
			&c.result.Chunk.Sequence, &c.result.Chunk.Text,
			&c.result.Chunk.StartOffset, &c.result.Chunk.EndOffset,
			&c.result.Filename); err != nil {
			return nil, retrieval.WrapError(retrieval.KindStorage, "index", "keyword row scan", err)
		}
		c.matches = strings.Count(strings.ToLower(c.result.Chunk.Text), needle)
		if c.matches == 0 {
			continue
		}
		if c.matches > maxMatches {
			maxMatches = c.matches
		}
		hits = append(hits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "keyword rows", err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].matches != hits[j].matches {
			return hits[i].matches > hits[j].matches
		}
		return hits[i].rowid < hits[j].rowid
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	results := make([]retrieval.SearchResult, 0, len(hits))
	for _, h := range hits {
		r := h.result
		// Score by normalized match count, not an additive constant.
		r.Similarity = float64(h.matches) / float64(maxMatches)
		results = append(results, r)
	}
	return results, nil
}

// DeleteDocument removes the document and all its chunks in one transaction.
// Deleting an absent id is a no-op.
func (s *SQLiteIndex) DeleteDocument(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index", "begin delete", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index", "delete chunks", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID); err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index", "delete document", err)
	}

	if err := tx.Commit(); err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index", "commit delete", err)
	}
	return nil
}

// ListDocuments returns all stored documents, oldest first. RawText is not
// populated.
func (s *SQLiteIndex) ListDocuments(ctx context.Context) ([]retrieval.Document, error) {
	const q = `
SELECT id, filename, word_count, created_at
FROM   documents
ORDER  BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "list documents", err)
	}
	defer rows.Close()

	var docs []retrieval.Document
	for rows.Next() {
		var d retrieval.Document
		var ts int64
		if err := rows.Scan(&d.ID, &d.Filename, &d.WordCount, &ts); err != nil {
			return nil, retrieval.WrapError(retrieval.KindStorage, "index", "list documents scan", err)
		}
		d.CreatedAt = time.Unix(ts, 0)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "list documents rows", err)
	}
	return docs, nil
}

// Stats returns document and chunk counts.
func (s *SQLiteIndex) Stats(ctx context.Context) (retrieval.Stats, error) {
	var st retrieval.Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&st.Documents); err != nil {
		return st, retrieval.WrapError(retrieval.KindStorage, "index", "count documents", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&st.Chunks); err != nil {
		return st, retrieval.WrapError(retrieval.KindStorage, "index", "count chunks", err)
	}
	return st, nil
}

// Close releases the database connection pool.
func (s *SQLiteIndex) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("index: close: %w", err)
	}
	return nil
}

// encodeVector serializes a vector as a little-endian float32 blob.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserializes a little-endian float32 blob.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// cosineDistance returns 1 - cos(a, b). Vectors are not assumed normalized.
// A zero-norm vector is treated as maximally dissimilar within the bounded
// range (distance 1).
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
