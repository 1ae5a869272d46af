package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

// scrollLimit caps how many points a single listing or keyword scan pulls
// from Qdrant. The corpora this serves stay far below it.
const scrollLimit = 10000

// QdrantConfig holds connection parameters for a Qdrant-backed index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// Dimensions is the vector dimensionality stored in this collection.
	Dimensions int

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex is a retrieval.VectorIndex backed by a Qdrant collection using
// cosine distance. Each chunk is one point; document metadata rides along in
// every chunk's payload so listings need no second collection.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// OpenQdrant connects to Qdrant, ensures the target collection exists
// (creating it if necessary), and returns a ready-to-use index.
func OpenQdrant(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, retrieval.NewError(retrieval.KindInvalidConfiguration, "index",
			fmt.Sprintf("dimensions must be positive, got %d", cfg.Dimensions))
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "studybuddy"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "create qdrant client", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

// ensureCollection creates the collection and its payload indexes if absent.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index", "check collection existence", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.cfg.Dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index",
			fmt.Sprintf("create collection %q", q.cfg.Collection), err)
	}

	// document_id filters drive deletion; seq==0 filters drive listing.
	for field, ftype := range map[string]qdrant.FieldType{
		"document_id": qdrant.FieldType_FieldTypeKeyword,
		"seq":         qdrant.FieldType_FieldTypeInteger,
	} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.cfg.Collection,
			FieldName:      field,
			FieldType:      ftype.Enum(),
		}); err != nil {
			return retrieval.WrapError(retrieval.KindStorage, "index",
				fmt.Sprintf("create payload index on %q", field), err)
		}
	}
	return nil
}

// Dimensions returns the vector dimensionality this index accepts.
func (q *QdrantIndex) Dimensions() int { return q.cfg.Dimensions }

// Metric reports that Query distances are cosine distances.
func (q *QdrantIndex) Metric() retrieval.Metric { return retrieval.MetricCosine }

// chunkPoint builds the Qdrant point for one chunk. The payload carries both
// chunk and document fields; ord is a monotonic marker used to break distance
// ties by insertion order.
func chunkPoint(doc retrieval.Document, chunk retrieval.Chunk, vector []float32, id string, ord int64) *qdrant.PointStruct {
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(id),
		Vectors: qdrant.NewVectors(vector...),
		Payload: qdrant.NewValueMap(map[string]interface{}{
			"document_id":  doc.ID,
			"filename":     doc.Filename,
			"word_count":   int64(doc.WordCount),
			"created_at":   createdAt.Unix(),
			"seq":          int64(chunk.Sequence),
			"text":         chunk.Text,
			"start_offset": int64(chunk.StartOffset),
			"end_offset":   int64(chunk.EndOffset),
			"ord":          ord,
		}),
	}
}

// Insert stores a single chunk and its vector.
func (q *QdrantIndex) Insert(ctx context.Context, doc retrieval.Document, chunk retrieval.Chunk, vector []float32) (string, error) {
	if len(vector) != q.cfg.Dimensions {
		return "", retrieval.NewError(retrieval.KindDimensionMismatch, "index",
			fmt.Sprintf("vector has dimension %d, index configured for %d", len(vector), q.cfg.Dimensions))
	}
	id := chunk.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Points:         []*qdrant.PointStruct{chunkPoint(doc, chunk, vector, id, time.Now().UnixNano())},
	})
	if err != nil {
		return "", retrieval.WrapError(retrieval.KindStorage, "index", "upsert chunk", err)
	}
	return id, nil
}

// InsertDocument stores all chunks of a document in a single upsert call so
// they become visible together.
func (q *QdrantIndex) InsertDocument(ctx context.Context, doc retrieval.Document, chunks []retrieval.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return retrieval.NewError(retrieval.KindInvalidInput, "index",
			fmt.Sprintf("%d chunks but %d vectors", len(chunks), len(vectors)))
	}
	for i, v := range vectors {
		if len(v) != q.cfg.Dimensions {
			return retrieval.NewError(retrieval.KindDimensionMismatch, "index",
				fmt.Sprintf("vector %d has dimension %d, index configured for %d", i, len(v), q.cfg.Dimensions))
		}
	}

	base := time.Now().UnixNano()
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i := range chunks {
		id := chunks[i].ID
		if id == "" {
			id = uuid.NewString()
		}
		points = append(points, chunkPoint(doc, chunks[i], vectors[i], id, base+int64(i)))
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index", "upsert document", err)
	}
	return nil
}

// resultFromPayload reconstructs a SearchResult from a point payload.
func resultFromPayload(id string, payload map[string]*qdrant.Value) (retrieval.SearchResult, int64) {
	r := retrieval.SearchResult{Chunk: retrieval.Chunk{ID: id}}
	var ord int64
	if payload == nil {
		return r, ord
	}
	if v, ok := payload["document_id"]; ok {
		r.Chunk.DocumentID = v.GetStringValue()
	}
	if v, ok := payload["filename"]; ok {
		r.Filename = v.GetStringValue()
	}
	if v, ok := payload["seq"]; ok {
		r.Chunk.Sequence = int(v.GetIntegerValue())
	}
	if v, ok := payload["text"]; ok {
		r.Chunk.Text = v.GetStringValue()
	}
	if v, ok := payload["start_offset"]; ok {
		r.Chunk.StartOffset = int(v.GetIntegerValue())
	}
	if v, ok := payload["end_offset"]; ok {
		r.Chunk.EndOffset = int(v.GetIntegerValue())
	}
	if v, ok := payload["ord"]; ok {
		ord = v.GetIntegerValue()
	}
	return r, ord
}

// Query performs a cosine similarity search and returns at most k results
// ordered by ascending distance with insertion order breaking ties.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, k int, maxDistance float64) ([]retrieval.SearchResult, error) {
	if len(vector) != q.cfg.Dimensions {
		return nil, retrieval.NewError(retrieval.KindDimensionMismatch, "index",
			fmt.Sprintf("query vector has dimension %d, index configured for %d", len(vector), q.cfg.Dimensions))
	}
	if k < 1 {
		return nil, retrieval.NewError(retrieval.KindInvalidInput, "index",
			fmt.Sprintf("k must be >= 1, got %d", k))
	}

	limit := uint64(k)
	req := &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if maxDistance > 0 {
		// Qdrant reports cosine similarity (higher = closer); translate the
		// distance ceiling into a score floor.
		threshold := float32(1 - maxDistance)
		req.ScoreThreshold = &threshold
	}

	points, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "query", err)
	}

	scored := make([]scoredChunk, 0, len(points))
	for _, p := range points {
		r, ord := resultFromPayload(p.Id.GetUuid(), p.Payload)
		r.Distance = float64(1 - p.Score)
		scored = append(scored, scoredChunk{result: r, rowid: ord})
	}
	// Qdrant orders by score but leaves exact ties unspecified.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].result.Distance != scored[j].result.Distance {
			return scored[i].result.Distance < scored[j].result.Distance
		}
		return scored[i].rowid < scored[j].rowid
	})

	results := make([]retrieval.SearchResult, 0, len(scored))
	for _, sc := range scored {
		results = append(results, sc.result)
	}
	return results, nil
}

// Keyword performs a case-insensitive substring search over stored chunk text,
// scanning the collection client-side. Qdrant's full-text match tokenizes by
// word and so cannot express the substring contract directly.
func (q *QdrantIndex) Keyword(ctx context.Context, query string, k int) ([]retrieval.SearchResult, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, retrieval.NewError(retrieval.KindInvalidInput, "index", "keyword query is empty")
	}
	if k < 1 {
		return nil, retrieval.NewError(retrieval.KindInvalidInput, "index",
			fmt.Sprintf("k must be >= 1, got %d", k))
	}

	limit := uint32(scrollLimit)
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.cfg.Collection,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "keyword scroll", err)
	}

	type counted struct {
		result  retrieval.SearchResult
		matches int
		ord     int64
	}
	var hits []counted
	maxMatches := 0
	for _, p := range points {
		r, ord := resultFromPayload(p.Id.GetUuid(), p.Payload)
		matches := strings.Count(strings.ToLower(r.Chunk.Text), needle)
		if matches == 0 {
			continue
		}
		if matches > maxMatches {
			maxMatches = matches
		}
		hits = append(hits, counted{result: r, matches: matches, ord: ord})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].matches != hits[j].matches {
			return hits[i].matches > hits[j].matches
		}
		return hits[i].ord < hits[j].ord
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	results := make([]retrieval.SearchResult, 0, len(hits))
	for _, h := range hits {
		r := h.result
		r.Similarity = float64(h.matches) / float64(maxMatches)
		results = append(results, r)
	}
	return results, nil
}

// DeleteDocument removes all points belonging to the document. Deleting an
// absent id is a no-op.
func (q *QdrantIndex) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
		}),
	})
	if err != nil {
		return retrieval.WrapError(retrieval.KindStorage, "index", "delete document", err)
	}
	return nil
}

// ListDocuments returns all stored documents, oldest first, by scanning each
// document's first chunk. RawText is not populated — Qdrant only holds chunk
// text.
func (q *QdrantIndex) ListDocuments(ctx context.Context) ([]retrieval.Document, error) {
	limit := uint32(scrollLimit)
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.cfg.Collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchInt("seq", 0)},
		},
		Limit:       &limit,
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, retrieval.WrapError(retrieval.KindStorage, "index", "list documents", err)
	}

	docs := make([]retrieval.Document, 0, len(points))
	for _, p := range points {
		var d retrieval.Document
		if payload := p.Payload; payload != nil {
			if v, ok := payload["document_id"]; ok {
				d.ID = v.GetStringValue()
			}
			if v, ok := payload["filename"]; ok {
				d.Filename = v.GetStringValue()
			}
			if v, ok := payload["word_count"]; ok {
				d.WordCount = int(v.GetIntegerValue())
			}
			if v, ok := payload["created_at"]; ok {
				d.CreatedAt = time.Unix(v.GetIntegerValue(), 0)
			}
		}
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.Before(docs[j].CreatedAt) })
	return docs, nil
}

// Stats returns document and chunk counts.
func (q *QdrantIndex) Stats(ctx context.Context) (retrieval.Stats, error) {
	var st retrieval.Stats

	chunks, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
	})
	if err != nil {
		return st, retrieval.WrapError(retrieval.KindStorage, "index", "count chunks", err)
	}

	docs, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchInt("seq", 0)},
		},
	})
	if err != nil {
		return st, retrieval.WrapError(retrieval.KindStorage, "index", "count documents", err)
	}

	st.Chunks = int(chunks)
	st.Documents = int(docs)
	return st, nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
