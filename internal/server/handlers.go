package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/studybuddy-ai/studybuddy-go/internal/logging"
	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

// maxIngestBytes caps the request body of POST /api/documents. Course
// materials are text; 10 MiB is far beyond any realistic lecture transcript.
const maxIngestBytes = 10 << 20

// handleIngest handles POST /api/documents. The body is a JSON
// ingestRequest; the response echoes the stored document metadata with 201.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, retrieval.WrapError(retrieval.KindInvalidInput, "server", "invalid JSON body", err))
		s.metrics.ingestDocumentsTotal.WithLabelValues("error").Inc()
		return
	}
	if strings.TrimSpace(req.Filename) == "" {
		req.Filename = "untitled"
	}

	doc, err := s.docs.Ingest(r.Context(), req.Filename, req.Content)
	if err != nil {
		writeError(w, r, err)
		s.metrics.ingestDocumentsTotal.WithLabelValues("error").Inc()
		return
	}

	s.metrics.ingestDocumentsTotal.WithLabelValues("ok").Inc()
	s.metrics.ingestChunksTotal.Add(float64(doc.ChunkCount))

	writeJSON(w, r, http.StatusCreated, documentInfo{
		ID:        doc.ID,
		Filename:  doc.Filename,
		WordCount: doc.WordCount,
		CreatedAt: doc.CreatedAt,
	})
}

// handleListDocuments handles GET /api/documents, returning all indexed
// documents oldest-first without their raw text.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.docs.Documents(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	infos := make([]documentInfo, 0, len(docs))
	for _, d := range docs {
		infos = append(infos, documentInfo{
			ID:        d.ID,
			Filename:  d.Filename,
			WordCount: d.WordCount,
			CreatedAt: d.CreatedAt,
		})
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"documents": infos})
}

// handleDeleteDocument handles DELETE /api/documents/{id}. Deleting an
// unknown ID succeeds with 204 — the end state is the same.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.docs.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSearch handles POST /api/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, retrieval.WrapError(retrieval.KindInvalidInput, "server", "invalid JSON body", err))
		s.metrics.searchRequestsTotal.WithLabelValues("error").Inc()
		return
	}

	resp, err := s.docs.Search(r.Context(), req.Query, req.TopK, req.MaxDistance)
	if err != nil {
		writeError(w, r, err)
		s.metrics.searchRequestsTotal.WithLabelValues("error").Inc()
		return
	}

	outcome := "ok"
	if resp.Degraded {
		outcome = "degraded"
		logging.FromContext(r.Context()).Warn("search degraded to keyword fallback",
			slog.Int("results", len(resp.Results)),
		)
	}
	s.metrics.searchRequestsTotal.WithLabelValues(outcome).Inc()

	out := searchResponse{Results: make([]searchResult, 0, len(resp.Results)), Degraded: resp.Degraded}
	for _, res := range resp.Results {
		out.Results = append(out.Results, searchResult{
			ChunkID:    res.Chunk.ID,
			DocumentID: res.Chunk.DocumentID,
			Filename:   res.Filename,
			Sequence:   res.Chunk.Sequence,
			Text:       res.Chunk.Text,
			Distance:   res.Distance,
			Similarity: res.Similarity,
		})
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.docs.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{
		"documents": stats.Documents,
		"chunks":    stats.Chunks,
	})
}

// handleClearSession handles DELETE /api/chat/{session}, erasing the stored
// history of one chat session.
func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"error": "chat history is not configured"})
		return
	}
	if err := s.sessions.Clear(r.Context(), r.PathValue("session")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
