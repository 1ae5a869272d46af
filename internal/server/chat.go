package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/studybuddy-ai/studybuddy-go/internal/logging"
)

// chatSource is one grounding excerpt reported in the "sources" SSE event.
type chatSource struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Sequence   int     `json:"sequence"`
	Similarity float64 `json:"similarity"`
}

// chatSourcesEvent is the payload of the "sources" SSE event sent after the
// answer text finishes streaming.
type chatSourcesEvent struct {
	Sources  []chatSource `json:"sources"`
	Degraded bool         `json:"degraded"`
}

// handleChat handles POST /api/chat. The answer streams as Server-Sent
// Events: unnamed events carry answer text as it arrives, a "sources" event
// carries the grounding excerpts, and a "done" event terminates the stream.
// Errors after streaming has begun arrive as an "error" event since the
// status line is already on the wire.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if s.answerer == nil {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"error": "chat is not configured"})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "message is empty"})
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "default"
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, r, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()
	start := time.Now()

	sse := &sseWriter{w: w, flusher: flusher}

	ans, err := s.answerer.Ask(r.Context(), sessionID, req.Message, sse)
	if err != nil {
		// Status line is already sent; the error travels in-band.
		log.Error("chat request failed", slog.Any("error", err))
		sse.event("error", []byte("the assistant could not answer, please retry"))
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		return
	}

	srcEvent := chatSourcesEvent{Sources: make([]chatSource, 0, len(ans.Sources)), Degraded: ans.Degraded}
	for _, src := range ans.Sources {
		srcEvent.Sources = append(srcEvent.Sources, chatSource{
			DocumentID: src.Chunk.DocumentID,
			Filename:   src.Filename,
			Sequence:   src.Chunk.Sequence,
			Similarity: src.Similarity,
		})
	}
	if payload, err := json.Marshal(srcEvent); err == nil {
		sse.event("sources", payload)
	}
	sse.event("done", []byte("[DONE]"))

	s.metrics.chatRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.chatDuration.Observe(time.Since(start).Seconds())
}

// sseWriter adapts an http.ResponseWriter into an io.Writer that frames
// every Write as one Server-Sent Event and flushes it immediately, so
// answer tokens reach the client as they are generated.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// Write frames p as a single unnamed SSE event. Embedded newlines become
// multiple "data:" lines of the same event, per the SSE wire format.
func (s *sseWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for _, line := range bytes.Split(p, []byte("\n")) {
		if _, err := s.w.Write([]byte("data: ")); err != nil {
			return 0, err
		}
		if _, err := s.w.Write(line); err != nil {
			return 0, err
		}
		if _, err := s.w.Write([]byte("\n")); err != nil {
			return 0, err
		}
	}
	if _, err := s.w.Write([]byte("\n")); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}

// event emits a named SSE event with the given payload.
func (s *sseWriter) event(name string, data []byte) {
	if _, err := s.w.Write([]byte("event: " + name + "\n")); err != nil {
		return
	}
	if _, err := s.w.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
		return
	}
	s.flusher.Flush()
}
