package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/studybuddy-ai/studybuddy-go/internal/chat"
	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the interface to bind. Defaults to 127.0.0.1 — the server is
	// local-first and must be exposed deliberately.
	Host string

	// Port is the TCP port to listen on. Defaults to 8080.
	Port int

	// ReadTimeout bounds how long reading a request may take. Defaults to 30s.
	ReadTimeout time.Duration

	// WriteTimeout bounds how long writing a response may take. Chat responses
	// stream token by token, so this defaults generously to 5 minutes.
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown. Defaults to 10s.
	ShutdownTimeout time.Duration

	// Logger is the base structured logger. Defaults to slog.Default().
	Logger *slog.Logger

	// Pingers are the dependency probes exposed via GET /api/ready.
	Pingers []Pinger

	// RateLimit is the sustained requests/second allowed per client IP.
	// Defaults to 10 when zero.
	RateLimit float64

	// RateBurst is the per-IP burst capacity. Defaults to 20 when zero.
	RateBurst int

	// APIKey, when non-empty, enables Bearer-token auth on the /api/ routes.
	// /api/health, /api/ready, and /metrics remain open for probes.
	APIKey string
}

// DocumentService is the slice of the retrieval service the HTTP handlers
// use. Declared as an interface so tests can inject a fake.
type DocumentService interface {
	Ingest(ctx context.Context, filename, text string) (retrieval.Document, error)
	Search(ctx context.Context, query string, k int, maxDistance float64) (retrieval.Response, error)
	Delete(ctx context.Context, documentID string) error
	Documents(ctx context.Context) ([]retrieval.Document, error)
	Stats(ctx context.Context) (retrieval.Stats, error)
}

// Answerer is the slice of the chat answerer the chat handler uses.
type Answerer interface {
	Ask(ctx context.Context, sessionID, question string, w io.Writer) (chat.Answer, error)
}

// SessionClearer erases the stored history of one chat session.
type SessionClearer interface {
	Clear(ctx context.Context, sessionID string) error
}

// Server is the HTTP front end over the retrieval service and chat answerer.
type Server struct {
	cfg      Config
	docs     DocumentService
	answerer Answerer
	sessions SessionClearer
	log      *slog.Logger
	metrics  *serverMetrics
	pingers  []Pinger

	mux        *http.ServeMux
	handler    http.Handler
	httpServer *http.Server
	stopRL     func()
}

// ingestRequest is the JSON body of POST /api/documents.
type ingestRequest struct {
	// Filename labels the document in search results and listings.
	Filename string `json:"filename"`
	// Content is the full document text to chunk and index.
	Content string `json:"content"`
}

// searchRequest is the JSON body of POST /api/search.
type searchRequest struct {
	// Query is the free-text search query.
	Query string `json:"query"`
	// TopK is the number of results to return. Zero means the service default.
	TopK int `json:"top_k"`
	// MaxDistance drops results farther than this. Zero disables the filter.
	MaxDistance float64 `json:"max_distance"`
}

// searchResult is one entry in the search response.
type searchResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Sequence   int     `json:"sequence"`
	Text       string  `json:"text"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}

// searchResponse is the JSON body returned by POST /api/search.
type searchResponse struct {
	Results []searchResult `json:"results"`
	// Degraded is true when the results came from the keyword fallback
	// because the embedding backend was unavailable.
	Degraded bool `json:"degraded"`
}

// documentInfo is one entry in the document listing.
type documentInfo struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	WordCount int       `json:"word_count"`
	CreatedAt time.Time `json:"created_at"`
}

// chatRequest is the JSON body of POST /api/chat.
type chatRequest struct {
	// SessionID scopes chat history. Empty means a stateless one-off question.
	SessionID string `json:"session_id"`
	// Message is the student's question.
	Message string `json:"message"`
}
