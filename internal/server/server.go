// Package server exposes the retrieval service and chat answerer over HTTP.
//
// The API surface:
//
//	POST   /api/documents       — ingest a document (JSON {filename, content})
//	GET    /api/documents       — list indexed documents
//	DELETE /api/documents/{id}  — delete a document and its chunks
//	POST   /api/search          — semantic search (JSON {query, top_k, max_distance})
//	GET    /api/stats           — index counters
//	POST   /api/chat            — ask a question, answer streamed as SSE
//	DELETE /api/chat/{session}  — clear one session's chat history
//	GET    /api/health          — liveness
//	GET    /api/ready           — readiness (probes model, embedder, index)
//	GET    /metrics             — Prometheus metrics
//
// The server binds 127.0.0.1 by default and optionally enforces Bearer-token
// auth and per-IP rate limiting on the /api/ routes. Health, readiness, and
// metrics stay open so probes work without credentials.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/studybuddy-ai/studybuddy-go/internal/logging"
	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

// New constructs a Server from the given config and dependencies. docs is
// required; answerer and sessions may be nil, in which case the chat routes
// return 503. Metrics are registered on reg.
func New(cfg Config, docs DocumentService, answerer Answerer, sessions SessionClearer, reg prometheus.Registerer) (*Server, error) {
	if docs == nil {
		return nil, fmt.Errorf("server: document service must not be nil")
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}

	s := &Server{
		cfg:      cfg,
		docs:     docs,
		answerer: answerer,
		sessions: sessions,
		log:      cfg.Logger,
		metrics:  newServerMetrics(reg),
		pingers:  cfg.Pingers,
		mux:      http.NewServeMux(),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	s.stopRL = stopRL

	// Probe and metrics routes stay outside auth and rate limiting.
	s.route("GET /api/health", http.HandlerFunc(s.handleHealth))
	s.route("GET /api/ready", http.HandlerFunc(s.handleReady))
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(gathererFor(reg), promhttp.HandlerOpts{}))

	protected := func(h http.Handler) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}
	s.route("POST /api/documents", protected(http.HandlerFunc(s.handleIngest)))
	s.route("GET /api/documents", protected(http.HandlerFunc(s.handleListDocuments)))
	s.route("DELETE /api/documents/{id}", protected(http.HandlerFunc(s.handleDeleteDocument)))
	s.route("POST /api/search", protected(http.HandlerFunc(s.handleSearch)))
	s.route("GET /api/stats", protected(http.HandlerFunc(s.handleStats)))
	s.route("POST /api/chat", protected(http.HandlerFunc(s.handleChat)))
	s.route("DELETE /api/chat/{session}", protected(http.HandlerFunc(s.handleClearSession)))

	s.handler = requestLogger(cfg.Logger, s.mux)

	if cfg.APIKey == "" {
		s.log.Warn("API key not configured — /api routes are unauthenticated")
	}

	return s, nil
}

// route registers pattern on the mux wrapped with per-route metrics. The
// route label is the registration pattern, so path parameters do not explode
// metric cardinality.
func (s *Server) route(pattern string, h http.Handler) {
	s.mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h.ServeHTTP(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(pattern, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDuration.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
	}))
}

// gathererFor returns reg as a Gatherer when it is one (the common case of
// *prometheus.Registry), falling back to the default gatherer.
func gathererFor(reg prometheus.Registerer) prometheus.Gatherer {
	if g, ok := reg.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.DefaultGatherer
}

// Handler returns the fully assembled HTTP handler. Exposed for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", slog.String("addr", addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return err
	case <-ctx.Done():
	}

	s.log.Info("server shutting down")
	s.stopRL()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return <-errCh
}

// handleHealth handles GET /api/health for liveness checks. It always
// returns 200 — readiness of dependencies is /api/ready's job.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeError maps an error to a JSON error response. Invalid input becomes
// 400, everything else 500, and the body carries only the error kind and
// message, never internal detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if retrieval.IsKind(err, retrieval.KindInvalidInput) {
		status = http.StatusBadRequest
	}

	var rerr *retrieval.Error
	msg := "internal error"
	if errors.As(err, &rerr) {
		msg = rerr.Msg
	}

	logging.FromContext(r.Context()).Error("request failed",
		slog.Int("status", status),
		slog.Any("error", err),
	)
	writeJSON(w, r, status, map[string]string{"error": msg})
}
