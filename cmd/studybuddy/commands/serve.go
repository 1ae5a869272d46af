package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/studybuddy-ai/studybuddy-go/internal/chat"
	"github.com/studybuddy-ai/studybuddy-go/internal/chunker"
	"github.com/studybuddy-ai/studybuddy-go/internal/embedder"
	"github.com/studybuddy-ai/studybuddy-go/internal/index"
	"github.com/studybuddy-ai/studybuddy-go/internal/logging"
	"github.com/studybuddy-ai/studybuddy-go/internal/provider"
	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
	"github.com/studybuddy-ai/studybuddy-go/internal/server"
	"github.com/studybuddy-ai/studybuddy-go/internal/tracing"
)

// NewServeCmd constructs the `studybuddy serve` command, which starts the
// HTTP server exposing ingestion, search, and chat.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Study Buddy HTTP server",
		Long: `Start the Study Buddy HTTP server on localhost.

The server exposes a REST API for document ingestion, semantic search, and
an SSE chat endpoint that streams tutor answers. Set STUDYBUDDY_API_KEY to
require Bearer-token auth on the API routes; health, readiness, and metrics
stay open for probes.

Examples:
  studybuddy serve
  studybuddy serve --port 9090
  MODEL_PROVIDER=azure studybuddy serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting",
				slog.String("provider", os.Getenv("MODEL_PROVIDER")),
				slog.String("index_backend", getEnvOrDefault("INDEX_BACKEND", "sqlite")),
			)

			// Langfuse tracing — opt-in, no-op if keys are absent.
			if handler, flush, ok := tracing.Setup(); ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			split, err := chunker.New(0, 0)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("serve: failed to initialise embedder: %w", err)
			}
			idx, err := index.NewFromEnv(ctx, emb.Dimensions())
			if err != nil {
				return fmt.Errorf("serve: failed to open vector index: %w", err)
			}
			defer func() { _ = idx.Close() }()

			svc, err := retrieval.NewService(split, emb, idx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			historyStore, closeHistory := openHistory(log)
			defer closeHistory()

			// Chat is optional: a misconfigured model provider disables the
			// chat routes but leaves ingestion and search serving.
			var answerer server.Answerer
			var sessions server.SessionClearer
			pingers := []server.Pinger{
				server.NewEmbedderPinger(emb, getEnvOrDefault("EMBEDDING_PROVIDER", "ollama")),
				server.NewIndexPinger(idx, getEnvOrDefault("INDEX_BACKEND", "sqlite")),
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				log.Warn("chat disabled: model provider failed to initialise", slog.Any("error", err))
			} else {
				a, err := chat.New(&chat.Config{
					ChatModel:        chatModel,
					Retrieval:        svc,
					TopK:             getEnvInt("CHAT_TOP_K", 0),
					History:          historyStore,
					HistoryDepth:     getEnvInt("CHAT_HISTORY_DEPTH", 0),
					MaxContextTokens: getEnvInt("CHAT_MAX_CONTEXT_TOKENS", 0),
				})
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				answerer = a
				pingers = append(pingers, server.NewLLMPinger(chatModel, getEnvOrDefault("MODEL_PROVIDER", "ollama")))
			}
			if historyStore != nil {
				sessions = historyStore
			}

			srv, err := server.New(server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("STUDYBUDDY_API_KEY"),
			}, svc, answerer, sessions, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
