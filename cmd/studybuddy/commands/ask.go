package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/studybuddy-ai/studybuddy-go/internal/chat"
	"github.com/studybuddy-ai/studybuddy-go/internal/history"
	"github.com/studybuddy-ai/studybuddy-go/internal/logging"
	"github.com/studybuddy-ai/studybuddy-go/internal/provider"
	"github.com/studybuddy-ai/studybuddy-go/internal/tracing"
)

// NewAskCmd constructs the `studybuddy ask` command, which answers a single
// question grounded in the indexed course materials, streaming to stdout.
func NewAskCmd() *cobra.Command {
	var session string
	var topK int

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the tutor a question about your course materials",
		Long: `Ask a natural-language question. The answer is grounded in the closest
matching excerpts from your indexed materials and streamed to stdout, with
the source documents listed at the end.

Sessions give the tutor memory: questions asked under the same --session
share conversation history, so follow-ups like "can you give an example?"
work as expected.

Examples:
  studybuddy ask "what is the powerhouse of the cell?"
  studybuddy ask --session biology "explain the krebs cycle"
  studybuddy ask --session biology "can you give an example?"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Langfuse tracing is opt-in; a no-op unless keys are set.
			if handler, flush, ok := tracing.Setup(); ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			svc, closeSvc, err := buildService(ctx, log, 0, 0)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer closeSvc()

			historyStore, closeHistory := openHistory(log)
			defer closeHistory()

			answerer, err := chat.New(&chat.Config{
				ChatModel:        chatModel,
				Retrieval:        svc,
				TopK:             topK,
				History:          historyStore,
				HistoryDepth:     getEnvInt("CHAT_HISTORY_DEPTH", 0),
				MaxContextTokens: getEnvInt("CHAT_MAX_CONTEXT_TOKENS", 0),
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			ans, err := answerer.Ask(ctx, session, args[0], os.Stdout)
			if err != nil {
				return err
			}
			fmt.Println()

			if len(ans.Sources) > 0 {
				fmt.Println("\nSources:")
				for _, src := range ans.Sources {
					fmt.Printf("  - %s (chunk %d, relevance %.2f)\n", src.Filename, src.Chunk.Sequence, src.Similarity)
				}
			}
			if ans.Degraded {
				fmt.Println("\nnote: embedding backend unavailable — excerpts came from keyword search")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&session, "session", "s", "default", "Session name for conversation history")
	cmd.Flags().IntVarP(&topK, "top-k", "k", getEnvInt("CHAT_TOP_K", 0), "Number of excerpts to ground the answer on")

	return cmd
}

// openHistory opens the chat history store. STUDYBUDDY_HISTORY_DB overrides
// the default path (~/.studybuddy/history.db); "disabled" turns history off.
// Failure to open is non-fatal — the tutor just loses memory.
func openHistory(log *slog.Logger) (history.Store, func()) {
	noop := func() {}

	dbPath := os.Getenv("STUDYBUDDY_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: disabled via STUDYBUDDY_HISTORY_DB=disabled")
		return nil, noop
	}
	if dbPath == "" {
		var err error
		dbPath, err = history.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil, noop
		}
	}

	hs, err := history.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil, noop
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return hs, func() { _ = hs.Close() }
}
