package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/studybuddy-ai/studybuddy-go/internal/logging"
	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

// NewSearchCmd constructs the `studybuddy search` command, which runs a
// semantic search over the indexed course materials and prints the matches.
func NewSearchCmd() *cobra.Command {
	var topK int
	var maxDistance float64

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the indexed course materials",
		Long: `Embed the query and return the closest chunks from the study index,
best match first, with the source document and a relevance score per match.

When the embedding backend is unreachable the search falls back to keyword
matching and says so — results may be less relevant.

Examples:
  studybuddy search "what is cellular respiration"
  studybuddy search --top-k 10 "mitosis phases"
  studybuddy search --max-distance 0.5 "krebs cycle"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			svc, closeSvc, err := buildService(ctx, log, 0, 0)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer closeSvc()

			resp, err := svc.Search(ctx, args[0], topK, maxDistance)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			out := cmd.OutOrStdout()
			if resp.Degraded {
				fmt.Fprintln(out, "note: embedding backend unavailable — keyword results, may be less relevant")
			}
			if len(resp.Results) == 0 {
				fmt.Fprintln(out, "no matches")
				return nil
			}

			for i, res := range resp.Results {
				fmt.Fprintf(out, "%d. %s (chunk %d, relevance %.2f)\n", i+1, res.Filename, res.Chunk.Sequence, res.Similarity)
				fmt.Fprintf(out, "   %s\n", excerpt(res.Chunk.Text, 200))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", retrieval.DefaultTopK, "Number of results to return")
	cmd.Flags().Float64Var(&maxDistance, "max-distance", 0, "Drop results farther than this distance (0 = no filter)")

	return cmd
}

// excerpt trims s to at most n runes, appending an ellipsis when truncated.
func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
