package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/studybuddy-ai/studybuddy-go/internal/logging"
)

// NewStatsCmd constructs the `studybuddy stats` command, which prints the
// index counters.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			svc, closeSvc, err := buildService(ctx, log, 0, 0)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer closeSvc()

			stats, err := svc.Stats(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "documents: %d\nchunks:    %d\n", stats.Documents, stats.Chunks)
			return nil
		},
	}
}
