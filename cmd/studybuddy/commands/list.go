package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/studybuddy-ai/studybuddy-go/internal/logging"
)

// NewListCmd constructs the `studybuddy list` command, which prints the
// indexed documents oldest-first.
func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the indexed course materials",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			svc, closeSvc, err := buildService(ctx, log, 0, 0)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			defer closeSvc()

			docs, err := svc.Documents(ctx)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			if len(docs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no documents indexed — run 'studybuddy ingest' first")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFILENAME\tWORDS\tINGESTED")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.ID, d.Filename, d.WordCount, d.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}
