package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/studybuddy-ai/studybuddy-go/internal/logging"
)

// NewDeleteCmd constructs the `studybuddy delete` command, which removes a
// document and all of its chunks from the index.
func NewDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [document-id]",
		Short: "Delete a document and its chunks from the index",
		Long: `Remove a document and every chunk derived from it. Document IDs are shown
by 'studybuddy list'. Deleting an ID that does not exist is not an error —
the end state is the same.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			svc, closeSvc, err := buildService(ctx, log, 0, 0)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			defer closeSvc()

			if err := svc.Delete(ctx, args[0]); err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
