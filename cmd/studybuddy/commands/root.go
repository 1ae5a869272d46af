// Package commands defines all Cobra CLI commands for the studybuddy binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/studybuddy-ai/studybuddy-go/internal/audit"
	"github.com/studybuddy-ai/studybuddy-go/internal/config"
	"github.com/studybuddy-ai/studybuddy-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "studybuddy",
		Short: "Study Buddy — an AI tutor grounded in your own course materials",
		Long: `Study Buddy is a local-first AI tutor. Ingest your lecture notes,
textbook excerpts, and summaries, then ask questions: answers are grounded in
your own materials, with the source excerpts cited.

Model provider is selected via the MODEL_PROVIDER environment variable or a
YAML config file (~/.studybuddy/config.yaml). The vector index defaults to a
local SQLite file; Qdrant and pgvector backends are available via
INDEX_BACKEND. See 'studybuddy --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Pick up a local .env if present; real env vars still win.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.studybuddy/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewSearchCmd(),
		NewAskCmd(),
		NewListCmd(),
		NewDeleteCmd(),
		NewStatsCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
