package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/studybuddy-ai/studybuddy-go/internal/chunker"
	"github.com/studybuddy-ai/studybuddy-go/internal/embedder"
	"github.com/studybuddy-ai/studybuddy-go/internal/ingestion"
	"github.com/studybuddy-ai/studybuddy-go/internal/logging"
)

// NewIngestCmd constructs the `studybuddy ingest` command, which chunks,
// embeds, and indexes course material files.
func NewIngestCmd() *cobra.Command {
	var chunkSize int
	var chunkOverlap int
	var urls []string

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest course materials into the study index",
		Long: `Chunk, embed, and index one or more text files so their content can be
searched and used to ground tutor answers.

Files are split into overlapping word windows (default 400 words with 50
words of overlap), embedded via the configured embedding provider, and
stored in the vector index. A document only becomes searchable once all of
its chunks are stored.

Glob patterns are expanded, so shells without globbing still work. Web pages
can be ingested with --url; HTML is reduced to its prose before indexing.

Examples:
  studybuddy ingest notes/biology-week3.txt
  studybuddy ingest 'notes/*.md'
  studybuddy ingest --url https://en.wikipedia.org/wiki/Photosynthesis
  studybuddy ingest --chunk-size 200 --chunk-overlap 20 summary.txt`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Pre-flight: catch a chat model configured as the embedding
			// model before any file is touched.
			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			svc, closeSvc, err := buildService(ctx, log, chunkSize, chunkOverlap)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer closeSvc()

			if len(args) == 0 && len(urls) == 0 {
				return fmt.Errorf("ingest: at least one file or --url is required")
			}

			paths, err := expandGlobs(args)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			for _, path := range paths {
				text, err := ingestion.ReadTextFile(path)
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", path, err)
				}

				doc, err := svc.Ingest(ctx, filepath.Base(path), text)
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %s (%d words, %d chunks) as %s\n",
					doc.Filename, doc.WordCount, doc.ChunkCount, doc.ID)
			}

			for _, u := range urls {
				text, err := ingestion.FetchURL(ctx, u)
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", u, err)
				}

				doc, err := svc.Ingest(ctx, u, text)
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", u, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %s (%d words, %d chunks) as %s\n",
					doc.Filename, doc.WordCount, doc.ChunkCount, doc.ID)
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&chunkSize, "chunk-size", chunker.DefaultTargetSize, "Chunk size in words")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", chunker.DefaultOverlap, "Overlap between consecutive chunks in words")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Web page URL to ingest (repeatable)")

	return cmd
}

// expandGlobs expands each argument as a glob pattern. Arguments that match
// nothing but exist as literal paths are kept as-is.
func expandGlobs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			if _, statErr := os.Stat(arg); statErr != nil {
				return nil, fmt.Errorf("no files match %q", arg)
			}
			matches = []string{arg}
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}
