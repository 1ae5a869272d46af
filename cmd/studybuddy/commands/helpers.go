package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/studybuddy-ai/studybuddy-go/internal/chunker"
	"github.com/studybuddy-ai/studybuddy-go/internal/embedder"
	"github.com/studybuddy-ai/studybuddy-go/internal/index"
	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

// buildService wires the full retrieval pipeline (chunker, embedder, vector
// index) from the environment. Zero for both chunkSize and chunkOverlap
// selects the chunker defaults. The returned close function releases the
// index backend.
func buildService(ctx context.Context, log *slog.Logger, chunkSize, chunkOverlap int) (*retrieval.Service, func(), error) {
	split, err := chunker.New(chunkSize, chunkOverlap)
	if err != nil {
		return nil, nil, err
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	idx, err := index.NewFromEnv(ctx, emb.Dimensions())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	closeIdx := func() { _ = idx.Close() }

	svc, err := retrieval.NewService(split, emb, idx, log)
	if err != nil {
		closeIdx()
		return nil, nil, err
	}
	return svc, closeIdx, nil
}

// getEnvOrDefault returns the env value for key, or fallback when unset/empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer env value for key, or fallback when unset or
// not a number.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
