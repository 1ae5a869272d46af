package index

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

// NewFromEnv constructs a retrieval.VectorIndex from environment variables
// (which the config package pre-populates from the YAML file, so env always
// wins). dims is the embedding dimensionality the index must accept.
//
// Resolution order:
//
//  1. INDEX_BACKEND — sqlite (default), qdrant, pgvector
//  2. sqlite: INDEX_PATH (default ~/.studybuddy/index.db)
//  3. qdrant: QDRANT_HOST, QDRANT_PORT, QDRANT_COLLECTION, QDRANT_API_KEY,
//     QDRANT_USE_TLS
//  4. pgvector: DATABASE_URL
func NewFromEnv(ctx context.Context, dims int) (retrieval.VectorIndex, error) {
	backend := envOrDefault("INDEX_BACKEND", "sqlite")

	switch backend {
	case "sqlite":
		path := os.Getenv("INDEX_PATH")
		if path == "" {
			var err error
			path, err = DefaultDBPath()
			if err != nil {
				return nil, err
			}
		}
		return OpenSQLite(path, dims)

	case "qdrant":
		port := 0
		if v := os.Getenv("QDRANT_PORT"); v != "" {
			p, err := strconv.Atoi(v)
			if err != nil {
				return nil, retrieval.WrapError(retrieval.KindInvalidConfiguration, "index",
					"QDRANT_PORT is not a number", err)
			}
			port = p
		}
		return OpenQdrant(ctx, &QdrantConfig{
			Host:       os.Getenv("QDRANT_HOST"),
			Port:       port,
			Collection: os.Getenv("QDRANT_COLLECTION"),
			Dimensions: dims,
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_USE_TLS") == "true",
		})

	case "pgvector":
		url := os.Getenv("DATABASE_URL")
		if url == "" {
			return nil, retrieval.NewError(retrieval.KindInvalidConfiguration, "index",
				"INDEX_BACKEND=pgvector requires DATABASE_URL")
		}
		return OpenPg(ctx, url, dims)

	default:
		return nil, retrieval.NewError(retrieval.KindInvalidConfiguration, "index",
			fmt.Sprintf("unknown INDEX_BACKEND %q — valid values: sqlite, qdrant, pgvector", backend))
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
