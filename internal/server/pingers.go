package server

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

// LLMPinger probes the chat model backend by issuing a minimal generation.
// This is the only reliable cross-provider check: every backend (Ollama,
// OpenAI, Azure, Gemini) accepts a one-token completion.
type LLMPinger struct {
	// chatModel is the configured chat backend.
	chatModel model.ToolCallingChatModel
	// name labels this probe in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs a probe for the given chat model. name should be
// the backend label from the provider config.
func NewLLMPinger(m model.ToolCallingChatModel, name string) *LLMPinger {
	return &LLMPinger{chatModel: m, name: name}
}

// Ping issues a trivial generation and discards the result.
func (p *LLMPinger) Ping(ctx context.Context) error {
	_, err := p.chatModel.Generate(ctx, []*schema.Message{
		schema.UserMessage("ping"),
	})
	if err != nil {
		return fmt.Errorf("chat model unreachable: %w", err)
	}
	return nil
}

// Name returns the backend label.
func (p *LLMPinger) Name() string { return p.name }

// IndexPinger probes the vector index by reading its stats. A failing
// backing store (SQLite file, Qdrant, Postgres) surfaces here.
type IndexPinger struct {
	index retrieval.VectorIndex
	name  string
}

// NewIndexPinger constructs a probe for the given index. name should be the
// backend label ("sqlite", "qdrant", "pgvector").
func NewIndexPinger(idx retrieval.VectorIndex, name string) *IndexPinger {
	return &IndexPinger{index: idx, name: name}
}

// Ping reads the index stats, discarding the counts.
func (p *IndexPinger) Ping(ctx context.Context) error {
	if _, err := p.index.Stats(ctx); err != nil {
		return fmt.Errorf("index unreachable: %w", err)
	}
	return nil
}

// Name returns the backend label.
func (p *IndexPinger) Name() string { return p.name }

// EmbedderPinger probes the embedding backend by embedding a single probe
// token. Catches unreachable hosts and missing models before the first
// real ingest or search hits them.
type EmbedderPinger struct {
	embedder retrieval.Embedder
	name     string
}

// NewEmbedderPinger constructs a probe for the given embedder.
func NewEmbedderPinger(e retrieval.Embedder, name string) *EmbedderPinger {
	return &EmbedderPinger{embedder: e, name: name}
}

// Ping embeds a single token and discards the vector.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	if _, err := p.embedder.Embed(ctx, []string{"ping"}); err != nil {
		return fmt.Errorf("embedder unreachable: %w", err)
	}
	return nil
}

// Name returns the backend label.
func (p *EmbedderPinger) Name() string { return p.name }
