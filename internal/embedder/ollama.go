// Package embedder provides implementations of the retrieval.Embedder
// interface for converting text into dense vector embeddings. Each
// implementation talks to a different backend (Ollama, OpenAI, Azure OpenAI)
// via plain HTTP — no additional SDK dependencies are required.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

// OllamaEmbedder implements retrieval.Embedder using the Ollama /api/embed
// endpoint. It is safe for concurrent use. No API key is required — Ollama
// runs locally.
type OllamaEmbedder struct {
	// host is the Ollama server base URL (e.g. "http://localhost:11434").
	host string
	// model is the embedding model name (e.g. "nomic-embed-text").
	model string
	// dimensions is the vector length this provider is configured to emit.
	dimensions int
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name (e.g. "nomic-embed-text").
	Model string
	// Dimensions is the expected vector length (default: 768 for
	// nomic-embed-text).
	Dimensions int
}

// NewOllamaEmbedder constructs an OllamaEmbedder from the given config.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = defaultOllamaDimensions
	}
	return &OllamaEmbedder{
		host:       cfg.Host,
		model:      cfg.Model,
		dimensions: dims,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

// Dimensions returns the configured vector length.
func (e *OllamaEmbedder) Dimensions() int { return e.dimensions }

// ollamaEmbedRequest is the JSON body sent to the Ollama /api/embed endpoint.
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the JSON body returned from the Ollama /api/embed endpoint.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice. Blank texts fail with
// InvalidInput before any network call; transport failures, timeouts, and
// backend errors surface as EmbeddingUnavailable so the retrieval service
// can degrade uniformly.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateInputs(texts); err != nil {
		return nil, err
	}

	body := ollamaEmbedRequest{
		Model: e.model,
		Input: texts,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: marshal request: %w", err)
	}

	url := e.host + "/api/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, retrieval.WrapError(retrieval.KindEmbeddingUnavailable, "embedder",
			"ollama request failed", err)
	}
	defer resp.Body.Close()

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, retrieval.WrapError(retrieval.KindEmbeddingUnavailable, "embedder",
			"ollama response decode failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != "" {
			msg = result.Error
		}
		return nil, retrieval.NewError(retrieval.KindEmbeddingUnavailable, "embedder",
			"ollama: "+msg)
	}

	if len(result.Embeddings) != len(texts) {
		return nil, retrieval.NewError(retrieval.KindEmbeddingUnavailable, "embedder",
			fmt.Sprintf("ollama: expected %d embeddings, got %d", len(texts), len(result.Embeddings)))
	}

	for i, v := range result.Embeddings {
		if len(v) != e.dimensions {
			return nil, retrieval.NewError(retrieval.KindDimensionMismatch, "embedder",
				fmt.Sprintf("ollama: embedding %d has dimension %d, provider configured for %d", i, len(v), e.dimensions))
		}
	}

	return result.Embeddings, nil
}

// validateInputs rejects blank texts. Empty input is never mapped to a zero
// vector — the fixed policy is to fail with InvalidInput.
func validateInputs(texts []string) error {
	if len(texts) == 0 {
		return retrieval.NewError(retrieval.KindInvalidInput, "embedder", "no texts to embed")
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return retrieval.NewError(retrieval.KindInvalidInput, "embedder",
				fmt.Sprintf("text %d is empty after trimming", i))
		}
	}
	return nil
}
