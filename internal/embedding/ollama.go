package embedding

import (
	"context"
	"fmt"

	"github.com/legalyze/legalyze/internal/config"
	"github.com/tmc/langchaingo/llms/ollama"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaEmbedder embeds text with a model served by a local Ollama instance.
type OllamaEmbedder struct {
	llm        *ollama.LLM
	dimensions int
}

// NewOllamaEmbedder creates an embedder for cfg.Model on cfg.BaseURL.
func NewOllamaEmbedder(cfg config.EmbeddingConfig) (*OllamaEmbedder, error) {
	url := cfg.BaseURL
	if url == "" {
		url = defaultOllamaURL
	}
	llm, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(url))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return &OllamaEmbedder{llm: llm, dimensions: cfg.Dimensions}, nil
}

// Embed returns the embedding of a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts one request at a time; Ollama has no batch endpoint.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if err := checkDimensions(vectors, e.dimensions); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *OllamaEmbedder) Close() error {
	return nil
}
