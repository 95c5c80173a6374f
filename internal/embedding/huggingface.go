package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/legalyze/legalyze/internal/config"
	"github.com/tmc/langchaingo/llms/huggingface"
	"golang.org/x/time/rate"
)

const (
	huggingFaceURL  = "https://api-inference.huggingface.co"
	huggingFaceTask = "feature-extraction"
	// The hosted inference API rejects very large payloads.
	huggingFaceMaxBatch = 32
)

// HuggingFaceEmbedder calls the Hugging Face inference API (BAAI/bge-small-en-v1.5 by default).
type HuggingFaceEmbedder struct {
	llm        *huggingface.LLM
	model      string
	dimensions int
	limiter    *rate.Limiter
}

// NewHuggingFaceEmbedder creates an embedder authenticated with cfg.APIKey (HF_TOKEN).
func NewHuggingFaceEmbedder(cfg config.EmbeddingConfig) (*HuggingFaceEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedding api key is not set (HF_TOKEN)")
	}
	url := cfg.BaseURL
	if url == "" {
		url = huggingFaceURL
	}
	llm, err := huggingface.New(
		huggingface.WithToken(cfg.APIKey),
		huggingface.WithModel(cfg.Model),
		huggingface.WithURL(url),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create huggingface client: %w", err)
	}
	return &HuggingFaceEmbedder{
		llm:        llm,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		limiter:    newLimiter(cfg.RequestsPerSecond),
	}, nil
}

// Embed returns the embedding of a single text.
func (e *HuggingFaceEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in batches.
func (e *HuggingFaceEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += huggingFaceMaxBatch {
		end := min(start+huggingFaceMaxBatch, len(texts))
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		vectors, err := e.llm.CreateEmbedding(ctx, texts[start:end], e.model, huggingFaceTask)
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		out = append(out, vectors...)
	}
	if err := checkDimensions(out, e.dimensions); err != nil {
		return nil, err
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *HuggingFaceEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *HuggingFaceEmbedder) Close() error {
	return nil
}
