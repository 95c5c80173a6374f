// Package embedding provides text embedders (local ONNX, hosted OpenAI-compatible, Hugging Face,
// Ollama and a deterministic mock) plus an LRU cache in front of them.
package embedding

import (
	"context"
	"fmt"

	"github.com/legalyze/legalyze/internal/config"
	"go.uber.org/zap"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// New builds the embedder selected by cfg.Provider, wrapped in an LRU cache when
// cfg.CacheSize is positive. When the ONNX runtime cannot be loaded it falls back to the
// mock embedder, so a fresh install can still ingest and chat.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		base Embedder
		err  error
	)
	switch cfg.Provider {
	case config.ProviderMock, "":
		base = NewMockEmbedder(cfg.Dimensions)
	case config.ProviderONNX:
		base, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			logger.Warn("ONNX embedder unavailable, using mock embedder", zap.Error(err))
			base, err = NewMockEmbedder(cfg.Dimensions), nil
		}
	case config.ProviderOpenAI:
		base, err = NewOpenAIEmbedder(cfg)
	case config.ProviderHuggingFace:
		base, err = NewHuggingFaceEmbedder(cfg)
	case config.ProviderOllama:
		base, err = NewOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s embedder: %w", cfg.Provider, err)
	}
	logger.Info("embedder ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimensions", base.Dimensions()))
	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(base, cfg.CacheSize), nil
	}
	return base, nil
}

// checkDimensions verifies that every vector has the expected length.
func checkDimensions(vectors [][]float32, want int) error {
	for i, v := range vectors {
		if len(v) != want {
			return fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(v), want)
		}
	}
	return nil
}
