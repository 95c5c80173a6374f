package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/legalyze/legalyze/internal/config"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"
)

// openAIMaxBatch is the largest input array accepted by the embeddings endpoint.
const openAIMaxBatch = 100

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
	limiter    *rate.Limiter
}

// NewOpenAIEmbedder creates an embedder for cfg.Model. cfg.BaseURL points it at any
// OpenAI-compatible server; cfg.RequestsPerSecond throttles outgoing requests.
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedding api key is not set (OPENAI_API_KEY)")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		limiter:    newLimiter(cfg.RequestsPerSecond),
	}, nil
}

// Embed returns the embedding of a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in requests of at most 100 inputs.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += openAIMaxBatch {
		end := min(start+openAIMaxBatch, len(texts))
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model:      openai.EmbeddingModel(e.model),
			Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts[start:end]},
			Dimensions: openai.Int(int64(e.dimensions)),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("expected %d embeddings, got %d", end-start, len(resp.Data))
		}
		batch := make([][]float32, end-start)
		for _, d := range resp.Data {
			if d.Index < 0 || int(d.Index) >= len(batch) {
				return nil, fmt.Errorf("embedding index %d out of range", d.Index)
			}
			v := make([]float32, len(d.Embedding))
			for i, x := range d.Embedding {
				v[i] = float32(x)
			}
			batch[d.Index] = v
		}
		out = append(out, batch...)
	}
	if err := checkDimensions(out, e.dimensions); err != nil {
		return nil, err
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *OpenAIEmbedder) Close() error {
	return nil
}

// newLimiter returns a token bucket for rps requests per second, or an unlimited one.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}
