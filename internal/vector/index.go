package vector

import (
	"context"

	"github.com/legalyze/legalyze/internal/models"
)

// ChunkIndex holds chunk embeddings grouped by contract.
type ChunkIndex interface {
	// Add replaces the indexed chunks of a contract.
	Add(ctx context.Context, contractID string, chunks []*models.Chunk) error
	// Has reports whether the contract is indexed.
	Has(contractID string) bool
	// Search ranks the chunks of one contract against query.
	Search(ctx context.Context, contractID string, query []float32, k int) ([]*models.ScoredChunk, error)
	// SearchAll ranks the chunks of every indexed contract against query.
	SearchAll(ctx context.Context, query []float32, k int) ([]*models.ScoredChunk, error)
	Remove(ctx context.Context, contractID string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}
