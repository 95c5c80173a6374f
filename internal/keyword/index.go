// Package keyword provides keyword (BM25) search over contract chunks.
package keyword

import (
	"context"

	"github.com/legalyze/legalyze/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// ContractID restricts results to the chunks of one contract.
	ContractID string
	// PhraseBoost multiplies the score of chunks where the query appears as a phrase.
	// Values > 1 boost chunks with adjacent query terms (e.g. 1.5). Use 1.0 for no boost.
	PhraseBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance ("indemnty" finds "indemnity").
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 2 when FuzzyEnabled is true.
	Fuzziness int
}

// KeywordIndex defines keyword search operations over chunks.
type KeywordIndex interface {
	// IndexChunks adds or replaces the chunks of a contract.
	IndexChunks(ctx context.Context, contractID, fileName string, chunks []*models.Chunk) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	// DeleteContract removes every chunk of a contract.
	DeleteContract(ctx context.Context, contractID string) error
	Close() error
	// DocCount returns the total number of chunks in the index.
	DocCount() (uint64, error)
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ContractID string
	ChunkID    string
	Score      float64
}

// Key returns the identifier of the hit's chunk across all contracts.
func (r *KeywordResult) Key() string {
	return ChunkKey(r.ContractID, r.ChunkID)
}
