package vector

import (
	"fmt"
	"sort"

	"github.com/legalyze/legalyze/internal/models"
)

// DefaultTopK is the number of chunks returned when topK is not positive.
const DefaultTopK = 3

// FindTopChunks scores every chunk embedding against query by cosine similarity and returns the
// topK best, highest score first. Equal scores keep their input order. The result has
// min(topK, len(chunks)) entries. Inputs are not modified.
func FindTopChunks(query []float32, chunks []models.ChunkEmbedding, topK int) ([]*models.ScoredChunk, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	scored := make([]*models.ScoredChunk, len(chunks))
	for i, ce := range chunks {
		score, err := CosineSimilarity(query, ce.Embedding)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		scored[i] = &models.ScoredChunk{Chunk: ce.Chunk, Score: score}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK < len(scored) {
		scored = scored[:topK]
	}
	return scored, nil
}
