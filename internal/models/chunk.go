package models

import "time"

// Chunk is a labelled, contiguous span of a contract's text. It is the unit of embedding and retrieval.
// ID is unique within its contract only (chunk_1, chunk_2, ...); Section is the §N label of the
// structural section the chunk came from and is shared by all sub-chunks of an oversized section.
type Chunk struct {
	ID         string    `json:"id" db:"id"`
	ContractID string    `json:"contractId,omitempty" db:"contract_id"`
	Text       string    `json:"text" db:"text"`
	Section    string    `json:"section" db:"section"`
	ChunkIndex int       `json:"chunkIndex" db:"chunk_index"`
	Embedding  []float32 `json:"-" db:"embedding"`
	CreatedAt  time.Time `json:"createdAt,omitempty" db:"created_at"`
}

// ChunkEmbedding pairs a chunk with its embedding vector for a scoring pass.
type ChunkEmbedding struct {
	Chunk     *Chunk
	Embedding []float32
}

// ScoredChunk is a chunk ranked against a query embedding.
type ScoredChunk struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
}

// ChunkEmbeddings pairs each chunk with its own Embedding field.
func ChunkEmbeddings(chunks []*Chunk) []ChunkEmbedding {
	out := make([]ChunkEmbedding, len(chunks))
	for i, ch := range chunks {
		out[i] = ChunkEmbedding{Chunk: ch, Embedding: ch.Embedding}
	}
	return out
}
