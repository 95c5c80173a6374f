package benchmark

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/legalyze/legalyze/internal/embedding"
	"github.com/legalyze/legalyze/internal/indexer"
	"github.com/legalyze/legalyze/internal/models"
	"github.com/legalyze/legalyze/internal/rag"
	"github.com/legalyze/legalyze/internal/search"
	"github.com/legalyze/legalyze/internal/vector"
)

const dims = 384

func longContract(sections int) string {
	var b strings.Builder
	for i := 1; i <= sections; i++ {
		fmt.Fprintf(&b, "§%d Clause %d. ", i, i)
		b.WriteString(strings.Repeat("The parties agree to the terms set out in this section. ", 20))
		b.WriteString("\n")
	}
	return b.String()
}

func chunksWithEmbeddings(b *testing.B, n int) []*models.Chunk {
	b.Helper()
	e := embedding.NewMockEmbedder(dims)
	chunks := make([]*models.Chunk, n)
	for i := range chunks {
		text := fmt.Sprintf("§%d clause text number %d", i+1, i)
		vec, err := e.Embed(context.Background(), text)
		if err != nil {
			b.Fatal(err)
		}
		chunks[i] = &models.Chunk{ID: fmt.Sprintf("chunk_%d", i+1), Text: text, Section: fmt.Sprintf("§%d", i+1), ChunkIndex: i, Embedding: vec}
	}
	return chunks
}

func BenchmarkChunkDocument(b *testing.B) {
	text := longContract(50)
	b.SetBytes(int64(len(text)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = indexer.ChunkDocument(text, indexer.DefaultChunkSize)
	}
}

func BenchmarkFindTopChunks(b *testing.B) {
	chunks := models.ChunkEmbeddings(chunksWithEmbeddings(b, 200))
	query := chunks[17].Embedding
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = vector.FindTopChunks(query, chunks, vector.DefaultTopK)
	}
}

func BenchmarkMemoryIndexSearch(b *testing.B) {
	idx, _ := vector.NewMemoryIndex(dims)
	ctx := context.Background()
	chunks := chunksWithEmbeddings(b, 200)
	_ = idx.Add(ctx, "c1", chunks)
	query := chunks[42].Embedding
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, "c1", query, vector.DefaultTopK)
	}
}

func BenchmarkFuse(b *testing.B) {
	kw := make(map[string]float64)
	sem := make(map[string]float64)
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("c1#chunk_%d", i)
		kw[id] = float64(i) / 100
		sem[id] = float64(100-i) / 100
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = search.Fuse(kw, sem, 0.4, 0.6)
	}
}

func BenchmarkBuildContext(b *testing.B) {
	counter, _ := rag.NewTokenCounter()
	chunks := chunksWithEmbeddings(b, 10)
	scored := make([]*models.ScoredChunk, len(chunks))
	for i, ch := range chunks {
		ch.Text = strings.Repeat(ch.Text+" ", 40)
		scored[i] = &models.ScoredChunk{Chunk: ch, Score: 1 - float64(i)/10}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = rag.BuildContext(scored, counter, 3000)
	}
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := embedding.NewMockEmbedder(dims)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "Can the landlord terminate the lease without notice?")
	}
}
