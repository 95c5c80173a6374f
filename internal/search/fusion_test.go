package search

import (
	"testing"

	"github.com/legalyze/legalyze/internal/keyword"
	"github.com/legalyze/legalyze/internal/models"
)

func TestNormalizeKeywordScores(t *testing.T) {
	results := []*keyword.KeywordResult{
		{ContractID: "c1", ChunkID: "chunk_1", Score: 2},
		{ContractID: "c1", ChunkID: "chunk_2", Score: 4},
		{ContractID: "c2", ChunkID: "chunk_1", Score: 1},
	}
	m := NormalizeKeywordScores(results)
	if m["c1#chunk_2"] != 1.0 {
		t.Errorf("max score should be 1.0, got %f", m["c1#chunk_2"])
	}
	if m["c1#chunk_1"] != 0.5 {
		t.Errorf("c1#chunk_1 should be 0.5, got %f", m["c1#chunk_1"])
	}
	if len(m) != 3 {
		t.Errorf("expected 3 entries, got %d", len(m))
	}
	if len(NormalizeKeywordScores(nil)) != 0 {
		t.Error("nil results should give an empty map")
	}
}

func TestNormalizeSemanticScores(t *testing.T) {
	results := []*models.ScoredChunk{
		{Chunk: &models.Chunk{ContractID: "c1", ID: "chunk_1"}, Score: 0.9},
		{Chunk: &models.Chunk{ContractID: "c1", ID: "chunk_2"}, Score: -0.3},
	}
	m := NormalizeSemanticScores(results)
	if m["c1#chunk_1"] != 0.9 || m["c1#chunk_2"] != 0 {
		t.Errorf("unexpected map %v", m)
	}
}

func TestFuse(t *testing.T) {
	tests := []struct {
		name      string
		kw, sem   map[string]float64
		kwW, semW float64
		wantFirst string
	}{
		{"semantic heavier", map[string]float64{"a": 1.0, "b": 0.5}, map[string]float64{"a": 0.2, "b": 1.0}, 0.4, 0.6, "b"},
		{"keyword heavier", map[string]float64{"a": 1.0, "b": 0.5}, map[string]float64{"a": 0.2, "b": 1.0}, 0.9, 0.1, "a"},
		{"tie broken by key", map[string]float64{"b": 1.0, "a": 1.0}, nil, 1, 0, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := Fuse(tt.kw, tt.sem, tt.kwW, tt.semW)
			if len(results) != 2 {
				t.Fatalf("expected 2 results, got %d", len(results))
			}
			if results[0].Key != tt.wantFirst {
				t.Errorf("first = %s, want %s", results[0].Key, tt.wantFirst)
			}
			if results[0].Score < results[1].Score {
				t.Error("results should be sorted by score descending")
			}
		})
	}
}
