// Package search provides cross-contract hybrid search (keyword + semantic) over chunks.
package search

import (
	"sort"

	"github.com/legalyze/legalyze/internal/keyword"
	"github.com/legalyze/legalyze/internal/models"
)

// FusedResult holds a chunk key and its fused keyword/semantic scores.
type FusedResult struct {
	Key           string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// NormalizeKeywordScores normalizes keyword scores to [0,1] by max, keyed by chunk key.
func NormalizeKeywordScores(results []*keyword.KeywordResult) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	if len(results) == 0 {
		return normalized
	}
	maxScore := results[0].Score
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.Key()] = r.Score / maxScore
		} else {
			normalized[r.Key()] = 0
		}
	}
	return normalized
}

// NormalizeSemanticScores keys cosine scores by chunk key. Negative similarities count as 0.
func NormalizeSemanticScores(results []*models.ScoredChunk) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	for _, r := range results {
		score := r.Score
		if score < 0 {
			score = 0
		}
		normalized[keyword.ChunkKey(r.Chunk.ContractID, r.Chunk.ID)] = score
	}
	return normalized
}

// Fuse merges keyword and semantic score maps with weights and returns results sorted by fused
// score, ties broken by key.
func Fuse(keywordScores, semanticScores map[string]float64, keywordWeight, semanticWeight float64) []*FusedResult {
	scoreMap := make(map[string]*FusedResult, len(keywordScores)+len(semanticScores))
	for key, score := range keywordScores {
		scoreMap[key] = &FusedResult{Key: key, KeywordScore: score}
	}
	for key, score := range semanticScores {
		if result, exists := scoreMap[key]; exists {
			result.SemanticScore = score
		} else {
			scoreMap[key] = &FusedResult{Key: key, SemanticScore: score}
		}
	}
	results := make([]*FusedResult, 0, len(scoreMap))
	for _, result := range scoreMap {
		result.Score = (keywordWeight * result.KeywordScore) + (semanticWeight * result.SemanticScore)
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Key < results[j].Key
	})
	return results
}
