package models

import (
	"errors"
	"strings"
)

// ErrEmptyQuery is returned for a search without query text.
var ErrEmptyQuery = errors.New("query cannot be empty")

// SearchQuery is a cross-contract chunk search request.
type SearchQuery struct {
	Query           string `json:"query"`
	ContractID      string `json:"contract_id,omitempty"`
	Limit           int    `json:"limit,omitempty"`
	KeywordEnabled  bool   `json:"keyword_enabled,omitempty"`
	SemanticEnabled bool   `json:"semantic_enabled,omitempty"`
}

// Validate ensures the query is not empty, normalizes the limit, and enables at least one search type.
func (q *SearchQuery) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return ErrEmptyQuery
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if !q.KeywordEnabled && !q.SemanticEnabled {
		q.KeywordEnabled = true
		q.SemanticEnabled = true
	}
	return nil
}

// SearchHit is one chunk matching a search query.
type SearchHit struct {
	ContractID    string  `json:"contract_id"`
	FileName      string  `json:"file_name,omitempty"`
	ChunkID       string  `json:"chunk_id"`
	Section       string  `json:"section"`
	Text          string  `json:"text"`
	Score         float64 `json:"score"`
	KeywordScore  float64 `json:"keyword_score"`
	SemanticScore float64 `json:"semantic_score"`
	Rank          int     `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Hits      []*SearchHit `json:"hits"`
	Total     int          `json:"total"`
	QueryTime int64        `json:"query_time_ms"`
	Query     string       `json:"query"`
}
