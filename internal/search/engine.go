package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/legalyze/legalyze/internal/config"
	"github.com/legalyze/legalyze/internal/embedding"
	"github.com/legalyze/legalyze/internal/keyword"
	"github.com/legalyze/legalyze/internal/models"
	"github.com/legalyze/legalyze/internal/storage"
	"github.com/legalyze/legalyze/internal/vector"
)

const (
	// minCandidates is the minimum number of hits requested from each index before fusion.
	minCandidates = 20
	// snippetRunes is the maximum snippet length of a hit.
	snippetRunes = 300
	// phraseBoost favours chunks containing the query as a phrase.
	phraseBoost = 1.5
)

// Engine runs hybrid (keyword + semantic) search over the chunks of every contract.
type Engine struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	chunkIndex   vector.ChunkIndex
	keywordIndex keyword.KeywordIndex
	config       *config.RetrievalConfig
	logger       *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(
	storage storage.Storage,
	embedder embedding.Embedder,
	chunkIndex vector.ChunkIndex,
	keywordIndex keyword.KeywordIndex,
	cfg *config.RetrievalConfig,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		storage:      storage,
		embedder:     embedder,
		chunkIndex:   chunkIndex,
		keywordIndex: keywordIndex,
		config:       cfg,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search runs keyword and semantic search concurrently, fuses the normalized scores with the
// configured weights and returns chunk-level hits.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := query.Validate(); err != nil {
		return nil, err
	}
	if e.config.MaxLimit > 0 && query.Limit > e.config.MaxLimit {
		query.Limit = e.config.MaxLimit
	}
	keywordWeight, semanticWeight := e.weights(query)
	candidates := query.Limit * 2
	if candidates < minCandidates {
		candidates = minCandidates
	}

	var (
		keywordResults  []*keyword.KeywordResult
		semanticResults []*models.ScoredChunk
		errChan         = make(chan error, 2)
		wg              sync.WaitGroup
	)

	if keywordWeight > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := e.keywordIndex.Search(ctx, query.Query, candidates, &keyword.SearchOptions{
				ContractID:  query.ContractID,
				PhraseBoost: phraseBoost,
			})
			if err != nil {
				errChan <- fmt.Errorf("keyword search failed: %w", err)
				return
			}
			keywordResults = results
		}()
	}

	if semanticWeight > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			queryEmbedding, err := e.embedder.Embed(ctx, query.Query)
			if err != nil {
				errChan <- fmt.Errorf("embedding failed: %w", err)
				return
			}
			var results []*models.ScoredChunk
			if query.ContractID != "" {
				results, err = e.chunkIndex.Search(ctx, query.ContractID, queryEmbedding, candidates)
				if errors.Is(err, vector.ErrNotIndexed) {
					results, err = nil, nil
				}
			} else {
				results, err = e.chunkIndex.SearchAll(ctx, queryEmbedding, candidates)
			}
			if err != nil {
				errChan <- fmt.Errorf("vector search failed: %w", err)
				return
			}
			semanticResults = results
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}

	fused := Fuse(NormalizeKeywordScores(keywordResults), NormalizeSemanticScores(semanticResults), keywordWeight, semanticWeight)
	total := len(fused)
	if len(fused) > query.Limit {
		fused = fused[:query.Limit]
	}

	known := make(map[string]*models.Chunk, len(semanticResults))
	for _, r := range semanticResults {
		known[keyword.ChunkKey(r.Chunk.ContractID, r.Chunk.ID)] = r.Chunk
	}
	lookup := newChunkLookup(e.storage, known)

	response := &models.SearchResponse{
		Hits:  make([]*models.SearchHit, 0, len(fused)),
		Total: total,
		Query: query.Query,
	}
	for _, f := range fused {
		chunk, fileName, err := lookup.get(ctx, f.Key)
		if err != nil {
			// The chunk was deleted between indexing and lookup.
			e.logger.Debug("search hit skipped", zap.String("key", f.Key), zap.Error(err))
			continue
		}
		response.Hits = append(response.Hits, &models.SearchHit{
			ContractID:    chunk.ContractID,
			FileName:      fileName,
			ChunkID:       chunk.ID,
			Section:       chunk.Section,
			Text:          Snippet(chunk.Text, query.Query, snippetRunes),
			Score:         f.Score,
			KeywordScore:  f.KeywordScore,
			SemanticScore: f.SemanticScore,
			Rank:          len(response.Hits) + 1,
		})
	}
	response.QueryTime = time.Since(startTime).Milliseconds()
	e.logger.Debug("search done",
		zap.String("query", query.Query),
		zap.Int("keyword_hits", len(keywordResults)),
		zap.Int("semantic_hits", len(semanticResults)),
		zap.Int("returned", len(response.Hits)))
	return response, nil
}

// weights returns the fusion weights for the enabled search types. When only one type is
// enabled it gets the full weight.
func (e *Engine) weights(q *models.SearchQuery) (keywordWeight, semanticWeight float64) {
	switch {
	case q.KeywordEnabled && !q.SemanticEnabled:
		return 1, 0
	case q.SemanticEnabled && !q.KeywordEnabled:
		return 0, 1
	}
	keywordWeight, semanticWeight = e.config.KeywordWeight, e.config.SemanticWeight
	if keywordWeight+semanticWeight == 0 {
		return 0.5, 0.5
	}
	return keywordWeight, semanticWeight
}

// chunkLookup resolves chunk keys to chunks and file names, loading each contract once.
type chunkLookup struct {
	storage   storage.Storage
	chunks    map[string]*models.Chunk
	loaded    map[string]bool
	fileNames map[string]string
}

func newChunkLookup(store storage.Storage, known map[string]*models.Chunk) *chunkLookup {
	return &chunkLookup{
		storage:   store,
		chunks:    known,
		loaded:    make(map[string]bool),
		fileNames: make(map[string]string),
	}
}

func (l *chunkLookup) get(ctx context.Context, key string) (*models.Chunk, string, error) {
	contractID, _ := keyword.SplitChunkKey(key)
	if _, ok := l.fileNames[contractID]; !ok {
		c, err := l.storage.GetContract(ctx, contractID)
		if err != nil {
			return nil, "", err
		}
		l.fileNames[contractID] = c.FileName
	}
	if ch, ok := l.chunks[key]; ok {
		return ch, l.fileNames[contractID], nil
	}
	if !l.loaded[contractID] {
		l.loaded[contractID] = true
		chunks, err := l.storage.GetChunks(ctx, contractID)
		if err != nil {
			return nil, "", err
		}
		for _, ch := range chunks {
			l.chunks[keyword.ChunkKey(contractID, ch.ID)] = ch
		}
	}
	ch, ok := l.chunks[key]
	if !ok {
		return nil, "", fmt.Errorf("chunk %s: %w", key, storage.ErrNotFound)
	}
	return ch, l.fileNames[contractID], nil
}
