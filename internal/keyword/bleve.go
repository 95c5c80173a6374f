package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/legalyze/legalyze/internal/models"
)

// keySeparator joins contract and chunk IDs into a Bleve document ID. Contract IDs are
// uuids or fileid hashes and never contain it.
const keySeparator = "#"

// deleteBatchSize is the number of hits fetched per round when deleting a contract.
const deleteBatchSize = 500

// ChunkKey returns the Bleve document ID of a chunk.
func ChunkKey(contractID, chunkID string) string {
	return contractID + keySeparator + chunkID
}

// SplitChunkKey is the inverse of ChunkKey.
func SplitChunkKey(key string) (contractID, chunkID string) {
	contractID, chunkID, _ = strings.Cut(key, keySeparator)
	return contractID, chunkID
}

// chunkDoc is the indexed form of a chunk.
type chunkDoc struct {
	ContractID string `json:"contract_id"`
	ChunkID    string `json:"chunk_id"`
	Section    string `json:"section"`
	FileName   string `json:"file_name"`
	Text       string `json:"text"`
}

// BleveIndex implements KeywordIndex using Bleve. Each chunk is one document.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// If the path already exists, the existing index is opened and reused.
// If you change the index mapping in code, remove the index directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemBleveIndex creates an in-memory index.
func NewMemBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// Standard analyzer (lowercase + tokenize, no stemming) so "indemnify" does not also match
	// every "indemnity" clause.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	textFieldMapping.Store = false
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("file_name", textFieldMapping)

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("contract_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("chunk_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("section", keywordFieldMapping)

	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// fileNameSeparators are not word breaks for the standard analyzer.
var fileNameSeparators = strings.NewReplacer("_", " ", "-", " ", ".", " ")

// IndexChunks replaces the chunks of contractID with chunks in one batch. Underscores, dashes and
// dots in the file name become spaces so "nda_acme_2024.pdf" matches "acme nda".
func (b *BleveIndex) IndexChunks(ctx context.Context, contractID, fileName string, chunks []*models.Chunk) error {
	if err := b.DeleteContract(ctx, contractID); err != nil {
		return err
	}
	batch := b.index.NewBatch()
	name := fileNameSeparators.Replace(fileName)
	for _, ch := range chunks {
		doc := chunkDoc{
			ContractID: contractID,
			ChunkID:    ch.ID,
			Section:    ch.Section,
			FileName:   name,
			Text:       ch.Text,
		}
		if err := batch.Index(ChunkKey(contractID, ch.ID), doc); err != nil {
			return fmt.Errorf("failed to batch chunk %s: %w", ch.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	return nil
}

// DeleteContract removes every chunk of contractID.
func (b *BleveIndex) DeleteContract(ctx context.Context, contractID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req := bleve.NewSearchRequest(contractFilter(contractID))
		req.Size = deleteBatchSize
		results, err := b.index.Search(req)
		if err != nil {
			return fmt.Errorf("Bleve search failed: %w", err)
		}
		if len(results.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range results.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
	}
}

func contractFilter(contractID string) blevequery.Query {
	q := bleve.NewTermQuery(contractID)
	q.SetField("contract_id")
	return q
}

// Search runs a match (or fuzzy) query over chunk text and file names and returns up to limit
// results. Multi-term queries penalize chunks that match only some terms: the score is multiplied
// by (matched/total)^2. Chunks containing the query as a phrase get opts.PhraseBoost.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	var (
		contractID   string
		phraseBoost  = 1.0
		fuzzyEnabled bool
		fuzziness    = 2
	)
	if opts != nil {
		contractID = opts.ContractID
		if opts.PhraseBoost > 0 {
			phraseBoost = opts.PhraseBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	terms := tokenizeQuery(query)

	hits, err := b.run(b.textQuery(query, terms, fuzzyEnabled, fuzziness), contractID, reqSize)
	if err != nil {
		return nil, err
	}

	coverage := make(map[string]int)
	if len(terms) > 1 {
		for _, term := range terms {
			termHits, err := b.run(b.textQuery(term, []string{term}, fuzzyEnabled, fuzziness), contractID, reqSize)
			if err != nil {
				continue
			}
			for id := range termHits {
				coverage[id]++
			}
		}
	}

	phraseMatches := make(map[string]float64)
	if phraseBoost > 1 && len(terms) > 1 {
		pq := bleve.NewMatchPhraseQuery(query)
		pq.SetField("text")
		if phraseMatches, err = b.run(pq, contractID, reqSize); err != nil {
			return nil, err
		}
	}

	out := make([]*KeywordResult, 0, len(hits))
	for id, score := range hits {
		if len(terms) > 1 {
			matched := coverage[id]
			if matched == 0 {
				matched = 1
			}
			c := float64(matched) / float64(len(terms))
			score *= c * c
		}
		if _, ok := phraseMatches[id]; ok {
			score *= phraseBoost
		}
		contract, chunk := SplitChunkKey(id)
		out = append(out, &KeywordResult{ContractID: contract, ChunkID: chunk, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Key() < out[j].Key()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// run executes q (restricted to contractID when set) and returns document ID -> score.
func (b *BleveIndex) run(q blevequery.Query, contractID string, size int) (map[string]float64, error) {
	if contractID != "" {
		q = bleve.NewConjunctionQuery(q, contractFilter(contractID))
	}
	req := bleve.NewSearchRequest(q)
	req.Size = size
	results, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make(map[string]float64, len(results.Hits))
	for _, hit := range results.Hits {
		out[hit.ID] = hit.Score
	}
	return out, nil
}

// textQuery matches query against the text and file_name fields.
func (b *BleveIndex) textQuery(query string, terms []string, fuzzyEnabled bool, fuzziness int) blevequery.Query {
	fields := []string{"text", "file_name"}
	queries := make([]blevequery.Query, 0, len(fields)*len(terms))
	for _, field := range fields {
		if !fuzzyEnabled || len(terms) == 0 {
			mq := bleve.NewMatchQuery(query)
			mq.SetField(field)
			queries = append(queries, mq)
			continue
		}
		for _, term := range terms {
			fq := bleve.NewFuzzyQuery(term)
			fq.SetFuzziness(fuzziness)
			fq.SetField(field)
			queries = append(queries, fq)
		}
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of chunks in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
