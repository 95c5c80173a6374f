// Package indexer ingests contracts: extraction, chunking, embedding and indexing into storage,
// the chunk vector index and the keyword index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/legalyze/legalyze/internal/config"
	"github.com/legalyze/legalyze/internal/embedding"
	"github.com/legalyze/legalyze/internal/extract"
	"github.com/legalyze/legalyze/internal/fileid"
	"github.com/legalyze/legalyze/internal/keyword"
	"github.com/legalyze/legalyze/internal/models"
	"github.com/legalyze/legalyze/internal/storage"
	"github.com/legalyze/legalyze/internal/vector"
	"go.uber.org/zap"
)

var (
	// ErrInvalidFileType is returned for uploads with an extension outside upload.extensions.
	ErrInvalidFileType = errors.New("invalid file type")
	// ErrFileTooLarge is returned for uploads larger than upload.max_bytes.
	ErrFileTooLarge = errors.New("file too large")
	// ErrNoText is returned when a contract yields no chunkable text.
	ErrNoText = errors.New("no text could be extracted")
)

// Indexer ingests contracts into storage, the chunk vector index and the keyword index.
type Indexer struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	chunkIndex   vector.ChunkIndex
	keywordIndex keyword.KeywordIndex
	chunker      *Chunker
	config       *config.Config
	extractor    *extract.Extractor
	logger       *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (contract ingested, contract deleted, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// NewIndexer creates an indexer with the given dependencies.
// extractor may be nil; when nil, contracts are treated as plain text.
func NewIndexer(
	storage storage.Storage,
	embedder embedding.Embedder,
	chunkIndex vector.ChunkIndex,
	keywordIndex keyword.KeywordIndex,
	cfg *config.Config,
	extractor *extract.Extractor,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		storage:      storage,
		embedder:     embedder,
		chunkIndex:   chunkIndex,
		keywordIndex: keywordIndex,
		chunker:      NewChunker(cfg.Chunking.ChunkSize),
		config:       cfg,
		extractor:    extractor,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// ValidateUpload checks the extension and size of an uploaded file.
func (idx *Indexer) ValidateUpload(fileName string, size int64) error {
	ext := strings.ToLower(filepath.Ext(fileName))
	if !extensionAllowed(ext, idx.config.Upload.Extensions) {
		return fmt.Errorf("%w: only %s files are accepted", ErrInvalidFileType, strings.Join(idx.config.Upload.Extensions, ", "))
	}
	if size > idx.config.Upload.MaxBytes {
		return fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrFileTooLarge, size, idx.config.Upload.MaxBytes)
	}
	return nil
}

// Upload validates an uploaded file and ingests it.
func (idx *Indexer) Upload(ctx context.Context, input *models.ContractInput) (*models.Contract, error) {
	if err := idx.ValidateUpload(input.FileName, int64(len(input.Content))); err != nil {
		return nil, err
	}
	return idx.IngestContract(ctx, input)
}

// IngestContract stores, extracts, chunks, embeds and indexes a contract. The contract is
// created in the UPLOADING state and stays there until it is analyzed. A failure after the
// contract row exists marks it ERROR.
func (idx *Indexer) IngestContract(ctx context.Context, input *models.ContractInput) (*models.Contract, error) {
	if input.ID == "" {
		input.ID = uuid.New().String()
	}
	ext := strings.ToLower(filepath.Ext(input.FileName))
	c := &models.Contract{
		ID:          input.ID,
		FileName:    filepath.Base(input.FileName),
		FileType:    strings.TrimPrefix(ext, "."),
		FileSize:    int64(len(input.Content)),
		FilePath:    input.SourcePath,
		Category:    models.ParseCategory(string(input.Category)),
		Status:      models.StatusUploading,
		SourceMtime: input.SourceMtime,
	}
	var blob string
	if c.FilePath == "" {
		path, err := idx.storeBlob(c.ID, ext, input.Content)
		if err != nil {
			return nil, err
		}
		c.FilePath = path
		blob = path
	}
	if err := idx.storage.CreateContract(ctx, c); err != nil {
		if blob != "" {
			if rmErr := os.Remove(blob); rmErr != nil && !os.IsNotExist(rmErr) {
				idx.logger.Warn("failed to remove uploaded file", zap.String("path", blob), zap.Error(rmErr))
			}
		}
		return nil, fmt.Errorf("failed to store contract: %w", err)
	}

	chunks, err := idx.process(ctx, c, input.Content, ext)
	if err != nil {
		if statusErr := idx.storage.UpdateContractStatus(ctx, c.ID, models.StatusError); statusErr != nil {
			idx.logger.Warn("failed to mark contract as errored", zap.String("id", c.ID), zap.Error(statusErr))
		}
		c.Status = models.StatusError
		return c, err
	}
	c.ChunkCount = len(chunks)
	idx.logger.Debug("contract ingested",
		zap.String("id", c.ID),
		zap.String("file", c.FileName),
		zap.Int("chunks", len(chunks)))
	return c, nil
}

// process runs extraction through indexing for a stored contract.
func (idx *Indexer) process(ctx context.Context, c *models.Contract, content []byte, ext string) ([]*models.Chunk, error) {
	text, err := idx.extractContent(content, ext)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text: %w", err)
	}
	text = Preprocess(text)
	chunks := idx.chunker.Chunk(text)
	if len(chunks) == 0 {
		return nil, ErrNoText
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		ch.ContractID = c.ID
		texts[i] = ch.Text
	}
	embeddings, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("failed to generate embeddings: got %d vectors for %d chunks", len(embeddings), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}
	if err := idx.storage.ReplaceChunks(ctx, c.ID, chunks); err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}
	if err := idx.chunkIndex.Add(ctx, c.ID, chunks); err != nil {
		idx.discardChunks(ctx, c.ID)
		return nil, fmt.Errorf("failed to index vectors: %w", err)
	}
	if err := idx.keywordIndex.IndexChunks(ctx, c.ID, c.FileName, chunks); err != nil {
		idx.discardChunks(ctx, c.ID)
		return nil, fmt.Errorf("failed to index keywords: %w", err)
	}
	c.Text = text
	if err := idx.storage.UpdateContract(ctx, c); err != nil {
		idx.discardChunks(ctx, c.ID)
		return nil, fmt.Errorf("failed to store contract text: %w", err)
	}
	return chunks, nil
}

// discardChunks drops the stored and indexed chunks of a contract whose ingestion failed, so an
// ERROR contract is never retrievable.
func (idx *Indexer) discardChunks(ctx context.Context, id string) {
	if err := idx.storage.ReplaceChunks(ctx, id, nil); err != nil {
		idx.logger.Warn("failed to discard chunks", zap.String("id", id), zap.Error(err))
	}
	if err := idx.chunkIndex.Remove(ctx, id); err != nil {
		idx.logger.Warn("failed to discard vectors", zap.String("id", id), zap.Error(err))
	}
	if err := idx.keywordIndex.DeleteContract(ctx, id); err != nil {
		idx.logger.Warn("failed to discard keyword entries", zap.String("id", id), zap.Error(err))
	}
}

func (idx *Indexer) storeBlob(id, ext string, content []byte) (string, error) {
	dir := idx.config.Storage.UploadDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	path := filepath.Join(dir, id+ext)
	if err := os.WriteFile(path, content, 0600); err != nil {
		return "", fmt.Errorf("failed to store file: %w", err)
	}
	return path, nil
}

func (idx *Indexer) extractContent(content []byte, ext string) (string, error) {
	if idx.extractor != nil {
		return idx.extractor.ExtractBytes(content, ext)
	}
	return string(content), nil
}

// IngestFile reads a file from path and ingests it. The contract ID is derived from the
// absolute path so re-ingesting replaces the same contract. Files already ingested with the
// same mtime and size are skipped; ingested reports whether the file was (re)ingested.
func (idx *Indexer) IngestFile(ctx context.Context, path string, category models.Category) (c *models.Contract, ingested bool, err error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, false, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if !extract.Supported(ext) {
		return nil, false, fmt.Errorf("%w: %s", ErrInvalidFileType, ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, false, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, false, fmt.Errorf("not a regular file: %s", absPath)
	}
	id := fileid.ForPath(absPath)
	if existing, ok := idx.unchanged(ctx, id, absPath, info); ok {
		idx.logger.Debug("indexer skipping unchanged file", zap.String("path", absPath))
		return existing, false, nil
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, false, fmt.Errorf("read file: %w", err)
	}
	if err := idx.DeleteContract(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}
	c, err = idx.IngestContract(ctx, &models.ContractInput{
		ID:          id,
		FileName:    filepath.Base(absPath),
		Category:    category,
		Content:     content,
		SourcePath:  absPath,
		SourceMtime: info.ModTime().UnixNano(),
	})
	if err != nil {
		return c, false, err
	}
	return c, true, nil
}

// unchanged returns the stored contract when it was ingested from absPath with the same mtime
// and size.
func (idx *Indexer) unchanged(ctx context.Context, id, absPath string, info os.FileInfo) (*models.Contract, bool) {
	c, err := idx.storage.GetContract(ctx, id)
	if err != nil {
		return nil, false
	}
	if c.Status == models.StatusError || c.FilePath != absPath {
		return nil, false
	}
	if c.SourceMtime != info.ModTime().UnixNano() || c.FileSize != info.Size() {
		return nil, false
	}
	return c, true
}

// IngestDirectory walks dir recursively and ingests each regular file whose extension is in
// allowedExts (if non-empty; otherwise every supported file). progress, when non-nil, is called
// after each file. Returns the number of files ingested and the first error encountered.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string, category models.Category, allowedExts []string, progress func(path string, err error)) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !idx.Accepts(path, allowedExts) {
			return nil
		}
		// Resolve symlinks so only regular files are ingested
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		_, ingested, ingestErr := idx.IngestFile(ctx, path, category)
		if progress != nil {
			progress(path, ingestErr)
		}
		if ingestErr != nil {
			return ingestErr
		}
		if ingested {
			n++
		}
		return nil
	})
	return n, err
}

// Accepts reports whether path has an extractable extension that is also in allowedExts
// (when allowedExts is non-empty).
func (idx *Indexer) Accepts(path string, allowedExts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if !extract.Supported(ext) {
		return false
	}
	return len(allowedExts) == 0 || extensionAllowed(ext, allowedExts)
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// DeleteContract removes a contract from the keyword index, the vector index and storage, and
// deletes its uploaded file. Returns storage.ErrNotFound when the contract does not exist.
func (idx *Indexer) DeleteContract(ctx context.Context, id string) error {
	c, err := idx.storage.GetContract(ctx, id)
	if err != nil {
		return err
	}
	idx.logger.Debug("indexer deleting contract", zap.String("id", id))
	if err := idx.keywordIndex.DeleteContract(ctx, id); err != nil {
		return fmt.Errorf("failed to delete from keyword index: %w", err)
	}
	if err := idx.chunkIndex.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to delete from vector index: %w", err)
	}
	if err := idx.storage.DeleteContract(ctx, id); err != nil {
		return fmt.Errorf("failed to delete contract: %w", err)
	}
	if idx.ownsBlob(c.FilePath) {
		if err := os.Remove(c.FilePath); err != nil && !os.IsNotExist(err) {
			idx.logger.Warn("failed to remove uploaded file", zap.String("path", c.FilePath), zap.Error(err))
		}
	}
	idx.logger.Debug("indexer contract deleted", zap.String("id", id))
	return nil
}

// ownsBlob reports whether path is inside the upload directory. Source files of watched or
// CLI-ingested contracts are never removed.
func (idx *Indexer) ownsBlob(path string) bool {
	dir := idx.config.Storage.UploadDir
	if path == "" || dir == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	return err == nil && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// Warm loads the stored chunks of every contract missing from the vector index, and re-indexes
// keywords when the keyword index is empty. Returns the number of contracts loaded.
func (idx *Indexer) Warm(ctx context.Context) (int, error) {
	all, err := idx.storage.AllChunks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load chunks: %w", err)
	}
	docCount, err := idx.keywordIndex.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to count keyword documents: %w", err)
	}
	reindexKeywords := docCount == 0

	byContract := make(map[string][]*models.Chunk)
	var order []string
	for _, ch := range all {
		if _, ok := byContract[ch.ContractID]; !ok {
			order = append(order, ch.ContractID)
		}
		byContract[ch.ContractID] = append(byContract[ch.ContractID], ch)
	}

	loaded := 0
	for _, id := range order {
		chunks := byContract[id]
		if !idx.chunkIndex.Has(id) {
			if err := idx.chunkIndex.Add(ctx, id, chunks); err != nil {
				idx.logger.Warn("skipping contract with unusable embeddings", zap.String("id", id), zap.Error(err))
				continue
			}
			loaded++
		}
		if reindexKeywords {
			c, err := idx.storage.GetContract(ctx, id)
			if err != nil {
				continue
			}
			if err := idx.keywordIndex.IndexChunks(ctx, id, c.FileName, chunks); err != nil {
				return loaded, fmt.Errorf("failed to index keywords: %w", err)
			}
		}
	}
	idx.logger.Debug("indexer warmed",
		zap.Int("contracts", loaded),
		zap.Bool("keywords_reindexed", reindexKeywords))
	return loaded, nil
}

// WarmContract loads the stored chunks of one contract into the vector index if it is missing.
func (idx *Indexer) WarmContract(ctx context.Context, id string) error {
	if idx.chunkIndex.Has(id) {
		return nil
	}
	chunks, err := idx.storage.GetChunks(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}
	return idx.chunkIndex.Add(ctx, id, chunks)
}
