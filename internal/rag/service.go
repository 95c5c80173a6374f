// Package rag answers questions about a single contract with retrieval-augmented generation.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/legalyze/legalyze/internal/config"
	"github.com/legalyze/legalyze/internal/embedding"
	"github.com/legalyze/legalyze/internal/llm"
	"github.com/legalyze/legalyze/internal/models"
	"github.com/legalyze/legalyze/internal/storage"
	"github.com/legalyze/legalyze/internal/vector"
	"go.uber.org/zap"
)

var (
	// ErrEmptyQuestion is returned when the conversation does not end with a non-empty user turn.
	ErrEmptyQuestion = errors.New("last message must be a non-empty user question")
	// ErrContractNotFound is returned when the contract does not exist.
	ErrContractNotFound = errors.New("contract not found")
)

// Warmer loads a contract's stored chunks into the vector index. Implemented by the indexer.
type Warmer interface {
	WarmContract(ctx context.Context, id string) error
}

// Answer is the outcome of one chat turn.
type Answer struct {
	Text       string                `json:"text"`
	ChunksUsed []string              `json:"chunksUsed"`
	Chunks     []*models.ScoredChunk `json:"chunks"`
	Messages   []*models.Message     `json:"-"`
}

// Service runs document chat over one contract at a time.
type Service struct {
	storage    storage.Storage
	embedder   embedding.Embedder
	chunkIndex vector.ChunkIndex
	warmer     Warmer
	model      llm.ChatModel
	tokens     *TokenCounter
	config     config.RetrievalConfig
	logger     *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithWarmer sets the loader used when a contract is missing from the vector index.
func WithWarmer(w Warmer) ServiceOption {
	return func(s *Service) { s.warmer = w }
}

// WithTokenCounter sets the counter used to keep the context within budget.
func WithTokenCounter(tc *TokenCounter) ServiceOption {
	return func(s *Service) { s.tokens = tc }
}

// NewService creates a chat service.
func NewService(
	store storage.Storage,
	embedder embedding.Embedder,
	chunkIndex vector.ChunkIndex,
	model llm.ChatModel,
	cfg config.RetrievalConfig,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		storage:    store,
		embedder:   embedder,
		chunkIndex: chunkIndex,
		model:      model,
		tokens:     &TokenCounter{},
		config:     cfg,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Question returns the content of the last turn, which must be a non-empty user turn.
func Question(history []models.ChatTurn) (string, error) {
	if len(history) == 0 {
		return "", ErrEmptyQuestion
	}
	last := history[len(history)-1]
	if last.Role != models.RoleUser || strings.TrimSpace(last.Content) == "" {
		return "", ErrEmptyQuestion
	}
	return last.Content, nil
}

// Retrieve returns the top chunks of a contract for question.
func (s *Service) Retrieve(ctx context.Context, contractID, question string) ([]*models.ScoredChunk, error) {
	if s.warmer != nil {
		if err := s.warmer.WarmContract(ctx, contractID); err != nil {
			return nil, fmt.Errorf("failed to load chunks: %w", err)
		}
	}
	query, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	topK := s.config.TopK
	if topK <= 0 {
		topK = vector.DefaultTopK
	}
	scored, err := s.chunkIndex.Search(ctx, contractID, query, topK)
	if errors.Is(err, vector.ErrNotIndexed) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve chunks: %w", err)
	}
	return scored, nil
}

// Ask answers the last user turn of history about contractID. Completion deltas are passed to
// onDelta as they arrive; onDelta may be nil. Once the completion has finished, the question and
// the answer are stored as messages, the answer with the ids of the chunks that grounded it.
func (s *Service) Ask(ctx context.Context, contractID string, history []models.ChatTurn, onDelta func(string) error) (*Answer, error) {
	question, err := Question(history)
	if err != nil {
		return nil, err
	}
	contract, err := s.storage.GetContract(ctx, contractID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contract: %w", err)
	}

	scored, err := s.Retrieve(ctx, contractID, question)
	if err != nil {
		return nil, err
	}
	contextText, chunkIDs := BuildContext(scored, s.tokens, s.config.ContextTokenBudget)
	s.logger.Debug("rag context built",
		zap.String("contract", contractID),
		zap.Int("retrieved", len(scored)),
		zap.Int("used", len(chunkIDs)),
		zap.Int("tokens", s.tokens.Count(contextText)))

	if onDelta == nil {
		onDelta = func(string) error { return nil }
	}
	text, err := s.model.Stream(ctx, llm.Request{
		System:   SystemPrompt(contract, contextText),
		Messages: history,
	}, onDelta)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	now := time.Now().UTC()
	msgs := []*models.Message{
		{ID: uuid.New().String(), ContractID: contractID, Role: models.RoleUser, Content: question, CreatedAt: now},
		{ID: uuid.New().String(), ContractID: contractID, Role: models.RoleAssistant, Content: text, ChunksUsed: chunkIDs, CreatedAt: now.Add(time.Millisecond)},
	}
	if err := s.storage.CreateMessages(ctx, msgs...); err != nil {
		return nil, fmt.Errorf("failed to store messages: %w", err)
	}
	return &Answer{
		Text:       text,
		ChunksUsed: chunkIDs,
		Chunks:     scored[:len(chunkIDs)],
		Messages:   msgs,
	}, nil
}
