// Package storage defines persistence for contracts, chunks, chat messages and analysis results.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/legalyze/legalyze/internal/config"
	"github.com/legalyze/legalyze/internal/models"
)

// ErrNotFound is returned when a contract does not exist.
var ErrNotFound = errors.New("not found")

// AnalysisResult is the outcome of a risk analysis, written in one transaction.
type AnalysisResult struct {
	ContractType   string
	RiskScore      int
	Summary        string
	AnalyzedAt     time.Time
	RiskFlags      []*models.RiskFlag
	MissingClauses []*models.MissingClause
}

// Storage defines contract persistence operations.
type Storage interface {
	// Contract operations
	CreateContract(ctx context.Context, c *models.Contract) error
	// GetContract returns the contract with its risk flags, missing clauses and counts.
	GetContract(ctx context.Context, id string) (*models.Contract, error)
	UpdateContract(ctx context.Context, c *models.Contract) error
	UpdateContractStatus(ctx context.Context, id string, status models.Status) error
	// DeleteContract removes the contract and everything that belongs to it.
	DeleteContract(ctx context.Context, id string) error
	// ListContracts returns contracts newest first, with risk flags and counts.
	ListContracts(ctx context.Context, filter models.ContractFilter) ([]*models.Contract, error)

	// Chunk operations
	// ReplaceChunks atomically swaps the chunks (and embeddings) of a contract.
	ReplaceChunks(ctx context.Context, contractID string, chunks []*models.Chunk) error
	GetChunks(ctx context.Context, contractID string) ([]*models.Chunk, error)
	// AllChunks returns every chunk with its embedding, grouped by contract in chunk order.
	AllChunks(ctx context.Context) ([]*models.Chunk, error)

	// Analysis
	SaveAnalysis(ctx context.Context, contractID string, result *AnalysisResult) error

	// Chat messages
	CreateMessages(ctx context.Context, msgs ...*models.Message) error
	ListMessages(ctx context.Context, contractID string) ([]*models.Message, error)

	// Stats
	CountContracts(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)
	CountMessages(ctx context.Context) (int64, error)

	Close() error
}

// Open returns the Storage selected by cfg.Driver. dimensions sizes the Postgres vector column.
func Open(ctx context.Context, cfg config.StorageConfig, dimensions int) (Storage, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return NewSQLiteStorage(cfg.DatabasePath)
	case config.DriverPostgres:
		return NewPostgresStorage(ctx, cfg.PostgresDSN, dimensions)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}
