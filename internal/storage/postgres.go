package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/legalyze/legalyze/internal/models"
	"github.com/legalyze/legalyze/pkg/utils"
)

// PostgresStorage implements Storage on PostgreSQL. Chunk embeddings live in a pgvector column
// sized to the embedder's dimensions.
type PostgresStorage struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPostgresStorage connects to dsn, enables the vector extension and creates the schema.
func NewPostgresStorage(ctx context.Context, dsn string, dimensions int) (*PostgresStorage, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid vector dimensions: %d", dimensions)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &PostgresStorage{pool: pool, dimensions: dimensions}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStorage) initSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS contracts (
		seq BIGSERIAL UNIQUE,
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		file_type TEXT NOT NULL,
		file_size BIGINT NOT NULL DEFAULT 0,
		file_path TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		status TEXT NOT NULL,
		contract_type TEXT NOT NULL DEFAULT '',
		risk_score INTEGER,
		summary TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		source_mtime BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		analyzed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_created_at ON contracts(created_at);

	CREATE TABLE IF NOT EXISTS chunks (
		contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		id TEXT NOT NULL,
		section TEXT NOT NULL,
		text TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		embedding vector(%d),
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (contract_id, id)
	);

	CREATE TABLE IF NOT EXISTS risk_flags (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		section TEXT NOT NULL DEFAULT '',
		risk_level TEXT NOT NULL,
		suggestion TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_risk_flags_contract ON risk_flags(contract_id);

	CREATE TABLE IF NOT EXISTS missing_clauses (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		clause_name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		chunks_used JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_contract ON messages(contract_id, created_at);
	`, s.dimensions)
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const pgContractColumns = `c.id, c.file_name, c.file_type, c.file_size, c.file_path, c.category, c.status,
	c.contract_type, c.risk_score, c.summary, c.text, c.source_mtime, c.created_at, c.updated_at, c.analyzed_at,
	(SELECT COUNT(*) FROM chunks WHERE contract_id = c.id),
	(SELECT COUNT(*) FROM messages WHERE contract_id = c.id)`

func scanPGContract(row pgx.Row) (*models.Contract, error) {
	var (
		c                models.Contract
		category, status string
	)
	err := row.Scan(&c.ID, &c.FileName, &c.FileType, &c.FileSize, &c.FilePath, &category, &status,
		&c.ContractType, &c.RiskScore, &c.Summary, &c.Text, &c.SourceMtime, &c.CreatedAt, &c.UpdatedAt, &c.AnalyzedAt,
		&c.ChunkCount, &c.MessageCount)
	if err != nil {
		return nil, err
	}
	c.Category = models.Category(category)
	c.Status = models.Status(status)
	return &c, nil
}

// CreateContract inserts a contract. CreatedAt and UpdatedAt are set to now.
func (s *PostgresStorage) CreateContract(ctx context.Context, c *models.Contract) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contracts (id, file_name, file_type, file_size, file_path, category, status,
			contract_type, risk_score, summary, text, source_mtime, created_at, updated_at, analyzed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		c.ID, c.FileName, c.FileType, c.FileSize, c.FilePath, string(c.Category), string(c.Status),
		c.ContractType, c.RiskScore, c.Summary, utils.SanitizeUTF8(stripNUL(c.Text)), c.SourceMtime,
		c.CreatedAt, c.UpdatedAt, c.AnalyzedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert contract: %w", err)
	}
	return nil
}

// GetContract returns a contract by ID with flags, missing clauses and counts.
func (s *PostgresStorage) GetContract(ctx context.Context, id string) (*models.Contract, error) {
	c, err := scanPGContract(s.pool.QueryRow(ctx,
		`SELECT `+pgContractColumns+` FROM contracts c WHERE c.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	flags, err := s.riskFlags(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	c.RiskFlags = flags[id]

	rows, err := s.pool.Query(ctx,
		`SELECT id, contract_id, clause_name FROM missing_clauses WHERE contract_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m models.MissingClause
		if err := rows.Scan(&m.ID, &m.ContractID, &m.ClauseName); err != nil {
			return nil, err
		}
		c.MissingClauses = append(c.MissingClauses, &m)
	}
	return c, rows.Err()
}

// UpdateContract writes every column of c except created_at.
func (s *PostgresStorage) UpdateContract(ctx context.Context, c *models.Contract) error {
	c.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE contracts SET file_name = $1, file_type = $2, file_size = $3, file_path = $4, category = $5,
			status = $6, contract_type = $7, risk_score = $8, summary = $9, text = $10, source_mtime = $11,
			updated_at = $12, analyzed_at = $13
		 WHERE id = $14`,
		c.FileName, c.FileType, c.FileSize, c.FilePath, string(c.Category), string(c.Status),
		c.ContractType, c.RiskScore, c.Summary, utils.SanitizeUTF8(stripNUL(c.Text)), c.SourceMtime,
		c.UpdatedAt, c.AnalyzedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update contract: %w", err)
	}
	return expectOneTag(tag, c.ID)
}

// UpdateContractStatus sets the processing status of a contract.
func (s *PostgresStorage) UpdateContractStatus(ctx context.Context, id string, status models.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contracts SET status = $1, updated_at = $2 WHERE id = $3`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return expectOneTag(tag, id)
}

// DeleteContract removes a contract. Chunks, messages, flags and clauses are removed by cascade.
func (s *PostgresStorage) DeleteContract(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM contracts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete contract: %w", err)
	}
	return expectOneTag(tag, id)
}

// ListContracts returns contracts matching filter, newest first. Text is not loaded.
func (s *PostgresStorage) ListContracts(ctx context.Context, filter models.ContractFilter) ([]*models.Contract, error) {
	filter.Normalize()
	var (
		where []string
		args  []any
	)
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		where = append(where, fmt.Sprintf("c.category = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("c.status = $%d", len(args)))
	}
	query := `SELECT ` + strings.Replace(pgContractColumns, "c.text", "''", 1) + ` FROM contracts c`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY c.created_at DESC, c.seq DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		contracts []*models.Contract
		ids       []string
	)
	for rows.Next() {
		c, err := scanPGContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	flags, err := s.riskFlags(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range contracts {
		c.RiskFlags = flags[c.ID]
	}
	return contracts, nil
}

func (s *PostgresStorage) riskFlags(ctx context.Context, contractIDs []string) (map[string][]*models.RiskFlag, error) {
	out := make(map[string][]*models.RiskFlag, len(contractIDs))
	if len(contractIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, contract_id, title, description, section, risk_level, suggestion
		 FROM risk_flags WHERE contract_id = ANY($1) ORDER BY seq`, contractIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			f     models.RiskFlag
			level string
		)
		if err := rows.Scan(&f.ID, &f.ContractID, &f.Title, &f.Description, &f.Section, &level, &f.Suggestion); err != nil {
			return nil, err
		}
		f.Level = models.RiskLevel(level)
		out[f.ContractID] = append(out[f.ContractID], &f)
	}
	return out, rows.Err()
}

// ReplaceChunks deletes the existing chunks of a contract and inserts chunks in one transaction.
// Every embedding must match the configured dimensions.
func (s *PostgresStorage) ReplaceChunks(ctx context.Context, contractID string, chunks []*models.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE contract_id = $1`, contractID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	now := time.Now().UTC()
	for _, ch := range chunks {
		ch.ContractID = contractID
		ch.CreatedAt = now
		var emb any
		if len(ch.Embedding) > 0 {
			if len(ch.Embedding) != s.dimensions {
				return fmt.Errorf("chunk %s has %d dimensions, column has %d", ch.ID, len(ch.Embedding), s.dimensions)
			}
			emb = pgvector.NewVector(ch.Embedding)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO chunks (contract_id, id, section, text, chunk_index, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			contractID, ch.ID, ch.Section, utils.SanitizeUTF8(stripNUL(ch.Text)), ch.ChunkIndex, emb, now)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", ch.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetChunks returns the chunks of a contract ordered by chunk index, with embeddings.
func (s *PostgresStorage) GetChunks(ctx context.Context, contractID string) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT contract_id, id, section, text, chunk_index, embedding, created_at
		 FROM chunks WHERE contract_id = $1 ORDER BY chunk_index`, contractID)
}

// AllChunks returns all chunks ordered by contract and chunk index, with embeddings.
func (s *PostgresStorage) AllChunks(ctx context.Context) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT contract_id, id, section, text, chunk_index, embedding, created_at
		 FROM chunks ORDER BY contract_id, chunk_index`)
}

func (s *PostgresStorage) queryChunks(ctx context.Context, query string, args ...any) ([]*models.Chunk, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var (
			ch  models.Chunk
			emb *pgvector.Vector
		)
		if err := rows.Scan(&ch.ContractID, &ch.ID, &ch.Section, &ch.Text, &ch.ChunkIndex, &emb, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if emb != nil {
			ch.Embedding = emb.Slice()
		}
		chunks = append(chunks, &ch)
	}
	return chunks, rows.Err()
}

// SaveAnalysis stores the analysis fields on the contract, replaces its risk flags and missing
// clauses and marks it COMPLETE.
func (s *PostgresStorage) SaveAnalysis(ctx context.Context, contractID string, r *AnalysisResult) error {
	if r.AnalyzedAt.IsZero() {
		r.AnalyzedAt = time.Now()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE contracts SET contract_type = $1, risk_score = $2, summary = $3, analyzed_at = $4, status = $5, updated_at = $6
		 WHERE id = $7`,
		r.ContractType, r.RiskScore, r.Summary, r.AnalyzedAt.UTC(), string(models.StatusComplete), time.Now().UTC(), contractID)
	if err != nil {
		return fmt.Errorf("failed to update contract: %w", err)
	}
	if err := expectOneTag(tag, contractID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM risk_flags WHERE contract_id = $1`, contractID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM missing_clauses WHERE contract_id = $1`, contractID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, f := range r.RiskFlags {
		f.ContractID = contractID
		batch.Queue(`INSERT INTO risk_flags (id, contract_id, title, description, section, risk_level, suggestion)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			f.ID, contractID, f.Title, f.Description, f.Section, string(f.Level), f.Suggestion)
	}
	for _, m := range r.MissingClauses {
		m.ContractID = contractID
		batch.Queue(`INSERT INTO missing_clauses (id, contract_id, clause_name) VALUES ($1, $2, $3)`,
			m.ID, contractID, m.ClauseName)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert analysis rows: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateMessages inserts chat messages in one transaction. Zero CreatedAt values are set to now.
func (s *PostgresStorage) CreateMessages(ctx context.Context, msgs ...*models.Message) error {
	batch := &pgx.Batch{}
	for _, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		batch.Queue(`INSERT INTO messages (id, contract_id, role, content, chunks_used, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, m.ContractID, string(m.Role), stripNUL(m.Content), m.ChunksUsed, m.CreatedAt.UTC())
	}
	// A batch outside an explicit transaction runs as one implicit transaction.
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert messages: %w", err)
	}
	return nil
}

// ListMessages returns the chat history of a contract, oldest first.
func (s *PostgresStorage) ListMessages(ctx context.Context, contractID string) ([]*models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, contract_id, role, content, chunks_used, created_at
		 FROM messages WHERE contract_id = $1 ORDER BY created_at, seq`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var (
			m    models.Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.ContractID, &role, &m.Content, &m.ChunksUsed, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = models.Role(role)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// CountContracts returns the total number of contracts.
func (s *PostgresStorage) CountContracts(ctx context.Context) (int64, error) {
	return s.count(ctx, "contracts")
}

// CountChunks returns the total number of chunks.
func (s *PostgresStorage) CountChunks(ctx context.Context) (int64, error) {
	return s.count(ctx, "chunks")
}

// CountMessages returns the total number of chat messages.
func (s *PostgresStorage) CountMessages(ctx context.Context) (int64, error) {
	return s.count(ctx, "messages")
}

func (s *PostgresStorage) count(ctx context.Context, table string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
	return count, err
}

// Close closes the connection pool.
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

func expectOneTag(tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	return nil
}

// stripNUL removes NUL bytes, which PostgreSQL rejects in text columns.
func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
