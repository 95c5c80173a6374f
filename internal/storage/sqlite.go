package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/legalyze/legalyze/internal/models"
	"github.com/legalyze/legalyze/pkg/utils"
)

// SQLiteStorage implements Storage using SQLite. Chunk embeddings are stored as
// little-endian float32 blobs.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		file_type TEXT NOT NULL,
		file_size INTEGER NOT NULL DEFAULT 0,
		file_path TEXT,
		category TEXT NOT NULL,
		status TEXT NOT NULL,
		contract_type TEXT,
		risk_score INTEGER,
		summary TEXT,
		text TEXT,
		source_mtime INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		analyzed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_created_at ON contracts(created_at);
	CREATE INDEX IF NOT EXISTS idx_contracts_category_status ON contracts(category, status);

	CREATE TABLE IF NOT EXISTS chunks (
		contract_id TEXT NOT NULL,
		id TEXT NOT NULL,
		section TEXT NOT NULL,
		text TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		embedding BLOB,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (contract_id, id),
		FOREIGN KEY (contract_id) REFERENCES contracts(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_contract_index ON chunks(contract_id, chunk_index);

	CREATE TABLE IF NOT EXISTS risk_flags (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		section TEXT,
		risk_level TEXT NOT NULL,
		suggestion TEXT,
		FOREIGN KEY (contract_id) REFERENCES contracts(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_risk_flags_contract ON risk_flags(contract_id);

	CREATE TABLE IF NOT EXISTS missing_clauses (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		clause_name TEXT NOT NULL,
		FOREIGN KEY (contract_id) REFERENCES contracts(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_missing_clauses_contract ON missing_clauses(contract_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		chunks_used TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (contract_id) REFERENCES contracts(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_contract ON messages(contract_id, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

const contractColumns = `c.id, c.file_name, c.file_type, c.file_size, c.file_path, c.category, c.status,
	c.contract_type, c.risk_score, c.summary, c.text, c.source_mtime, c.created_at, c.updated_at, c.analyzed_at,
	(SELECT COUNT(*) FROM chunks WHERE contract_id = c.id),
	(SELECT COUNT(*) FROM messages WHERE contract_id = c.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*models.Contract, error) {
	var (
		c                                     models.Contract
		filePath, contractType, summary, text sql.NullString
		riskScore                             sql.NullInt64
		analyzedAt                            sql.NullTime
		category, status                      string
	)
	err := row.Scan(&c.ID, &c.FileName, &c.FileType, &c.FileSize, &filePath, &category, &status,
		&contractType, &riskScore, &summary, &text, &c.SourceMtime, &c.CreatedAt, &c.UpdatedAt, &analyzedAt,
		&c.ChunkCount, &c.MessageCount)
	if err != nil {
		return nil, err
	}
	c.FilePath = filePath.String
	c.Category = models.Category(category)
	c.Status = models.Status(status)
	c.ContractType = contractType.String
	c.Summary = summary.String
	c.Text = text.String
	if riskScore.Valid {
		score := int(riskScore.Int64)
		c.RiskScore = &score
	}
	if analyzedAt.Valid {
		t := analyzedAt.Time
		c.AnalyzedAt = &t
	}
	return &c, nil
}

// CreateContract inserts a contract. CreatedAt and UpdatedAt are set to now.
func (s *SQLiteStorage) CreateContract(ctx context.Context, c *models.Contract) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contracts (id, file_name, file_type, file_size, file_path, category, status,
			contract_type, risk_score, summary, text, source_mtime, created_at, updated_at, analyzed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.FileName, c.FileType, c.FileSize, c.FilePath, string(c.Category), string(c.Status),
		c.ContractType, nullableInt(c.RiskScore), c.Summary, utils.SanitizeUTF8(c.Text), c.SourceMtime,
		c.CreatedAt, c.UpdatedAt, nullableTime(c.AnalyzedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert contract: %w", err)
	}
	return nil
}

// GetContract returns a contract by ID with flags, missing clauses and counts.
func (s *SQLiteStorage) GetContract(ctx context.Context, id string) (*models.Contract, error) {
	c, err := scanContract(s.db.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts c WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
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
	if c.MissingClauses, err = s.missingClauses(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateContract writes every column of c except created_at.
func (s *SQLiteStorage) UpdateContract(ctx context.Context, c *models.Contract) error {
	c.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE contracts SET file_name = ?, file_type = ?, file_size = ?, file_path = ?, category = ?,
			status = ?, contract_type = ?, risk_score = ?, summary = ?, text = ?, source_mtime = ?,
			updated_at = ?, analyzed_at = ?
		 WHERE id = ?`,
		c.FileName, c.FileType, c.FileSize, c.FilePath, string(c.Category), string(c.Status),
		c.ContractType, nullableInt(c.RiskScore), c.Summary, utils.SanitizeUTF8(c.Text), c.SourceMtime,
		c.UpdatedAt, nullableTime(c.AnalyzedAt), c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update contract: %w", err)
	}
	return expectOneRow(result, c.ID)
}

// UpdateContractStatus sets the processing status of a contract.
func (s *SQLiteStorage) UpdateContractStatus(ctx context.Context, id string, status models.Status) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE contracts SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return expectOneRow(result, id)
}

// DeleteContract removes a contract with its chunks, messages, flags and clauses.
func (s *SQLiteStorage) DeleteContract(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"chunks", "messages", "risk_flags", "missing_clauses"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE contract_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM contracts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete contract: %w", err)
	}
	if err := expectOneRow(result, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListContracts returns contracts matching filter, newest first. Text is not loaded.
func (s *SQLiteStorage) ListContracts(ctx context.Context, filter models.ContractFilter) ([]*models.Contract, error) {
	filter.Normalize()
	var (
		where []string
		args  []any
	)
	if filter.Category != "" {
		where = append(where, "c.category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.Status != "" {
		where = append(where, "c.status = ?")
		args = append(args, string(filter.Status))
	}
	query := `SELECT ` + strings.Replace(contractColumns, "c.text", "''", 1) + ` FROM contracts c`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY c.created_at DESC, c.rowid DESC LIMIT ?"
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		contracts []*models.Contract
		ids       []string
	)
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	flags, err := s.riskFlags(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range contracts {
		c.RiskFlags = flags[c.ID]
	}
	return contracts, nil
}

func (s *SQLiteStorage) riskFlags(ctx context.Context, contractIDs []string) (map[string][]*models.RiskFlag, error) {
	out := make(map[string][]*models.RiskFlag, len(contractIDs))
	if len(contractIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(contractIDs))
	for i, id := range contractIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contract_id, title, description, section, risk_level, suggestion
		 FROM risk_flags WHERE contract_id IN (?`+strings.Repeat(", ?", len(contractIDs)-1)+`)
		 ORDER BY contract_id, rowid`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			f                          models.RiskFlag
			description, section, sugg sql.NullString
			level                      string
		)
		if err := rows.Scan(&f.ID, &f.ContractID, &f.Title, &description, &section, &level, &sugg); err != nil {
			return nil, err
		}
		f.Description, f.Section, f.Suggestion = description.String, section.String, sugg.String
		f.Level = models.RiskLevel(level)
		out[f.ContractID] = append(out[f.ContractID], &f)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) missingClauses(ctx context.Context, contractID string) ([]*models.MissingClause, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contract_id, clause_name FROM missing_clauses WHERE contract_id = ? ORDER BY rowid`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.MissingClause
	for rows.Next() {
		var m models.MissingClause
		if err := rows.Scan(&m.ID, &m.ContractID, &m.ClauseName); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ReplaceChunks deletes the existing chunks of a contract and inserts chunks in one transaction.
func (s *SQLiteStorage) ReplaceChunks(ctx context.Context, contractID string, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE contract_id = ?`, contractID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (contract_id, id, section, text, chunk_index, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, ch := range chunks {
		ch.ContractID = contractID
		ch.CreatedAt = now
		var emb []byte
		if len(ch.Embedding) > 0 {
			emb = utils.Float32sToBytes(ch.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, contractID, ch.ID, ch.Section, utils.SanitizeUTF8(ch.Text), ch.ChunkIndex, emb, now); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", ch.ID, err)
		}
	}
	return tx.Commit()
}

// GetChunks returns the chunks of a contract ordered by chunk index, with embeddings.
func (s *SQLiteStorage) GetChunks(ctx context.Context, contractID string) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT contract_id, id, section, text, chunk_index, embedding, created_at
		 FROM chunks WHERE contract_id = ? ORDER BY chunk_index`, contractID)
}

// AllChunks returns all chunks ordered by contract and chunk index, with embeddings.
func (s *SQLiteStorage) AllChunks(ctx context.Context) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT contract_id, id, section, text, chunk_index, embedding, created_at
		 FROM chunks ORDER BY contract_id, chunk_index`)
}

func (s *SQLiteStorage) queryChunks(ctx context.Context, query string, args ...any) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var (
			ch  models.Chunk
			emb []byte
		)
		if err := rows.Scan(&ch.ContractID, &ch.ID, &ch.Section, &ch.Text, &ch.ChunkIndex, &emb, &ch.CreatedAt); err != nil {
			return nil, err
		}
		if len(emb) > 0 {
			ch.Embedding = utils.BytesToFloat32s(emb)
		}
		chunks = append(chunks, &ch)
	}
	return chunks, rows.Err()
}

// SaveAnalysis stores the analysis fields on the contract, replaces its risk flags and missing
// clauses and marks it COMPLETE.
func (s *SQLiteStorage) SaveAnalysis(ctx context.Context, contractID string, r *AnalysisResult) error {
	if r.AnalyzedAt.IsZero() {
		r.AnalyzedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE contracts SET contract_type = ?, risk_score = ?, summary = ?, analyzed_at = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		r.ContractType, r.RiskScore, r.Summary, r.AnalyzedAt.UTC(), string(models.StatusComplete), time.Now().UTC(), contractID)
	if err != nil {
		return fmt.Errorf("failed to update contract: %w", err)
	}
	if err := expectOneRow(result, contractID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM risk_flags WHERE contract_id = ?`, contractID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM missing_clauses WHERE contract_id = ?`, contractID); err != nil {
		return err
	}
	for _, f := range r.RiskFlags {
		f.ContractID = contractID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO risk_flags (id, contract_id, title, description, section, risk_level, suggestion)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			f.ID, contractID, f.Title, f.Description, f.Section, string(f.Level), f.Suggestion); err != nil {
			return fmt.Errorf("failed to insert risk flag: %w", err)
		}
	}
	for _, m := range r.MissingClauses {
		m.ContractID = contractID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO missing_clauses (id, contract_id, clause_name) VALUES (?, ?, ?)`,
			m.ID, contractID, m.ClauseName); err != nil {
			return fmt.Errorf("failed to insert missing clause: %w", err)
		}
	}
	return tx.Commit()
}

// CreateMessages inserts chat messages in one transaction. Zero CreatedAt values are set to now.
func (s *SQLiteStorage) CreateMessages(ctx context.Context, msgs ...*models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (id, contract_id, role, content, chunks_used, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		used, err := json.Marshal(m.ChunksUsed)
		if err != nil {
			return fmt.Errorf("failed to marshal chunks used: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, m.ID, m.ContractID, string(m.Role), m.Content, string(used), m.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	return tx.Commit()
}

// ListMessages returns the chat history of a contract, oldest first.
func (s *SQLiteStorage) ListMessages(ctx context.Context, contractID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contract_id, role, content, chunks_used, created_at
		 FROM messages WHERE contract_id = ? ORDER BY created_at, rowid`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var (
			m    models.Message
			role string
			used sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ContractID, &role, &m.Content, &used, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = models.Role(role)
		if used.Valid && used.String != "" {
			if err := json.Unmarshal([]byte(used.String), &m.ChunksUsed); err != nil {
				return nil, fmt.Errorf("failed to unmarshal chunks used: %w", err)
			}
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// CountContracts returns the total number of contracts.
func (s *SQLiteStorage) CountContracts(ctx context.Context) (int64, error) {
	return s.count(ctx, "contracts")
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	return s.count(ctx, "chunks")
}

// CountMessages returns the total number of chat messages.
func (s *SQLiteStorage) CountMessages(ctx context.Context) (int64, error) {
	return s.count(ctx, "messages")
}

func (s *SQLiteStorage) count(ctx context.Context, table string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func expectOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	return nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
