package storage

import (
	"context"
	"os"
	"testing"

	"github.com/legalyze/legalyze/internal/models"
)

// postgresDSN returns the test database DSN or skips the test.
func postgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("LEGALYZE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEGALYZE_TEST_POSTGRES_DSN not set")
	}
	return dsn
}

func newTestPostgres(t *testing.T) *PostgresStorage {
	t.Helper()
	ctx := context.Background()
	store, err := NewPostgresStorage(ctx, postgresDSN(t), 3)
	if err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"messages", "risk_flags", "missing_clauses", "chunks", "contracts"} {
		if _, err := store.pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatal(err)
		}
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresStorage(t *testing.T) {
	postgresDSN(t)
	runStorageTests(t, func(t *testing.T) Storage { return newTestPostgres(t) })
}

func TestPostgresStorage_DimensionMismatch(t *testing.T) {
	store := newTestPostgres(t)
	ctx := context.Background()
	if err := store.CreateContract(ctx, newContract("c1")); err != nil {
		t.Fatal(err)
	}
	err := store.ReplaceChunks(ctx, "c1", []*models.Chunk{{ID: "chunk_1", Section: "§1", Text: "x", Embedding: []float32{1, 2}}})
	if err == nil {
		t.Error("expected error for wrong embedding dimensions")
	}
}

func TestNewPostgresStorage_InvalidDimensions(t *testing.T) {
	if _, err := NewPostgresStorage(context.Background(), "postgres://localhost/none", 0); err == nil {
		t.Error("expected error for zero dimensions")
	}
}

func TestStripNUL(t *testing.T) {
	if got := stripNUL("a\x00b"); got != "ab" {
		t.Errorf("stripNUL = %q", got)
	}
}
