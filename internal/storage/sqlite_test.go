package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/legalyze/legalyze/internal/config"
	"github.com/legalyze/legalyze/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "db", "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStorage(t *testing.T) {
	runStorageTests(t, func(t *testing.T) Storage { return newTestSQLite(t) })
}

func TestSQLiteStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := store.CreateContract(ctx, newContract("c1")); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	n, err := store.CountContracts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 contract after reopen, got %d", n)
	}
}

func newContract(id string) *models.Contract {
	return &models.Contract{
		ID:       id,
		FileName: id + ".pdf",
		FileType: "pdf",
		FileSize: 1024,
		Category: models.CategoryLegal,
		Status:   models.StatusProcessing,
		Text:     "§1 Parties. Acme and Beta.",
	}
}

// runStorageTests exercises a Storage implementation. newStore must return an empty store.
func runStorageTests(t *testing.T, newStore func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("contract CRUD", func(t *testing.T) {
		store := newStore(t)
		c := newContract("c1")
		if err := store.CreateContract(ctx, c); err != nil {
			t.Fatal(err)
		}
		if c.CreatedAt.IsZero() {
			t.Error("CreatedAt should be set")
		}

		got, err := store.GetContract(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		if got.FileName != "c1.pdf" || got.Text != c.Text || got.Category != models.CategoryLegal {
			t.Errorf("got %+v", got)
		}
		if got.RiskScore != nil || got.Analyzed() {
			t.Error("new contract should not be analyzed")
		}

		got.ContractType = "NDA"
		got.FileSize = 2048
		if err := store.UpdateContract(ctx, got); err != nil {
			t.Fatal(err)
		}
		if err := store.UpdateContractStatus(ctx, "c1", models.StatusError); err != nil {
			t.Fatal(err)
		}
		got, _ = store.GetContract(ctx, "c1")
		if got.ContractType != "NDA" || got.FileSize != 2048 || got.Status != models.StatusError {
			t.Errorf("update not applied: %+v", got)
		}

		if err := store.DeleteContract(ctx, "c1"); err != nil {
			t.Fatal(err)
		}
		if _, err := store.GetContract(ctx, "c1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.GetContract(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("get: %v", err)
		}
		if err := store.UpdateContractStatus(ctx, "missing", models.StatusComplete); !errors.Is(err, ErrNotFound) {
			t.Errorf("status: %v", err)
		}
		if err := store.DeleteContract(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("delete: %v", err)
		}
		if err := store.SaveAnalysis(ctx, "missing", &AnalysisResult{AnalyzedAt: time.Now()}); !errors.Is(err, ErrNotFound) {
			t.Errorf("analysis: %v", err)
		}
	})

	t.Run("chunks", func(t *testing.T) {
		store := newStore(t)
		if err := store.CreateContract(ctx, newContract("c1")); err != nil {
			t.Fatal(err)
		}
		chunks := []*models.Chunk{
			{ID: "chunk_1", Section: "§1", Text: "Parties", ChunkIndex: 0, Embedding: []float32{1, 0, 0}},
			{ID: "chunk_2", Section: "§2", Text: "Term", ChunkIndex: 1, Embedding: []float32{0, 1, 0}},
		}
		if err := store.ReplaceChunks(ctx, "c1", chunks); err != nil {
			t.Fatal(err)
		}
		got, err := store.GetChunks(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].ID != "chunk_1" || got[1].Section != "§2" {
			t.Fatalf("got %+v", got)
		}
		if len(got[1].Embedding) != 3 || got[1].Embedding[1] != 1 {
			t.Errorf("embedding not round-tripped: %v", got[1].Embedding)
		}

		if err := store.ReplaceChunks(ctx, "c1", chunks[:1]); err != nil {
			t.Fatal(err)
		}
		got, _ = store.GetChunks(ctx, "c1")
		if len(got) != 1 {
			t.Errorf("expected replace to leave 1 chunk, got %d", len(got))
		}

		if err := store.CreateContract(ctx, newContract("c2")); err != nil {
			t.Fatal(err)
		}
		_ = store.ReplaceChunks(ctx, "c2", []*models.Chunk{{ID: "chunk_1", Section: "§1", Text: "Other", Embedding: []float32{0, 0, 1}}})
		all, err := store.AllChunks(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 2 || all[0].ContractID != "c1" || all[1].ContractID != "c2" {
			t.Errorf("all chunks: %+v", all)
		}
		if n, _ := store.CountChunks(ctx); n != 2 {
			t.Errorf("CountChunks = %d", n)
		}
	})

	t.Run("analysis", func(t *testing.T) {
		store := newStore(t)
		if err := store.CreateContract(ctx, newContract("c1")); err != nil {
			t.Fatal(err)
		}
		result := &AnalysisResult{
			ContractType: "Employment Agreement",
			RiskScore:    72,
			Summary:      "One-sided termination.",
			AnalyzedAt:   time.Now(),
			RiskFlags: []*models.RiskFlag{
				{ID: "f1", Title: "Unilateral termination", Section: "§4", Level: models.RiskHigh, Suggestion: "Add notice"},
				{ID: "f2", Title: "Vague IP", Section: "§7", Level: models.RiskMedium},
			},
			MissingClauses: []*models.MissingClause{{ID: "m1", ClauseName: "Governing law"}},
		}
		if err := store.SaveAnalysis(ctx, "c1", result); err != nil {
			t.Fatal(err)
		}
		got, err := store.GetContract(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != models.StatusComplete || got.RiskScore == nil || *got.RiskScore != 72 || !got.Analyzed() {
			t.Errorf("analysis fields: %+v", got)
		}
		if len(got.RiskFlags) != 2 || got.RiskFlags[0].Title != "Unilateral termination" || got.RiskFlags[0].Level != models.RiskHigh {
			t.Errorf("flags: %+v", got.RiskFlags)
		}
		if len(got.MissingClauses) != 1 || got.MissingClauses[0].ClauseName != "Governing law" {
			t.Errorf("missing clauses: %+v", got.MissingClauses)
		}

		// Re-analysis replaces previous flags.
		result.RiskFlags = result.RiskFlags[1:]
		result.RiskFlags[0].ID = "f3"
		result.MissingClauses = nil
		if err := store.SaveAnalysis(ctx, "c1", result); err != nil {
			t.Fatal(err)
		}
		got, _ = store.GetContract(ctx, "c1")
		if len(got.RiskFlags) != 1 || len(got.MissingClauses) != 0 {
			t.Errorf("expected flags to be replaced: %+v %+v", got.RiskFlags, got.MissingClauses)
		}
	})

	t.Run("messages", func(t *testing.T) {
		store := newStore(t)
		if err := store.CreateContract(ctx, newContract("c1")); err != nil {
			t.Fatal(err)
		}
		now := time.Now()
		err := store.CreateMessages(ctx,
			&models.Message{ID: "m1", ContractID: "c1", Role: models.RoleUser, Content: "Is §4 risky?", CreatedAt: now},
			&models.Message{ID: "m2", ContractID: "c1", Role: models.RoleAssistant, Content: "🔴 HIGH RISK", ChunksUsed: []string{"chunk_4"}, CreatedAt: now.Add(time.Millisecond)},
		)
		if err != nil {
			t.Fatal(err)
		}
		msgs, err := store.ListMessages(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Content != "🔴 HIGH RISK" {
			t.Fatalf("messages: %+v", msgs)
		}
		if len(msgs[1].ChunksUsed) != 1 || msgs[1].ChunksUsed[0] != "chunk_4" {
			t.Errorf("chunks used: %v", msgs[1].ChunksUsed)
		}
		got, _ := store.GetContract(ctx, "c1")
		if got.MessageCount != 2 {
			t.Errorf("MessageCount = %d", got.MessageCount)
		}

		if err := store.DeleteContract(ctx, "c1"); err != nil {
			t.Fatal(err)
		}
		if n, _ := store.CountMessages(ctx); n != 0 {
			t.Errorf("messages should be deleted with the contract, got %d", n)
		}
	})

	t.Run("list", func(t *testing.T) {
		store := newStore(t)
		for i := 0; i < 5; i++ {
			c := newContract(fmt.Sprintf("c%d", i))
			if i%2 == 1 {
				c.Category = models.CategoryBusiness
			}
			if err := store.CreateContract(ctx, c); err != nil {
				t.Fatal(err)
			}
		}
		_ = store.SaveAnalysis(ctx, "c4", &AnalysisResult{
			RiskScore:  10,
			AnalyzedAt: time.Now(),
			RiskFlags:  []*models.RiskFlag{{ID: "f1", Title: "T", Level: models.RiskLow}},
		})

		all, err := store.ListContracts(ctx, models.ContractFilter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 5 || all[0].ID != "c4" || all[4].ID != "c0" {
			ids := make([]string, len(all))
			for i, c := range all {
				ids[i] = c.ID
			}
			t.Fatalf("expected newest first, got %v", ids)
		}
		if len(all[0].RiskFlags) != 1 {
			t.Errorf("list should include risk flags: %+v", all[0])
		}
		if all[0].Text != "" {
			t.Error("list should not load contract text")
		}

		tests := []struct {
			name   string
			filter models.ContractFilter
			want   int
		}{
			{"limit", models.ContractFilter{Limit: 2}, 2},
			{"category", models.ContractFilter{Category: models.CategoryBusiness}, 2},
			{"status", models.ContractFilter{Status: models.StatusComplete}, 1},
			{"category and status", models.ContractFilter{Category: models.CategoryBusiness, Status: models.StatusComplete}, 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := store.ListContracts(ctx, tt.filter)
				if err != nil {
					t.Fatal(err)
				}
				if len(got) != tt.want {
					t.Errorf("got %d contracts, want %d", len(got), tt.want)
				}
			})
		}
		if n, _ := store.CountContracts(ctx); n != 5 {
			t.Errorf("CountContracts = %d", n)
		}
	})
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, config.StorageConfig{Driver: config.DriverSQLite, DatabasePath: filepath.Join(t.TempDir(), "open.db")}, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, ok := store.(*SQLiteStorage); !ok {
		t.Errorf("expected *SQLiteStorage, got %T", store)
	}
	if _, err := Open(ctx, config.StorageConfig{Driver: "mysql"}, 3); err == nil {
		t.Error("expected error for unknown driver")
	}
}
