package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/legalyze/legalyze/internal/config"
)

func writeBytes(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, n), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDiskUsage(t *testing.T) {
	dir := t.TempDir()
	cfg := config.StorageConfig{
		Driver:          config.DriverSQLite,
		DatabasePath:    filepath.Join(dir, "legalyze.db"),
		BleveIndexPath:  filepath.Join(dir, "bleve"),
		VectorIndexPath: filepath.Join(dir, "vectors.bin"),
		UploadDir:       filepath.Join(dir, "uploads"),
	}
	writeBytes(t, cfg.DatabasePath, 10)
	writeBytes(t, cfg.DatabasePath+"-wal", 4)
	writeBytes(t, filepath.Join(cfg.BleveIndexPath, "store", "root.bolt"), 7)
	writeBytes(t, filepath.Join(cfg.BleveIndexPath, "index_meta.json"), 2)
	writeBytes(t, cfg.VectorIndexPath, 32)
	// No uploads yet.

	u, err := DiskUsage(cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := Usage{Database: 14, KeywordIndex: 9, VectorIndex: 32}
	if u != want {
		t.Errorf("DiskUsage() = %+v, want %+v", u, want)
	}
	if u.Total() != 55 {
		t.Errorf("Total() = %d, want 55", u.Total())
	}
}

func TestDiskUsage_PostgresSkipsDatabase(t *testing.T) {
	dir := t.TempDir()
	cfg := config.StorageConfig{
		Driver:       config.DriverPostgres,
		DatabasePath: filepath.Join(dir, "legalyze.db"),
		UploadDir:    filepath.Join(dir, "uploads"),
	}
	writeBytes(t, cfg.DatabasePath, 10)
	writeBytes(t, filepath.Join(cfg.UploadDir, "nda.pdf"), 3)

	u, err := DiskUsage(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if u.Database != 0 || u.Uploads != 3 {
		t.Errorf("DiskUsage() = %+v", u)
	}
}

func TestDiskUsage_EmptyConfig(t *testing.T) {
	u, err := DiskUsage(config.StorageConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if u.Total() != 0 {
		t.Errorf("Total() = %d, want 0", u.Total())
	}
}
