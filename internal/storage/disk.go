package storage

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/legalyze/legalyze/internal/config"
)

// Usage is the on-disk footprint of a Legalyze installation, in bytes.
type Usage struct {
	Database     int64 `json:"database"`
	KeywordIndex int64 `json:"keyword_index"`
	VectorIndex  int64 `json:"vector_index"`
	Uploads      int64 `json:"uploads"`
}

// Total returns the sum of all parts.
func (u Usage) Total() int64 {
	return u.Database + u.KeywordIndex + u.VectorIndex + u.Uploads
}

// DiskUsage measures the paths configured in cfg. The SQLite database counts its WAL and
// shared-memory files; a Postgres database lives elsewhere and counts as zero. Missing paths
// count as zero.
func DiskUsage(cfg config.StorageConfig) (Usage, error) {
	var u Usage
	var err error
	if cfg.Driver != config.DriverPostgres && cfg.DatabasePath != "" {
		if u.Database, err = pathSize(cfg.DatabasePath, cfg.DatabasePath+"-wal", cfg.DatabasePath+"-shm"); err != nil {
			return Usage{}, err
		}
	}
	if u.KeywordIndex, err = pathSize(cfg.BleveIndexPath); err != nil {
		return Usage{}, err
	}
	if u.VectorIndex, err = pathSize(cfg.VectorIndexPath); err != nil {
		return Usage{}, err
	}
	if u.Uploads, err = pathSize(cfg.UploadDir); err != nil {
		return Usage{}, err
	}
	return u, nil
}

// pathSize sums the sizes of files and directory trees. Empty and missing paths are skipped.
func pathSize(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return 0, err
		}
	}
	return total, nil
}
