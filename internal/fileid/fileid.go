// Package fileid derives contract IDs from file paths, so a file ingested from an inbox or the
// CLI keeps its contract across re-ingests and can be removed by path.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// Prefix marks contract IDs derived from a path. Uploaded contracts use plain uuids.
const Prefix = "file:"

// ForPath returns the contract ID for path. The path is cleaned first, so equivalent spellings
// of the same path map to the same ID.
func ForPath(path string) string {
	hash := sha256.Sum256([]byte(filepath.Clean(path)))
	return Prefix + hex.EncodeToString(hash[:])
}

// IsPathID reports whether id was produced by ForPath.
func IsPathID(id string) bool {
	return strings.HasPrefix(id, Prefix) && len(id) == len(Prefix)+2*sha256.Size
}
