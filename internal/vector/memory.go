package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/legalyze/legalyze/internal/models"
	"github.com/legalyze/legalyze/pkg/utils"
)

// ErrNotIndexed is returned by Search when the contract has no indexed chunks.
var ErrNotIndexed = errors.New("contract not indexed")

// indexFileMagic identifies a saved MemoryIndex file.
const indexFileMagic uint32 = 0x4c47_5a31 // "LGZ1"

// MemoryIndex is an in-memory chunk index with brute-force cosine search.
// A contract produces tens of chunks, so a scan per query is enough.
type MemoryIndex struct {
	dimensions int
	contracts  map[string][]models.ChunkEmbedding
	order      []string
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory chunk index for vectors of the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		contracts:  make(map[string][]models.ChunkEmbedding),
	}, nil
}

// Dimensions returns the vector dimension accepted by the index.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Add replaces the chunks indexed for contractID. Every chunk must carry an embedding of the
// index dimension. Chunks and vectors are copied.
func (m *MemoryIndex) Add(ctx context.Context, contractID string, chunks []*models.Chunk) error {
	entries := make([]models.ChunkEmbedding, 0, len(chunks))
	for _, ch := range chunks {
		if len(ch.Embedding) != m.dimensions {
			return fmt.Errorf("%w: chunk %s has %d, index expects %d", ErrDimensionMismatch, ch.ID, len(ch.Embedding), m.dimensions)
		}
		vec := make([]float32, m.dimensions)
		copy(vec, ch.Embedding)
		c := *ch
		c.ContractID = contractID
		c.Embedding = nil
		entries = append(entries, models.ChunkEmbedding{Chunk: &c, Embedding: vec})
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contracts[contractID]; !ok {
		m.order = append(m.order, contractID)
	}
	m.contracts[contractID] = entries
	return nil
}

// Has reports whether contractID is indexed.
func (m *MemoryIndex) Has(contractID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.contracts[contractID]
	return ok
}

// Search returns the top-k chunks of contractID by cosine similarity to query.
func (m *MemoryIndex) Search(ctx context.Context, contractID string, query []float32, k int) ([]*models.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, ok := m.contracts[contractID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotIndexed, contractID)
	}
	return FindTopChunks(query, entries, k)
}

// SearchAll returns the top-k chunks across all contracts. Contracts are scanned in the order
// they were first added, so equal scores resolve deterministically.
func (m *MemoryIndex) SearchAll(ctx context.Context, query []float32, k int) ([]*models.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []models.ChunkEmbedding
	for _, id := range m.order {
		all = append(all, m.contracts[id]...)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return FindTopChunks(query, all, k)
}

// Remove drops every chunk of contractID.
func (m *MemoryIndex) Remove(ctx context.Context, contractID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contracts[contractID]; !ok {
		return nil
	}
	delete(m.contracts, contractID)
	for i, id := range m.order {
		if id == contractID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Save persists the index to path, creating the directory if needed. Format (little endian):
// magic, dimension, contract count; per contract: id, chunk count; per chunk: id, section,
// text, chunk index, vector. Strings are length-prefixed with a uint32.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.writeTo(w); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

func (m *MemoryIndex) writeTo(w io.Writer) error {
	header := []uint32{indexFileMagic, uint32(m.dimensions), uint32(len(m.order))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, id := range m.order {
		entries := m.contracts[id]
		if err := writeString(w, id); err != nil {
			return fmt.Errorf("write contract id: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(entries))); err != nil {
			return fmt.Errorf("write chunk count: %w", err)
		}
		for _, e := range entries {
			for _, s := range []string{e.Chunk.ID, e.Chunk.Section, e.Chunk.Text} {
				if err := writeString(w, s); err != nil {
					return fmt.Errorf("write chunk: %w", err)
				}
			}
			if err := binary.Write(w, binary.LittleEndian, uint32(e.Chunk.ChunkIndex)); err != nil {
				return fmt.Errorf("write chunk index: %w", err)
			}
			if _, err := w.Write(utils.Float32sToBytes(e.Embedding)); err != nil {
				return fmt.Errorf("write vector: %w", err)
			}
		}
	}
	return nil
}

// Load replaces the index contents with the file at path. Dimensions must match.
// A missing file is not an error and leaves the index unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if header[0] != indexFileMagic {
		return fmt.Errorf("not a chunk index file: %s", path)
	}
	if int(header[1]) != m.dimensions {
		return fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, header[1], m.dimensions)
	}
	contracts := make(map[string][]models.ChunkEmbedding, header[2])
	order := make([]string, 0, header[2])
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < header[2]; i++ {
		id, err := readString(r)
		if err != nil {
			return fmt.Errorf("read contract id: %w", err)
		}
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return fmt.Errorf("read chunk count: %w", err)
		}
		entries := make([]models.ChunkEmbedding, 0, n)
		for j := uint32(0); j < n; j++ {
			var fields [3]string
			for k := range fields {
				if fields[k], err = readString(r); err != nil {
					return fmt.Errorf("read chunk: %w", err)
				}
			}
			var chunkIndex uint32
			if err := binary.Read(r, binary.LittleEndian, &chunkIndex); err != nil {
				return fmt.Errorf("read chunk index: %w", err)
			}
			if _, err := io.ReadFull(r, buf); err != nil {
				return fmt.Errorf("read vector: %w", err)
			}
			entries = append(entries, models.ChunkEmbedding{
				Chunk: &models.Chunk{
					ID:         fields[0],
					ContractID: id,
					Section:    fields[1],
					Text:       fields[2],
					ChunkIndex: int(chunkIndex),
				},
				Embedding: utils.BytesToFloat32s(buf),
			})
		}
		contracts[id] = entries
		order = append(order, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts = contracts
	m.order = order
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// Size returns the number of indexed chunks.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, entries := range m.contracts {
		n += len(entries)
	}
	return n
}

// Contracts returns the number of indexed contracts.
func (m *MemoryIndex) Contracts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contracts)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
