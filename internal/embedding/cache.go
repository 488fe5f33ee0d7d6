package embedding

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/snapshot"
)

// Cache maps document IDs to embedding vectors. It is loaded whole at
// startup and rewritten whole on every insert.
type Cache struct {
	mu      sync.RWMutex
	vectors map[string][]float32
	path    string
	logger  *slog.Logger
}

// Entry is one cached vector, as handed to similarity ranking.
type Entry struct {
	DocumentID string
	Vector     []float32
}

// LoadCache reads the cache file at path; a missing file gives an empty
// cache.
func LoadCache(path string) (*Cache, error) {
	c := &Cache{
		vectors: make(map[string][]float32),
		path:    path,
		logger:  slog.Default().With("component", "embedding-cache"),
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading embedding cache %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &c.vectors); err != nil {
			return nil, fmt.Errorf("parsing embedding cache %s: %w", path, err)
		}
	}
	for id, v := range c.vectors {
		if id == "" || len(v) == 0 {
			delete(c.vectors, id)
		}
	}
	c.logger.Info("embedding cache loaded", "path", path, "documents", len(c.vectors))
	return c, nil
}

// Put stores vec for docID and rewrites the cache file. It returns false
// without writing when docID already has a vector. On a write failure the
// entry is removed again.
func (c *Cache) Put(docID string, vec []float32) (bool, error) {
	if docID == "" || len(vec) == 0 {
		return false, fmt.Errorf("embedding for %q is empty", docID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.vectors[docID]; ok {
		return false, nil
	}
	c.vectors[docID] = append([]float32(nil), vec...)
	if err := c.persistLocked(); err != nil {
		delete(c.vectors, docID)
		return false, err
	}
	return true, nil
}

func (c *Cache) persistLocked() error {
	data, err := json.Marshal(c.vectors)
	if err != nil {
		return fmt.Errorf("marshaling embedding cache: %w", err)
	}
	if err := snapshot.WriteFileAtomic(c.path, data); err != nil {
		return fmt.Errorf("persisting embedding cache: %w", err)
	}
	return nil
}

// Get returns a copy of the vector for docID.
func (c *Cache) Get(docID string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vectors[docID]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), v...), true
}

func (c *Cache) Has(docID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.vectors[docID]
	return ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}

// Snapshot returns every entry sorted by document ID. Vectors are shared
// with the cache and must not be modified; stored vectors are never mutated
// in place.
func (c *Cache) Snapshot() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.vectors))
	for id, v := range c.vectors {
		out = append(out, Entry{DocumentID: id, Vector: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out
}
