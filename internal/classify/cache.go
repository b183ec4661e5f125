package classify

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"jobpipe/internal/config"
)

// ErrCacheCorrupt is returned when a persisted cache cannot be decoded.
var ErrCacheCorrupt = errors.New("classification cache is corrupt")

// Entry is a cached classification result.
type Entry struct {
	Labels    Labels    `json:"labels"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store maps text fingerprints to classification results. Only successful
// results are stored. Writes are made by a single goroutine; Flush persists
// entries added since the last flush.
type Store interface {
	Get(key string) (Entry, bool)
	Put(key string, entry Entry)
	Flush(ctx context.Context) error
	Len() int
	Close() error
}

// OpenStore opens the cache backend named in cfg.
func OpenStore(ctx context.Context, cfg config.CacheConfig) (Store, error) {
	switch cfg.Backend {
	case config.CacheBackendSQLite:
		store, err := OpenSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}

		return store, nil
	case config.CacheBackendJSON, "":
		store, err := OpenJSONStore(cfg.Path)
		if err != nil {
			return nil, err
		}

		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidCacheBackend, cfg.Backend)
	}
}

// entries is the in-memory index shared by all backends.
type entries struct {
	mu    sync.RWMutex
	all   map[string]Entry
	dirty map[string]struct{}
}

func newEntries() entries {
	return entries{
		all:   map[string]Entry{},
		dirty: map[string]struct{}{},
	}
}

func (e *entries) Get(key string) (Entry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry, ok := e.all[key]

	return entry, ok
}

func (e *entries) Put(key string, entry Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.all[key] = entry
	e.dirty[key] = struct{}{}
}

func (e *entries) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.all)
}

// pending returns the dirty entries.
func (e *entries) pending() map[string]Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]Entry, len(e.dirty))
	for key := range e.dirty {
		out[key] = e.all[key]
	}

	return out
}

func (e *entries) snapshot() map[string]Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return maps.Clone(e.all)
}

// markClean clears the dirty flag of keys that have not changed since
// pending returned them.
func (e *entries) markClean(flushed map[string]Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key, entry := range flushed {
		if cur, ok := e.all[key]; ok && cur.UpdatedAt.Equal(entry.UpdatedAt) {
			delete(e.dirty, key)
		}
	}
}

// MemoryStore keeps results for the lifetime of the process only.
type MemoryStore struct {
	entries
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: newEntries()}
}

// Flush is a no-op.
func (m *MemoryStore) Flush(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
