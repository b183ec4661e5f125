package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"jobpipe/pkg/fingerprint"
)

// jsonDocument is the on-disk layout of the JSON cache.
type jsonDocument struct {
	Entries map[string]Entry `json:"entries"`
}

// JSONStore persists the cache as a single JSON document, rewritten
// atomically on every flush.
type JSONStore struct {
	entries
	path string
}

// OpenJSONStore loads the cache at path. A missing file is an empty cache.
// Entries whose key is not a fingerprint are ignored.
func OpenJSONStore(path string) (*JSONStore, error) {
	store := &JSONStore{entries: newEntries(), path: path}

	if strings.TrimSpace(path) == "" {
		return store, nil
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store, nil
		}

		return nil, fmt.Errorf("read cache %s: %w", path, err)
	}

	if len(strings.TrimSpace(string(payload))) == 0 {
		return store, nil
	}

	var doc jsonDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCacheCorrupt, path, err)
	}

	for key, entry := range doc.Entries {
		if fingerprint.Validate(key) != nil {
			continue
		}

		store.all[key] = entry
	}

	return store, nil
}

// Flush writes the whole cache when anything changed since the last flush.
func (s *JSONStore) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pending := s.pending()
	if len(pending) == 0 || strings.TrimSpace(s.path) == "" {
		return nil
	}

	payload, err := json.Marshal(jsonDocument{Entries: s.snapshot()})
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	if err := writeFileAtomic(s.path, append(payload, '\n')); err != nil {
		return fmt.Errorf("write cache %s: %w", s.path, err)
	}

	s.markClean(pending)

	return nil
}

// Close is a no-op; callers flush explicitly.
func (s *JSONStore) Close() error { return nil }

// writeFileAtomic replaces path with data through a synced temp file so a
// crash leaves either the old or the new document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
