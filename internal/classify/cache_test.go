package classify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jobpipe/internal/config"
	"jobpipe/pkg/fingerprint"
)

func testEntry() Entry {
	return Entry{
		Labels:    Labels{"field": {"Software Engineering"}},
		UpdatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestJSONStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cache.json")

	store, err := OpenJSONStore(path)
	if err != nil {
		t.Fatalf("OpenJSONStore() error: %v", err)
	}

	if store.Len() != 0 {
		t.Fatalf("new store has %d entries", store.Len())
	}

	key := fingerprint.Of("backend developer")
	store.Put(key, testEntry())

	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	reopened, err := OpenJSONStore(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}

	got, ok := reopened.Get(key)
	if !ok {
		t.Fatal("entry missing after reopen")
	}

	if got.Labels["field"][0] != "Software Engineering" || !got.UpdatedAt.Equal(testEntry().UpdatedAt) {
		t.Errorf("Get() = %+v", got)
	}
}

func TestJSONStore_FlushWithoutChangesKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	store, err := OpenJSONStore(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Flush of clean store created %s", path)
	}
}

func TestJSONStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte(`{"entries": [`), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenJSONStore(path); !errors.Is(err, ErrCacheCorrupt) {
		t.Errorf("OpenJSONStore() error = %v, want ErrCacheCorrupt", err)
	}
}

func TestJSONStore_IgnoresForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	good := fingerprint.Of("text")
	content := `{"entries": {"plain description text": {"labels": {"field": ["Non Technical"]}}, "` +
		good + `": {"labels": {"field": ["Non Technical"]}}}}`

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	store, err := OpenJSONStore(path)
	if err != nil {
		t.Fatal(err)
	}

	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error: %v", err)
	}

	key := fingerprint.Of("backend developer")
	store.Put(key, testEntry())

	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	// Upsert replaces the row.
	updated := testEntry()
	updated.Labels = Labels{"field": {"Non Technical"}}
	updated.UpdatedAt = updated.UpdatedAt.Add(time.Hour)
	store.Put(key, updated)

	if err := store.Flush(ctx); err != nil {
		t.Fatalf("second Flush() error: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()

	if reopened.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", reopened.Len())
	}

	got, _ := reopened.Get(key)
	if got.Labels["field"][0] != "Non Technical" {
		t.Errorf("Get() = %+v", got)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		backend string
		path    string
		wantErr error
	}{
		{config.CacheBackendJSON, filepath.Join(dir, "c.json"), nil},
		{config.CacheBackendSQLite, filepath.Join(dir, "c.db"), nil},
		{"redis", "", config.ErrInvalidCacheBackend},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			store, err := OpenStore(ctx, config.CacheConfig{Backend: tt.backend, Path: tt.path})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("OpenStore() error = %v, want %v", err, tt.wantErr)
			}

			if store != nil {
				store.Close()
			}
		})
	}
}
