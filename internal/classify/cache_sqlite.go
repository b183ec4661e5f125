package classify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"jobpipe/pkg/fingerprint"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS classification_cache (
	fingerprint TEXT PRIMARY KEY,
	labels      TEXT NOT NULL,
	updated_at  TEXT NOT NULL
)`

const sqliteUpsert = `INSERT INTO classification_cache (fingerprint, labels, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(fingerprint) DO UPDATE SET labels = excluded.labels, updated_at = excluded.updated_at`

// SQLiteStore persists the cache in a SQLite database. Flush upserts the
// entries added since the previous flush in one transaction.
type SQLiteStore struct {
	entries
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path and loads every row.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite: single writer

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: init schema: %w", err)
	}

	store := &SQLiteStore{entries: newEntries(), db: db}
	if err := store.load(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT fingerprint, labels, updated_at FROM classification_cache`)
	if err != nil {
		return fmt.Errorf("cache: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, labels, updated string
		if err := rows.Scan(&key, &labels, &updated); err != nil {
			return fmt.Errorf("cache: scan: %w", err)
		}

		if fingerprint.Validate(key) != nil {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(labels), &entry.Labels); err != nil {
			return fmt.Errorf("%w: row %s: %w", ErrCacheCorrupt, key, err)
		}

		entry.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		s.all[key] = entry
	}

	return rows.Err()
}

// Flush upserts pending entries.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	pending := s.pending()
	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return fmt.Errorf("cache: prepare: %w", err)
	}
	defer stmt.Close()

	for key, entry := range pending {
		labels, err := json.Marshal(entry.Labels)
		if err != nil {
			return fmt.Errorf("cache: encode %s: %w", key, err)
		}

		if _, err := stmt.ExecContext(ctx, key, string(labels), entry.UpdatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("cache: upsert %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: commit: %w", err)
	}

	s.markClean(pending)

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
