// Package checkpoint records which job ids already have a durable output row.
// The log is an append-only text file with one id per line.
package checkpoint

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidID is returned for ids that cannot be stored one per line.
var ErrInvalidID = errors.New("invalid checkpoint id")

// Store is the set of processed ids backed by the log file.
type Store struct {
	path string
	f    *os.File
	w    *bufio.Writer
	ids  map[string]struct{}
}

// Open loads the log at path, creating it if needed. A trailing line without
// a newline was torn by a crash; it is dropped and cut from the file.
func Open(path string) (*Store, error) {
	ids, err := load(path)
	if err != nil {
		return nil, err
	}

	s := &Store{path: path, ids: ids}
	if err := s.openAppend(); err != nil {
		return nil, err
	}

	return s, nil
}

func load(path string) (map[string]struct{}, error) {
	ids := map[string]struct{}{}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ids, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}

	complete := data
	if i := bytes.LastIndexByte(data, '\n'); i+1 < len(data) {
		complete = data[:i+1]

		if err := os.Truncate(path, int64(len(complete))); err != nil {
			return nil, fmt.Errorf("truncate checkpoint %s: %w", path, err)
		}
	}

	for _, line := range strings.Split(string(complete), "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids[id] = struct{}{}
		}
	}

	return ids, nil
}

func (s *Store) openAppend() error {
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open checkpoint %s: %w", s.path, err)
	}

	s.f = f
	s.w = bufio.NewWriter(f)

	return nil
}

// Contains reports whether id has been recorded.
func (s *Store) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of recorded ids.
func (s *Store) Len() int {
	return len(s.ids)
}

// Add records ids. They are durable after Flush.
func (s *Store) Add(ids ...string) error {
	for _, id := range ids {
		if err := validID(id); err != nil {
			return err
		}

		if s.Contains(id) {
			continue
		}

		if _, err := s.w.WriteString(id + "\n"); err != nil {
			return fmt.Errorf("append checkpoint: %w", err)
		}

		s.ids[id] = struct{}{}
	}

	return nil
}

func validID(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, "\r\n") || id != strings.TrimSpace(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	return nil
}

// Flush writes buffered ids and syncs the file.
func (s *Store) Flush() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush checkpoint: %w", err)
	}

	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint: %w", err)
	}

	return nil
}

// Reconcile makes the log agree with the ids present in the output table,
// which is authoritative. Missing ids are appended; when the log names ids
// the table lacks, the log is rewritten. It returns both counts.
func (s *Store) Reconcile(outputIDs []string) (added, stale int, err error) {
	present := make(map[string]struct{}, len(outputIDs))
	for _, id := range outputIDs {
		present[id] = struct{}{}
	}

	for id := range s.ids {
		if _, ok := present[id]; !ok {
			stale++
		}
	}

	if stale > 0 {
		return len(present) - (len(s.ids) - stale), stale, s.rewrite(outputIDs)
	}

	before := len(s.ids)

	for _, id := range outputIDs {
		if validID(id) != nil {
			continue
		}

		if err := s.Add(id); err != nil {
			return 0, 0, err
		}
	}

	return len(s.ids) - before, 0, s.Flush()
}

// rewrite replaces the log with ids through a synced temp file.
func (s *Store) rewrite(ids []string) error {
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}

	var buf bytes.Buffer

	s.ids = make(map[string]struct{}, len(ids))

	for _, id := range ids {
		if validID(id) != nil || s.Contains(id) {
			continue
		}

		s.ids[id] = struct{}{}
		buf.WriteString(id + "\n")
	}

	tmp := s.path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("rewrite checkpoint: %w", err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("rewrite checkpoint: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("rewrite checkpoint: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("rewrite checkpoint: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rewrite checkpoint: %w", err)
	}

	return s.openAppend()
}

// Close flushes and closes the log.
func (s *Store) Close() error {
	err := s.Flush()

	return errors.Join(err, s.f.Close())
}
