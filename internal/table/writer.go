package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"jobpipe/internal/models"
)

// Writer appends rows to the output table. Rows become durable on Flush.
type Writer struct {
	f      *os.File
	w      *csv.Writer
	schema Schema
}

// OpenWriter opens path for appending. A new or empty file gets the schema
// header; an existing file must already carry exactly that header.
func OpenWriter(path string, schema Schema) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat output %s: %w", path, err)
	}

	w := &Writer{f: f, w: csv.NewWriter(f), schema: schema}

	if info.Size() == 0 {
		if err := w.w.Write(schema.Header()); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}

		if err := w.Flush(); err != nil {
			f.Close()
			return nil, err
		}

		return w, nil
	}

	existing, err := csv.NewReader(io.NewSectionReader(f, 0, info.Size())).Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read output header: %w", err)
	}

	if !slices.Equal(existing, schema.Header()) {
		f.Close()
		return nil, fmt.Errorf("%w: %s has %v, want %v", ErrHeaderMismatch, path, existing, schema.Header())
	}

	return w, nil
}

// Write buffers one record.
func (w *Writer) Write(rec *models.JobRecord) error {
	if err := w.w.Write(w.schema.Row(rec)); err != nil {
		return fmt.Errorf("write row %s: %w", rec.ID, err)
	}

	return nil
}

// Flush writes buffered rows and syncs the file to disk.
func (w *Writer) Flush() error {
	w.w.Flush()

	if err := w.w.Error(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("sync output: %w", err)
	}

	return nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	err := w.Flush()

	return errors.Join(err, w.f.Close())
}

// Recover scans an existing output table, truncates a trailing row left
// incomplete by a crash, and returns the ids of the complete rows in order.
// A missing file yields no ids.
func Recover(path string) (ids []string, truncated bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("read output %s: %w", path, err)
	}

	if len(data) == 0 {
		return nil, false, nil
	}

	keep, ids, err := scanComplete(data)
	if err != nil {
		return nil, false, fmt.Errorf("scan output %s: %w", path, err)
	}

	if keep == int64(len(data)) {
		return ids, false, nil
	}

	if err := truncateFile(path, keep); err != nil {
		return nil, false, err
	}

	return ids, true, nil
}

// scanComplete returns the byte length of the complete rows and their ids.
// A row is complete when it parses with the header's field count and is
// terminated by a newline.
func scanComplete(data []byte) (int64, []string, error) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return 0, nil, nil
	}

	good := cr.InputOffset()
	if data[good-1] != '\n' {
		return 0, nil, nil
	}

	idCol := slices.Index(header, ColJobID)
	if idCol < 0 {
		return 0, nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColJobID)
	}

	var ids []string

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil || len(row) != len(header) {
			break
		}

		end := cr.InputOffset()
		if data[end-1] != '\n' {
			break
		}

		good = end
		ids = append(ids, row[idCol])
	}

	return good, ids, nil
}

func truncateFile(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open output %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("truncate output %s: %w", path, err)
	}

	return f.Sync()
}
