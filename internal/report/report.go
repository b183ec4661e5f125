// Package report summarizes pipeline runs for the terminal and records each
// run as a JSON document.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNilRecord is returned when Finish is called without a record.
var ErrNilRecord = errors.New("report: record is nil")

// Status is the outcome of a run.
type Status string

// Run statuses.
const (
	StatusStarted     Status = "started"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// Counts are the per-stage totals of a run.
type Counts struct {
	InputRows        int `json:"input_rows"`
	MalformedRows    int `json:"malformed_rows"`
	Invalid          int `json:"invalid"`
	IDsAssigned      int `json:"ids_assigned"`
	DatesParsed      int `json:"dates_parsed"`
	DatesFailed      int `json:"dates_failed"`
	RegionsFilled    int `json:"regions_filled"`
	RegionsResolved  int `json:"regions_resolved"`
	DateFiltered     int `json:"date_filtered"`
	ExactDuplicates  int `json:"exact_duplicates"`
	FuzzyDuplicates  int `json:"fuzzy_duplicates"`
	IDCollisions     int `json:"id_collisions"`
	AlreadyProcessed int `json:"already_processed"`
	Pending          int `json:"pending"`
	Written          int `json:"written"`
	Classified       int `json:"classified"`
	Cached           int `json:"cached"`
	Failed           int `json:"failed"`
	Unclassified     int `json:"unclassified"`
	Requests         int `json:"requests"`
	Retries          int `json:"retries"`
	Fallbacks        int `json:"fallbacks"`

	Translated          int `json:"translated"`
	TranslationsCached  int `json:"translations_cached"`
	TranslationsFailed  int `json:"translations_failed"`
	TranslationRequests int `json:"translation_requests"`
}

// Rows lists the counts grouped by stage, in pipeline order.
func (c Counts) Rows() [][]string {
	row := func(stage, metric string, v int) []string {
		return []string{stage, metric, strconv.Itoa(v)}
	}

	return [][]string{
		row("input", "rows", c.InputRows),
		row("input", "malformed rows", c.MalformedRows),
		row("normalize", "invalid records", c.Invalid),
		row("normalize", "ids assigned", c.IDsAssigned),
		row("normalize", "dates parsed", c.DatesParsed),
		row("normalize", "dates unparsed", c.DatesFailed),
		row("normalize", "regions filled", c.RegionsFilled),
		row("geo", "regions resolved", c.RegionsResolved),
		row("filter", "before min date", c.DateFiltered),
		row("dedup", "exact duplicates", c.ExactDuplicates),
		row("dedup", "fuzzy duplicates", c.FuzzyDuplicates),
		row("dedup", "id collisions", c.IDCollisions),
		row("resume", "already processed", c.AlreadyProcessed),
		row("resume", "pending", c.Pending),
		row("translate", "translated", c.Translated),
		row("translate", "cached", c.TranslationsCached),
		row("translate", "failed", c.TranslationsFailed),
		row("translate", "requests", c.TranslationRequests),
		row("classify", "ok", c.Classified),
		row("classify", "cached", c.Cached),
		row("classify", "error", c.Failed),
		row("classify", "unclassified", c.Unclassified),
		row("classify", "requests", c.Requests),
		row("classify", "retries", c.Retries),
		row("classify", "fallback decodes", c.Fallbacks),
		row("output", "rows written", c.Written),
	}
}

// Record describes one run.
type Record struct {
	ID          string            `json:"id"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at,omitempty"`
	Status      Status            `json:"status"`
	Error       string            `json:"error,omitempty"`
	Counts      Counts            `json:"counts"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Duration is the wall time of a finished run.
func (r *Record) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}

	return r.CompletedAt.Sub(r.StartedAt)
}

// Render writes the summary table of rec to w.
func Render(w io.Writer, rec *Record) error {
	lines := AlignTable([]string{"stage", "metric", "value"}, rec.Counts.Rows())

	header := fmt.Sprintf("run %s: %s in %s", rec.ID, rec.Status, rec.Duration().Round(time.Millisecond))
	if rec.Error != "" {
		header += " (" + rec.Error + ")"
	}

	_, err := fmt.Fprintf(w, "%s\n%s\n", header, strings.Join(lines, "\n"))

	return err
}

// Recorder writes run records to a directory. An empty directory disables
// writing; records are still produced.
type Recorder struct {
	dir   string
	now   func() time.Time
	newID func() string
}

// NewRecorder returns a recorder writing to dir.
func NewRecorder(dir string) *Recorder {
	return &Recorder{
		dir:   dir,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Start creates and persists a record in the started state.
func (r *Recorder) Start(tags map[string]string) (*Record, error) {
	rec := &Record{
		ID:        r.newID(),
		StartedAt: r.now().UTC(),
		Status:    StatusStarted,
		Tags:      tags,
	}

	if err := r.write(rec); err != nil {
		return nil, err
	}

	return rec, nil
}

// Finish stamps the record with its outcome and persists it. Cancellation
// counts as an interruption rather than a failure.
func (r *Recorder) Finish(rec *Record, runErr error) error {
	if rec == nil {
		return ErrNilRecord
	}

	rec.CompletedAt = r.now().UTC()

	switch {
	case runErr == nil:
		rec.Status = StatusCompleted
		rec.Error = ""
	case errors.Is(runErr, context.Canceled):
		rec.Status = StatusInterrupted
		rec.Error = runErr.Error()
	default:
		rec.Status = StatusFailed
		rec.Error = runErr.Error()
	}

	return r.write(rec)
}

// Path returns the file a record is written to.
func (r *Recorder) Path(rec *Record) string {
	return filepath.Join(r.dir, fmt.Sprintf("run-%s.json", rec.ID))
}

func (r *Recorder) write(rec *Record) error {
	if r.dir == "" {
		return nil
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("report: mkdir %s: %w", r.dir, err)
	}

	payload, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("report: encode: %w", err)
	}

	if err := os.WriteFile(r.Path(rec), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("report: write: %w", err)
	}

	return nil
}
