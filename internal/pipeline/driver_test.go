package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"jobpipe/internal/classify"
	"jobpipe/internal/config"
	"jobpipe/internal/logger"
	"jobpipe/internal/models"
	"jobpipe/internal/reference"
	"jobpipe/internal/report"
	"jobpipe/internal/table"
	"jobpipe/internal/translate"
)

var inputHeader = []string{"job_id", "job_title", "company_name", "country", "country_code", "region", "full_description", "date"}

var fixtures = map[string][]string{
	"A": {"A", "Backend Developer", "Acme", "Bulgaria", "BG", "Sofia (stolitsa)", "Build Go services and SQL schemas.", "2025-03-01"},
	"B": {"B", "Welder", "Steelworks", "Poland", "PL", "nan", "MIG and TIG welding of structural steel.", "2025-03-02"},
	"C": {"C", "Nurse", "City Clinic", "Spain", "ES", "Madrid", "Patient care on a surgical ward.", "2025-03-03"},
	"D": {"D", "Data Analyst", "Numbers Ltd", "Croatia", "HR", "", "Dashboards and reporting in SQL.", "2025-03-04"},
	"E": {"E", "Electrician", "Sparks", "Portugal", "PT", "", "Industrial wiring and maintenance.", "2025-03-05"},
}

func writeInput(t *testing.T, path string, rows ...[]string) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(inputHeader); err != nil {
		t.Fatal(err)
	}

	if err := w.WriteAll(rows); err != nil {
		t.Fatal(err)
	}
}

func inputOf(ids ...string) [][]string {
	rows := make([][]string, len(ids))
	for i, id := range ids {
		rows[i] = fixtures[id]
	}

	return rows
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Pipeline.Input = filepath.Join(dir, "jobs.csv")
	cfg.Pipeline.Output = filepath.Join(dir, "out", "jobs_enriched.csv")
	cfg.Pipeline.Checkpoint = filepath.Join(dir, "out", "jobs.ids")
	cfg.Pipeline.FlushEvery = 2
	cfg.Cache.Path = filepath.Join(dir, "out", "cache.json")
	cfg.Classification.RequestsPerSecond = 0
	cfg.Retry.InitialDelayMs = 0
	cfg.Retry.BackoffMultiplier = 1
	cfg.Logging.ShowProgress = false

	return cfg
}

func testRef(t *testing.T) *reference.Table {
	t.Helper()

	ref, err := reference.Default()
	if err != nil {
		t.Fatal(err)
	}

	return ref
}

type countingClassifier struct {
	mu     sync.Mutex
	calls  int
	onCall func(call int) error
}

func (c *countingClassifier) Classify(ctx context.Context, _ classify.Request) (string, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()

	if c.onCall != nil {
		if err := c.onCall(call); err != nil {
			return "", err
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	return `{"field": "Software Engineering"}`, nil
}

func (c *countingClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls
}

func readOutput(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}

	return rows
}

func run(t *testing.T, ctx context.Context, cfg *config.Config, opts ...Option) (*report.Record, error) {
	t.Helper()

	return New(cfg, testRef(t), logger.Discard(), opts...).Run(ctx)
}

func TestDriver_Run(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg.Pipeline.Input, inputOf("A", "B", "C")...)

	stub := &countingClassifier{}

	rec, err := run(t, context.Background(), cfg, WithClassifier(stub))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if rec.Status != report.StatusCompleted || rec.Counts.Written != 3 || rec.Counts.Classified != 3 {
		t.Errorf("record = %+v", rec)
	}

	rows := readOutput(t, cfg.Pipeline.Output)
	header := rows[0]

	want := append(append([]string{}, inputHeader...), "region_code", "latitude", "longitude", "field", "status")
	if len(header) != len(want) {
		t.Fatalf("header = %v, want %v", header, want)
	}

	for i := range want {
		if header[i] != want[i] {
			t.Errorf("header[%d] = %s, want %s", i, header[i], want[i])
		}
	}

	if len(rows) != 4 {
		t.Fatalf("output has %d data rows, want 3", len(rows)-1)
	}

	// B had no region: the capital is filled in and resolved.
	b := rows[2]
	if b[0] != "B" || b[5] != "Warsaw" || b[8] == "" || b[len(b)-1] != "ok" || b[len(b)-2] != "Software Engineering" {
		t.Errorf("row B = %v", b)
	}

	if _, err := os.Stat(cfg.Cache.Path); err != nil {
		t.Errorf("cache not persisted: %v", err)
	}
}

func TestDriver_Run_Resume(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg.Pipeline.Input, inputOf("A", "B")...)

	if _, err := run(t, context.Background(), cfg, WithClassifier(&countingClassifier{})); err != nil {
		t.Fatal(err)
	}

	writeInput(t, cfg.Pipeline.Input, inputOf("A", "B", "C")...)

	stub := &countingClassifier{}

	rec, err := run(t, context.Background(), cfg, WithClassifier(stub))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if stub.Calls() != 1 {
		t.Errorf("classifier calls = %d, want 1", stub.Calls())
	}

	if rec.Counts.AlreadyProcessed != 2 || rec.Counts.Written != 1 {
		t.Errorf("counts = %+v", rec.Counts)
	}

	ids, _, err := table.Recover(cfg.Pipeline.Output)
	if err != nil {
		t.Fatal(err)
	}

	if len(ids) != 3 || ids[2] != "C" {
		t.Errorf("output ids = %v", ids)
	}
}

func TestDriver_Run_SharedCache(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg.Pipeline.Input, inputOf("A", "B", "C")...)

	store := classify.NewMemoryStore()
	recorder := report.NewRecorder(filepath.Join(t.TempDir(), "runs"))
	stub := &countingClassifier{}

	if _, err := run(t, context.Background(), cfg, WithClassifier(stub), WithCache(store), WithRecorder(recorder)); err != nil {
		t.Fatal(err)
	}

	if store.Len() != 3 {
		t.Fatalf("cache entries = %d, want 3", store.Len())
	}

	for _, p := range []string{cfg.Pipeline.Output, cfg.Pipeline.Checkpoint} {
		if err := os.Remove(p); err != nil {
			t.Fatal(err)
		}
	}

	rec, err := run(t, context.Background(), cfg, WithClassifier(stub), WithCache(store), WithRecorder(recorder))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if stub.Calls() != 3 || rec.Counts.Cached != 3 {
		t.Errorf("calls = %d, counts = %+v", stub.Calls(), rec.Counts)
	}

	if _, err := os.Stat(recorder.Path(rec)); err != nil {
		t.Errorf("run record not written: %v", err)
	}

	if _, err := os.Stat(cfg.Cache.Path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("configured cache file touched: %v", err)
	}
}

func TestDriver_Run_CheckpointBehindOutput(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg.Pipeline.Input, inputOf("A", "B")...)

	if _, err := run(t, context.Background(), cfg, WithClassifier(&countingClassifier{})); err != nil {
		t.Fatal(err)
	}

	// Crash after the table flush but before the checkpoint append.
	if err := os.WriteFile(cfg.Pipeline.Checkpoint, []byte("A\n"), 0644); err != nil {
		t.Fatal(err)
	}

	stub := &countingClassifier{}

	rec, err := run(t, context.Background(), cfg, WithClassifier(stub))
	if err != nil {
		t.Fatal(err)
	}

	if stub.Calls() != 0 || rec.Counts.Written != 0 {
		t.Errorf("calls = %d, written = %d; want 0, 0", stub.Calls(), rec.Counts.Written)
	}

	if rows := readOutput(t, cfg.Pipeline.Output); len(rows) != 3 {
		t.Errorf("output has %d data rows, want 2", len(rows)-1)
	}
}

func TestDriver_Run_Interrupted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.FlushEvery = 50
	writeInput(t, cfg.Pipeline.Input, inputOf("A", "B", "C", "D", "E")...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stub := &countingClassifier{onCall: func(call int) error {
		if call == 3 {
			cancel()
			return context.Canceled
		}

		return nil
	}}

	rec, err := run(t, ctx, cfg, WithClassifier(stub))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}

	if rec.Status != report.StatusInterrupted || rec.Counts.Written != 2 {
		t.Errorf("record = %+v", rec)
	}

	ids, _, err := table.Recover(cfg.Pipeline.Output)
	if err != nil {
		t.Fatal(err)
	}

	if len(ids) != 2 || ids[0] != "A" || ids[1] != "B" {
		t.Fatalf("output ids after interrupt = %v", ids)
	}

	data, _ := os.ReadFile(cfg.Pipeline.Checkpoint)
	if string(data) != "A\nB\n" {
		t.Errorf("checkpoint = %q", data)
	}

	// Resuming finishes the remaining three.
	again := &countingClassifier{}

	if _, err := run(t, context.Background(), cfg, WithClassifier(again)); err != nil {
		t.Fatal(err)
	}

	if again.Calls() != 3 {
		t.Errorf("resume calls = %d, want 3", again.Calls())
	}

	if rows := readOutput(t, cfg.Pipeline.Output); len(rows) != 6 {
		t.Errorf("output has %d data rows, want 5", len(rows)-1)
	}
}

func TestDriver_Run_WithoutClassification(t *testing.T) {
	cfg := testConfig(t)
	cfg.Classification.Taxonomies = []string{"field", "green_competences"}
	writeInput(t, cfg.Pipeline.Input, inputOf("A", "C")...)

	rec, err := run(t, context.Background(), cfg, WithoutClassification())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if rec.Counts.Unclassified != 2 {
		t.Errorf("counts = %+v", rec.Counts)
	}

	rows := readOutput(t, cfg.Pipeline.Output)
	for _, row := range rows[1:] {
		n := len(row)
		if row[n-1] != string(models.StatusUnclassified) || row[n-2] != "" || row[n-3] != "" {
			t.Errorf("row = %v", row)
		}
	}
}

func TestDriver_Run_Translation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Translation.Enabled = true
	cfg.Translation.Cache.Path = filepath.Join(t.TempDir(), "translation_cache.json")
	writeInput(t, cfg.Pipeline.Input, inputOf("A", "B")...)

	var (
		mu    sync.Mutex
		calls int
	)

	translator := translate.TranslatorFunc(func(_ context.Context, text string) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()

		return "EN " + text, nil
	})

	rec, err := run(t, context.Background(), cfg, WithoutClassification(), WithTranslator(translator))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if rec.Counts.Translated != 2 || rec.Counts.TranslationRequests != 2 {
		t.Errorf("counts = %+v", rec.Counts)
	}

	rows := readOutput(t, cfg.Pipeline.Output)
	col := slices.Index(rows[0], table.ColTitleTranslated)

	if col != len(inputHeader) {
		t.Fatalf("header = %v, want %s after the input columns", rows[0], table.ColTitleTranslated)
	}

	if rows[1][col] != "EN Backend Developer" || rows[2][col] != "EN Welder" {
		t.Errorf("translated titles = %q, %q", rows[1][col], rows[2][col])
	}

	// A fresh run over the same titles is answered from the persisted cache.
	cfg2 := testConfig(t)
	cfg2.Translation = cfg.Translation
	writeInput(t, cfg2.Pipeline.Input, inputOf("A", "B")...)

	rec, err = run(t, context.Background(), cfg2, WithoutClassification(), WithTranslator(translator))
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}

	if calls != 2 || rec.Counts.TranslationsCached != 2 {
		t.Errorf("calls = %d, counts = %+v", calls, rec.Counts)
	}
}

func TestDriver_Run_Errors(t *testing.T) {
	t.Run("missing column", func(t *testing.T) {
		cfg := testConfig(t)
		if err := os.WriteFile(cfg.Pipeline.Input, []byte("job_id,job_title\nA,x\n"), 0644); err != nil {
			t.Fatal(err)
		}

		rec, err := run(t, context.Background(), cfg, WithClassifier(&countingClassifier{}))
		if !errors.Is(err, table.ErrMissingColumn) {
			t.Errorf("Run() error = %v, want ErrMissingColumn", err)
		}

		if rec.Status != report.StatusFailed {
			t.Errorf("status = %s", rec.Status)
		}
	})

	t.Run("no classifier", func(t *testing.T) {
		cfg := testConfig(t)
		writeInput(t, cfg.Pipeline.Input, inputOf("A")...)

		if _, err := run(t, context.Background(), cfg); !errors.Is(err, ErrNoClassifier) {
			t.Errorf("Run() error = %v, want ErrNoClassifier", err)
		}
	})

	t.Run("no translator", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Translation.Enabled = true
		writeInput(t, cfg.Pipeline.Input, inputOf("A")...)

		if _, err := run(t, context.Background(), cfg, WithoutClassification()); !errors.Is(err, ErrNoTranslator) {
			t.Errorf("Run() error = %v, want ErrNoTranslator", err)
		}
	})

	t.Run("unknown taxonomy", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Classification.Taxonomies = []string{"seniority"}
		writeInput(t, cfg.Pipeline.Input, inputOf("A")...)

		if _, err := run(t, context.Background(), cfg, WithoutClassification()); !errors.Is(err, reference.ErrUnknownTaxonomy) {
			t.Errorf("Run() error = %v, want ErrUnknownTaxonomy", err)
		}
	})
}

func TestDriver_Run_FiltersAndDeduplicates(t *testing.T) {
	cfg := testConfig(t)

	old := append([]string{}, fixtures["C"]...)
	old[0], old[7] = "OLD", "2024-12-31"

	exact := append([]string{}, fixtures["A"]...)
	exact[0] = "A2"

	collision := append([]string{}, fixtures["D"]...)
	collision[0] = "B"

	writeInput(t, cfg.Pipeline.Input, fixtures["A"], fixtures["B"], old, exact, collision)

	rec, err := run(t, context.Background(), cfg, WithoutClassification())
	if err != nil {
		t.Fatal(err)
	}

	c := rec.Counts
	if c.DateFiltered != 1 || c.ExactDuplicates != 1 || c.IDCollisions != 1 || c.Written != 2 {
		t.Errorf("counts = %+v", c)
	}
}
