package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

func TestAlignTable(t *testing.T) {
	lines := AlignTable(
		[]string{"region", "n"},
		[][]string{{"Sofia", "12"}, {"東京", "100"}},
	)

	want := []string{
		"| region | n   |",
		"| ------ | --- |",
		"| Sofia  | 12  |",
		"| 東京   | 100 |",
	}

	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("AlignTable() =\n%s\nwant\n%s", strings.Join(lines, "\n"), strings.Join(want, "\n"))
	}
}

func TestAlignTable_RaggedRows(t *testing.T) {
	lines := AlignTable([]string{"a"}, [][]string{{"x", "extra"}})

	if len(lines) != 3 || !strings.HasSuffix(lines[2], "| extra |") {
		t.Errorf("AlignTable() = %q", lines)
	}
}

func fixedRecorder(dir string) *Recorder {
	r := NewRecorder(dir)
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	calls := 0
	r.now = func() time.Time {
		calls++
		return start.Add(time.Duration(calls-1) * 1500 * time.Millisecond)
	}
	r.newID = func() string { return "run-1" }

	return r
}

func TestRecorder_Lifecycle(t *testing.T) {
	tests := []struct {
		name   string
		runErr error
		want   Status
	}{
		{"completed", nil, StatusCompleted},
		{"interrupted", fmt.Errorf("classify: %w", context.Canceled), StatusInterrupted},
		{"failed", errors.New("disk full"), StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := fixedRecorder(t.TempDir())

			rec, err := r.Start(map[string]string{"input": "jobs.csv"})
			if err != nil {
				t.Fatalf("Start() error: %v", err)
			}

			rec.Counts.Written = 7

			if err := r.Finish(rec, tt.runErr); err != nil {
				t.Fatalf("Finish() error: %v", err)
			}

			data, err := os.ReadFile(r.Path(rec))
			if err != nil {
				t.Fatal(err)
			}

			var got Record
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatal(err)
			}

			if got.Status != tt.want || got.Counts.Written != 7 || got.Tags["input"] != "jobs.csv" {
				t.Errorf("record = %+v", got)
			}

			if rec.Duration() != 1500*time.Millisecond {
				t.Errorf("Duration() = %v", rec.Duration())
			}
		})
	}
}

func TestRecorder_Disabled(t *testing.T) {
	r := NewRecorder("")

	rec, err := r.Start(nil)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if rec.ID == "" {
		t.Error("expected a run id")
	}

	if err := r.Finish(rec, nil); err != nil {
		t.Errorf("Finish() error: %v", err)
	}

	if err := r.Finish(nil, nil); !errors.Is(err, ErrNilRecord) {
		t.Errorf("Finish(nil) error = %v", err)
	}
}

func TestRender(t *testing.T) {
	rec := &Record{ID: "abc", Status: StatusCompleted, Counts: Counts{InputRows: 10, Written: 8}}

	var buf bytes.Buffer
	if err := Render(&buf, rec); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"run abc: completed", "| input     | rows ", "| output    | rows written      | 8     |"} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q in\n%s", want, out)
		}
	}
}
