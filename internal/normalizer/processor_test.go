package normalizer

import (
	"testing"

	"jobpipe/internal/logger"
	"jobpipe/internal/models"
)

func TestProcessor_Process(t *testing.T) {
	p := NewProcessor(testTable(t), logger.Discard())

	records := []models.JobRecord{
		{ID: "ES1", Title: "Backend Developer", CountryCode: "ES", Region: "Cataluña", RawDate: "2025-03-01"},
		{Title: "Civil Engineer", CountryCode: "ES", Region: "", RawDate: "garbage"},
		{Title: "", Description: "", CountryCode: "ES"},
		{Title: "Orphan"},
	}

	kept, stats := p.Process(records)

	if len(kept) != 2 {
		t.Fatalf("kept %d records, want 2", len(kept))
	}

	if kept[0].ID != "ES1" || kept[1].ID != "ES2" {
		t.Errorf("ids = %s, %s", kept[0].ID, kept[1].ID)
	}

	want := Stats{Input: 4, Invalid: 2, IDsAssigned: 2, DatesParsed: 1, DatesFailed: 1, RegionFilled: 1, Resolved: 2}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	if kept[1].Region != "Madrid" || kept[1].Coordinates == nil {
		t.Errorf("region fallback not applied: %+v", kept[1])
	}
}
