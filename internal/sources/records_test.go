package sources

import (
	"testing"
	"time"
)

func TestDecodeRecords(t *testing.T) {
	t.Parallel()

	rows := []map[string]any{
		{"role_id": "swe", "p25": 7000, "p50": "8000", "p75": 9000.5, "sample_size": 150, "observed_at": "2026-01-15", "currency": "rub", "source": "elsewhere"},
		{"role_id": "swe", "p50": 8000, "sample_size": 10, "observed_at": time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"role_id": "swe", "p50": 8000, "sample_size": 0, "observed_at": "2026-01-15"},
		{"role_id": "swe", "p25": 9000, "p50": 8000, "sample_size": 5, "observed_at": "2026-01-15"},
		{"role_id": "swe", "p50": 8000, "sample_size": 5, "observed_at": "last spring"},
		{"p50": 8000, "sample_size": 5, "observed_at": "2026-01-15"},
	}

	records, rejected := DecodeRecords("survey", rows)
	if len(records) != 2 {
		t.Fatalf("expected 2 valid records, got %d", len(records))
	}
	if len(rejected) != 4 {
		t.Fatalf("expected 4 rejected rows, got %d: %v", len(rejected), rejected)
	}

	first := records[0]
	if first.SourceID != "survey" {
		t.Fatalf("source id must be forced, got %q", first.SourceID)
	}
	if first.P50 != 8000 || first.P75 != 9000.5 || first.P10 != 0 {
		t.Fatalf("unexpected percentiles: %+v", first)
	}
	if first.Currency != "RUB" {
		t.Fatalf("currency must be normalized, got %q", first.Currency)
	}
	if !first.ObservedAt.Equal(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date: %v", first.ObservedAt)
	}

	wantIndexes := []int{2, 3, 4, 5}
	for i, r := range rejected {
		if r.Index != wantIndexes[i] {
			t.Fatalf("unexpected rejected row order: %v", rejected)
		}
	}
}
