package sources

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/spigell/hh-pricer/internal/pricing"
)

type postingStub []Posting

func (s postingStub) Postings(context.Context, string, string) ([]Posting, error) {
	return s, nil
}

func TestQuantile(t *testing.T) {
	t.Parallel()

	values := []float64{1, 2, 3, 4, 5}
	tests := []struct {
		q    float64
		want float64
	}{
		{0, 1}, {0.1, 1.4}, {0.25, 2}, {0.5, 3}, {0.9, 4.6}, {1, 5},
	}
	for _, tt := range tests {
		if got := Quantile(values, tt.q); math.Abs(got-tt.want) > 1e-9 {
			t.Fatalf("q=%v: expected %v, got %v", tt.q, tt.want, got)
		}
	}

	if Quantile(nil, 0.5) != 0 {
		t.Fatal("empty input must yield zero")
	}
	if Quantile([]float64{7}, 0.9) != 7 {
		t.Fatal("single value must be returned for every rank")
	}
}

func TestPostingMidpoint(t *testing.T) {
	t.Parallel()

	cases := []struct {
		posting Posting
		want    float64
		ok      bool
	}{
		{Posting{SalaryFrom: 100, SalaryTo: 200}, 150, true},
		{Posting{SalaryFrom: 100}, 100, true},
		{Posting{SalaryTo: 200}, 200, true},
		{Posting{}, 0, false},
	}
	for _, c := range cases {
		got, ok := c.posting.Midpoint()
		if got != c.want || ok != c.ok {
			t.Fatalf("%+v: expected %v/%v, got %v/%v", c.posting, c.want, c.ok, got, ok)
		}
	}
}

func TestPostingsFetchSummarizes(t *testing.T) {
	t.Parallel()

	day := func(n int) time.Time { return fixedNow.AddDate(0, 0, -n) }
	store := postingStub{
		{ID: "1", Currency: "rub", SalaryFrom: 6000, SalaryTo: 8000, PostedAt: day(30)},
		{ID: "2", Currency: "RUB", SalaryFrom: 8000, PostedAt: day(10)},
		{ID: "3", Currency: "RUB", SalaryTo: 9000, PostedAt: day(20)},
		{ID: "4", Currency: "RUB", SalaryFrom: 10000, SalaryTo: 12000, PostedAt: day(5)},
		{ID: "5", Currency: "RUB", SalaryFrom: 5000, SalaryTo: 7000, PostedAt: day(1)},
		{ID: "no-salary", Currency: "RUB", PostedAt: day(1)},
		{ID: "foreign", Currency: "USD", SalaryFrom: 100, PostedAt: day(1)},
		{ID: "stale", Currency: "RUB", SalaryFrom: 100, PostedAt: day(400)},
	}

	p := NewPostings("hh", store, Options{Currency: "RUB", MaxAge: 365 * 24 * time.Hour, Now: func() time.Time { return fixedNow }})
	if p.Kind() != pricing.SourceKindPostings {
		t.Fatalf("unexpected kind %s", p.Kind())
	}

	records, err := p.Fetch(context.Background(), "swe", "ru")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one summary record, got %d", len(records))
	}

	r := records[0]
	// Midpoints: 6000 7000 8000 9000 11000.
	if r.SampleSize != 5 || r.P50 != 8000 || r.P25 != 7000 || r.P75 != 9000 {
		t.Fatalf("unexpected summary: %+v", r)
	}
	if math.Abs(r.P10-6400) > 1e-9 || math.Abs(r.P90-10200) > 1e-9 {
		t.Fatalf("unexpected tails: p10=%v p90=%v", r.P10, r.P90)
	}
	if !r.ObservedAt.Equal(day(10)) {
		t.Fatalf("expected median posting date, got %v", r.ObservedAt)
	}
	if r.SourceID != "hh" || r.RoleID != "swe" || r.Currency != "RUB" {
		t.Fatalf("unexpected identity: %+v", r)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("summary must be a valid record: %v", err)
	}
}

func TestPostingsFetchWithoutDataIsEmpty(t *testing.T) {
	t.Parallel()

	p := NewPostings("hh", postingStub{{ID: "x"}}, Options{})
	records, err := p.Fetch(context.Background(), "swe", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", records)
	}
}
