package pricing

import (
	"errors"
	"testing"
	"time"
)

func TestRequestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{name: "valid", req: Request{Title: "Software Engineer"}},
		{name: "blank title", req: Request{Title: "   "}, wantErr: true},
		{name: "negative experience", req: Request{Title: "QA", Experience: &ExperienceRange{MinYears: -1}}, wantErr: true},
		{name: "inverted experience", req: Request{Title: "QA", Experience: &ExperienceRange{MinYears: 5, MaxYears: 3}}, wantErr: true},
		{name: "open ended experience", req: Request{Title: "QA", Experience: &ExperienceRange{MinYears: 5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.req.Validate()
			if tt.wantErr && !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRequestText(t *testing.T) {
	t.Parallel()

	if got := (Request{Title: " Go Developer "}).Text(); got != "Go Developer" {
		t.Fatalf("unexpected text %q", got)
	}
	if got := (Request{Title: "Go Developer", Description: "gRPC"}).Text(); got != "Go Developer\ngRPC" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestMarketDataRecordValidate(t *testing.T) {
	t.Parallel()

	observed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := MarketDataRecord{RoleID: "swe", P25: 7000, P50: 8000, P75: 9000, SampleSize: 10, ObservedAt: observed}

	if err := base.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	onlyMedian := MarketDataRecord{RoleID: "swe", P50: 8000, SampleSize: 3, ObservedAt: observed}
	if err := onlyMedian.Validate(); err != nil {
		t.Fatalf("median only record must be valid: %v", err)
	}

	broken := base
	broken.P75 = 7500
	broken.P90 = 7400
	if err := broken.Validate(); !IsValidation(err) {
		t.Fatalf("expected validation error for non-monotonic record, got %v", err)
	}

	noSample := base
	noSample.SampleSize = 0
	if err := noSample.Validate(); !IsValidation(err) {
		t.Fatalf("expected validation error for empty sample, got %v", err)
	}

	noDate := base
	noDate.ObservedAt = time.Time{}
	if err := noDate.Validate(); !IsValidation(err) {
		t.Fatalf("expected validation error for missing date, got %v", err)
	}
}

func TestMarketDataRecordAgeDays(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	r := MarketDataRecord{ObservedAt: now.AddDate(0, 0, -30)}
	if got := r.AgeDays(now); got != 30 {
		t.Fatalf("expected 30 days, got %v", got)
	}

	future := MarketDataRecord{ObservedAt: now.AddDate(0, 0, 3)}
	if got := future.AgeDays(now); got != 0 {
		t.Fatalf("expected future observation to have zero age, got %v", got)
	}
}

func TestPercentilesValidate(t *testing.T) {
	t.Parallel()

	ok := Percentiles{P10: 1, P25: 2, P50: 3, P75: 3, P90: 4}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := Percentiles{P10: 1, P25: 5, P50: 3, P75: 6, P90: 7}
	if err := bad.Validate(); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAcceptedMatches(t *testing.T) {
	t.Parallel()

	matches := []RoleMatch{
		{RoleID: "a", Confidence: 0.9, Verdict: VerdictRejected},
		{RoleID: "b", Confidence: 0.7, Verdict: VerdictAccepted},
		{RoleID: "c", Confidence: 0.6, Verdict: VerdictSkipped},
	}

	accepted := AcceptedMatches(matches)
	if len(accepted) != 2 || accepted[0].RoleID != "b" || accepted[1].RoleID != "c" {
		t.Fatalf("unexpected accepted matches: %+v", accepted)
	}
}

func TestAdapterUnavailableUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := error(&AdapterUnavailableError{SourceID: "survey", Err: cause})
	if !errors.Is(err, cause) {
		t.Fatalf("expected error to unwrap to cause")
	}
}
