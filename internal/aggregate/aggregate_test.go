package aggregate

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-pricer/internal/pricing"
)

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func rec(p50 float64, sample, ageDays int) pricing.MarketDataRecord {
	return pricing.MarketDataRecord{
		RoleID:     "swe",
		Currency:   "RUB",
		P25:        p50 * 0.9,
		P50:        p50,
		P75:        p50 * 1.1,
		SampleSize: sample,
		ObservedAt: now.AddDate(0, 0, -ageDays),
	}
}

func survey(r pricing.MarketDataRecord, quality float64) Evidence {
	return Evidence{SourceID: "survey", Kind: pricing.SourceKindSurvey, MatchQuality: quality, Records: []pricing.MarketDataRecord{r}}
}

func postings(r pricing.MarketDataRecord, quality float64) Evidence {
	return Evidence{SourceID: "postings", Kind: pricing.SourceKindPostings, MatchQuality: quality, Records: []pricing.MarketDataRecord{r}}
}

func newAggregator(t *testing.T, cfg Config) *Aggregator {
	t.Helper()
	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	return a
}

func checkInvariants(t *testing.T, e *Estimate) {
	t.Helper()
	if e.Confidence < 0 || e.Confidence > 100 {
		t.Fatalf("confidence out of range: %v", e.Confidence)
	}
	if (e.Confidence == 0) != e.Empty() {
		t.Fatalf("confidence must be zero exactly when there are no contributions: %v / %d", e.Confidence, len(e.Contributions))
	}
	total := 0.0
	for _, c := range e.Contributions {
		if c.Weight < 0 || c.Weight > 1 {
			t.Fatalf("weight out of range: %+v", c)
		}
		total += c.Weight
	}
	if total > 1+1e-9 {
		t.Fatalf("total weight exceeds 1: %v", total)
	}
	if !e.Empty() {
		if err := e.Percentiles.Validate(); err != nil {
			t.Fatalf("percentiles invalid: %v", err)
		}
	}
}

func TestAggregateTwoSources(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, Config{})
	e, err := a.Aggregate([]Evidence{survey(rec(8000, 150, 30), 0.95), postings(rec(7600, 40, 10), 0.95)}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, e)

	if e.Percentiles.P50 <= 7600 || e.Percentiles.P50 >= 8000 {
		t.Fatalf("blended median must lie between the sources, got %v", e.Percentiles.P50)
	}
	if e.Confidence < 60 {
		t.Fatalf("two solid sources must be high confidence, got %v", e.Confidence)
	}
	if Band(e.Confidence) != BandHigh {
		t.Fatalf("unexpected band %s", Band(e.Confidence))
	}
	if e.Contributions[0].SourceID != "survey" {
		t.Fatalf("survey must outweigh postings: %+v", e.Contributions)
	}
	if e.Contributions[0].P50 != 8000 || e.Currency != "RUB" {
		t.Fatalf("contributions must keep source medians: %+v", e.Contributions[0])
	}
}

func TestAggregateSingleSourceIsModerate(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, Config{})
	e, err := a.Aggregate([]Evidence{survey(rec(8000, 150, 30), 1)}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, e)
	if Band(e.Confidence) != BandModerate {
		t.Fatalf("one strong source must be moderate, got %v", e.Confidence)
	}
}

func TestAggregateNoEvidence(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, Config{})
	for _, evidence := range [][]Evidence{nil, {}, {{SourceID: "empty", Kind: pricing.SourceKindSurvey}}} {
		e, err := a.Aggregate(evidence, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		checkInvariants(t, e)
		if !e.Empty() || e.Confidence != 0 || e.Contributions == nil {
			t.Fatalf("expected empty estimate, got %+v", e)
		}
	}
}

func TestAddingSourceNeverLowersConfidence(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, Config{})
	base := []Evidence{survey(rec(8000, 150, 30), 0.9)}
	extras := []Evidence{
		postings(rec(7600, 40, 10), 0.9),
		postings(rec(12000, 3, 900), 0.1),
		{SourceID: "other", Kind: "forum", MatchQuality: 0.5, Records: []pricing.MarketDataRecord{rec(5000, 1000, 2000)}},
	}

	prev, err := a.Aggregate(base, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	evidence := base
	for _, extra := range extras {
		evidence = append(evidence, extra)
		next, err := a.Aggregate(evidence, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		checkInvariants(t, next)
		if next.Confidence < prev.Confidence {
			t.Fatalf("confidence dropped from %v to %v after adding %s", prev.Confidence, next.Confidence, extra.SourceID)
		}
		prev = next
	}
}

func TestAddingSourceNeverLowersConfidenceWithScaledWeights(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, Config{BaseWeights: map[string]float64{"survey": 1, "postings": 1}})

	alone, err := a.Aggregate([]Evidence{survey(rec(8000, 5000, 0), 1)}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	both, err := a.Aggregate([]Evidence{survey(rec(8000, 5000, 0), 1), postings(rec(7600, 5000, 0), 0.5)}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, both)

	if both.Confidence < alone.Confidence {
		t.Fatalf("confidence dropped from %.3f to %.3f after adding a second source", alone.Confidence, both.Confidence)
	}
	total := 0.0
	for _, c := range both.Contributions {
		total += c.Weight
	}
	if total > 1+1e-9 {
		t.Fatalf("reported weights must be scaled to at most 1, got %v", total)
	}
}

func TestLowSampleContributesAlmostNothing(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, Config{})
	e, err := a.Aggregate([]Evidence{survey(rec(8000, 9, 0), 1)}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, e)

	if len(e.Contributions) != 1 {
		t.Fatalf("low-sample source must still be recorded")
	}
	if w := e.Contributions[0].Weight; w <= 0 || w > defaultLowSampleEpsilon {
		t.Fatalf("low-sample weight must be within (0, epsilon], got %v", w)
	}

	bigger, _ := a.Aggregate([]Evidence{survey(rec(8000, 90, 0), 1)}, now)
	if bigger.Confidence <= e.Confidence {
		t.Fatalf("10x sample must raise confidence: %v vs %v", bigger.Confidence, e.Confidence)
	}
}

func TestRecencyIsFloored(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, Config{})
	if got := a.recency(0); got != 1 {
		t.Fatalf("fresh data must not be discounted, got %v", got)
	}
	if got := a.recency(365); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected half weight after one half-life, got %v", got)
	}
	if got := a.recency(365 * 20); got != defaultRecencyFloor {
		t.Fatalf("expected floor, got %v", got)
	}
}

func TestMaxAgeExcludesSource(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, Config{MaxAgeDays: 365})
	e, err := a.Aggregate([]Evidence{survey(rec(8000, 150, 500), 1), postings(rec(7600, 40, 10), 1)}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, e)
	if len(e.Contributions) != 1 || e.Contributions[0].SourceID != "postings" {
		t.Fatalf("stale source must be excluded: %+v", e.Contributions)
	}
	if len(e.Excluded) != 1 || e.Excluded[0].SourceID != "survey" {
		t.Fatalf("exclusion must be reported: %+v", e.Excluded)
	}
}

func TestTiesBreakBySampleThenOrder(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, Config{BaseWeights: map[string]float64{"postings": 0.4}})

	// Sample factors saturate to the same float at these sizes.
	first := Evidence{SourceID: "first", Kind: pricing.SourceKindPostings, MatchQuality: 1, Records: []pricing.MarketDataRecord{rec(100, 5000, 0)}}
	second := Evidence{SourceID: "second", Kind: pricing.SourceKindSurvey, MatchQuality: 1, Records: []pricing.MarketDataRecord{rec(100, 5000, 0)}}
	bigger := Evidence{SourceID: "bigger", Kind: pricing.SourceKindSurvey, MatchQuality: 1, Records: []pricing.MarketDataRecord{rec(100, 6000, 0)}}

	e, err := a.Aggregate([]Evidence{first, second, bigger}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := []string{e.Contributions[0].SourceID, e.Contributions[1].SourceID, e.Contributions[2].SourceID}
	want := []string{"bigger", "first", "second"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestWeightsAreScaledWhenAboveOne(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, Config{BaseWeights: map[string]float64{"survey": 1, "postings": 1}})
	e, err := a.Aggregate([]Evidence{survey(rec(8000, 5000, 0), 1), postings(rec(7600, 5000, 0), 1)}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, e)
}

func TestMedianOnlySourceContributesToMedianOnly(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, Config{})
	medianOnly := pricing.MarketDataRecord{RoleID: "swe", P50: 20000, SampleSize: 200, ObservedAt: now}
	e, err := a.Aggregate([]Evidence{survey(rec(8000, 150, 0), 1), postings(medianOnly, 1)}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, e)

	if e.Percentiles.P25 != 7200 {
		t.Fatalf("p25 must come from the survey only, got %v", e.Percentiles.P25)
	}
	if e.Percentiles.P50 <= 8000 {
		t.Fatalf("p50 must include the median-only source, got %v", e.Percentiles.P50)
	}
}

func TestMissingRanksAreExtrapolated(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, Config{})
	medianOnly := pricing.MarketDataRecord{RoleID: "swe", P50: 10000, SampleSize: 200, ObservedAt: now}
	e, err := a.Aggregate([]Evidence{survey(medianOnly, 1)}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, e)

	want := pricing.Percentiles{P10: 7375, P25: 8500, P50: 10000, P75: 11500, P90: 12625}
	got := e.Percentiles
	for i, v := range got.Values() {
		if math.Abs(v-want.Values()[i]) > 1e-6 {
			t.Fatalf("expected %+v, got %+v", want, got)
		}
	}
}

func TestPoolingMergesRecordsOfOneSource(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, Config{})
	ev := Evidence{SourceID: "survey", Kind: pricing.SourceKindSurvey, MatchQuality: 1, Records: []pricing.MarketDataRecord{
		rec(8000, 100, 10),
		rec(10000, 300, 50),
	}}

	e, err := a.Aggregate([]Evidence{ev}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := e.Contributions[0]
	if c.SampleSize != 400 || c.P50 != 9500 || c.AgeDays != 40 {
		t.Fatalf("unexpected pooled contribution: %+v", c)
	}
}

func TestNonMonotonicBlendIsRepaired(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, Config{})
	high := pricing.MarketDataRecord{RoleID: "swe", P25: 19000, P50: 20000, SampleSize: 500, ObservedAt: now}
	low := pricing.MarketDataRecord{RoleID: "swe", P50: 5000, P75: 5500, SampleSize: 500, ObservedAt: now}

	e, err := a.Aggregate([]Evidence{survey(high, 1), postings(low, 1)}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, e)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	for name, cfg := range map[string]Config{
		"weight above one": {BaseWeights: map[string]float64{"survey": 1.5}},
		"negative max age": {MaxAgeDays: -1},
		"sample order":     {MinTrustSample: 50, SufficientSample: 20},
		"large epsilon":    {LowSampleEpsilon: 0.5},
	} {
		if _, err := New(cfg, nil); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
