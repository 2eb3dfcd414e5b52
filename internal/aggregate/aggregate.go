// Package aggregate fuses market data from several sources into one
// percentile distribution with a confidence score.
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-pricer/internal/pricing"
)

const (
	defaultSurveyWeight     = 0.40
	defaultPostingsWeight   = 0.25
	defaultBaseWeight       = 0.15
	defaultHalfLifeDays     = 365
	defaultRecencyFloor     = 0.2
	defaultMinTrustSample   = 10
	defaultSufficientSample = 100
	defaultLowSampleEpsilon = 1e-3
	defaultConfidenceScale  = 0.45

	// Relative distance used when a central rank is missing everywhere.
	quartileSpread = 0.15
	// Tails are extrapolated from the inner spread.
	tailRatio = 0.75
)

// Confidence bands.
const (
	BandLow      = "low"
	BandModerate = "moderate"
	BandHigh     = "high"
)

type Config struct {
	// BaseWeights is keyed by source kind.
	BaseWeights         map[string]float64 `mapstructure:"base-weights"`
	DefaultBaseWeight   float64            `mapstructure:"default-base-weight"`
	RecencyHalfLifeDays float64            `mapstructure:"recency-half-life-days"`
	RecencyFloor        float64            `mapstructure:"recency-floor"`
	// MaxAgeDays excludes sources whose data is older. Zero disables it.
	MaxAgeDays       float64 `mapstructure:"max-age-days"`
	MinTrustSample   int     `mapstructure:"min-trust-sample"`
	SufficientSample int     `mapstructure:"sufficient-sample"`
	LowSampleEpsilon float64 `mapstructure:"low-sample-epsilon"`
	ConfidenceScale  float64 `mapstructure:"confidence-scale"`
}

func (c Config) withDefaults() Config {
	weights := map[string]float64{
		string(pricing.SourceKindSurvey):   defaultSurveyWeight,
		string(pricing.SourceKindPostings): defaultPostingsWeight,
	}
	for k, v := range c.BaseWeights {
		weights[strings.ToLower(k)] = v
	}
	c.BaseWeights = weights

	if c.DefaultBaseWeight <= 0 {
		c.DefaultBaseWeight = defaultBaseWeight
	}
	if c.RecencyHalfLifeDays <= 0 {
		c.RecencyHalfLifeDays = defaultHalfLifeDays
	}
	if c.RecencyFloor <= 0 {
		c.RecencyFloor = defaultRecencyFloor
	}
	if c.MinTrustSample <= 0 {
		c.MinTrustSample = defaultMinTrustSample
	}
	if c.SufficientSample <= 0 {
		c.SufficientSample = defaultSufficientSample
	}
	if c.LowSampleEpsilon <= 0 {
		c.LowSampleEpsilon = defaultLowSampleEpsilon
	}
	if c.ConfidenceScale <= 0 {
		c.ConfidenceScale = defaultConfidenceScale
	}
	return c
}

func (c Config) Validate() error {
	c = c.withDefaults()
	for kind, w := range c.BaseWeights {
		if w < 0 || w > 1 {
			return fmt.Errorf("base weight for %s must be within [0,1]", kind)
		}
	}
	if c.DefaultBaseWeight > 1 {
		return fmt.Errorf("default base weight must be within [0,1]")
	}
	if c.RecencyFloor > 1 {
		return fmt.Errorf("recency floor must be within [0,1]")
	}
	if c.MaxAgeDays < 0 {
		return fmt.Errorf("max age must not be negative")
	}
	if c.SufficientSample < c.MinTrustSample {
		return fmt.Errorf("sufficient sample must not be below the minimum trusted sample")
	}
	if c.LowSampleEpsilon >= 0.1 {
		return fmt.Errorf("low sample epsilon must be small")
	}
	return nil
}

// Evidence is what one source returned for the request.
type Evidence struct {
	SourceID string
	Kind     pricing.SourceKind
	// MatchQuality is the confidence of the role match that produced the records.
	MatchQuality float64
	Records      []pricing.MarketDataRecord
}

// Exclusion records a source that returned data but does not contribute.
type Exclusion struct {
	SourceID string
	Reason   string
}

// Estimate is the aggregator's output. Percentiles are zero when there are
// no contributions; the caller then applies a fallback.
type Estimate struct {
	Percentiles   pricing.Percentiles
	Confidence    float64
	Contributions []pricing.SourceContribution
	Excluded      []Exclusion
	Currency      string
}

// Empty reports whether no source contributed.
func (e *Estimate) Empty() bool { return len(e.Contributions) == 0 }

// Aggregator is stateless and safe for concurrent use.
type Aggregator struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{cfg: cfg.withDefaults(), logger: logger}, nil
}

type pooled struct {
	contribution pricing.SourceContribution
	// weight is the unscaled weight; confidence is computed from it.
	weight       float64
	record       pricing.MarketDataRecord
	order        int
}

// Aggregate combines evidence given in source declaration order.
func (a *Aggregator) Aggregate(evidence []Evidence, now time.Time) (*Estimate, error) {
	estimate := &Estimate{Contributions: []pricing.SourceContribution{}}

	var sources []pooled
	for order, ev := range evidence {
		if len(ev.Records) == 0 {
			continue
		}

		record := pool(ev.Records, now)
		age := record.AgeDays(now)
		if a.cfg.MaxAgeDays > 0 && age > a.cfg.MaxAgeDays {
			estimate.Excluded = append(estimate.Excluded, Exclusion{
				SourceID: ev.SourceID,
				Reason:   fmt.Sprintf("data is %.0f days old, limit is %.0f", age, a.cfg.MaxAgeDays),
			})
			continue
		}

		quality := clamp01(ev.MatchQuality)
		weight := a.baseWeight(ev.Kind) * a.recency(age) * a.sampleFactor(record.SampleSize) * quality
		if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
			return nil, &pricing.InvariantViolationError{
				Invariant: "non-negative weight",
				Detail:    fmt.Sprintf("source %s has weight %v", ev.SourceID, weight),
			}
		}
		if weight == 0 {
			estimate.Excluded = append(estimate.Excluded, Exclusion{SourceID: ev.SourceID, Reason: "zero weight"})
			continue
		}

		sources = append(sources, pooled{
			order:  order,
			record: record,
			weight: weight,
			contribution: pricing.SourceContribution{
				SourceID:     ev.SourceID,
				Kind:         ev.Kind,
				RoleID:       record.RoleID,
				Weight:       weight,
				SampleSize:   record.SampleSize,
				AgeDays:      round(age, 1),
				MatchQuality: quality,
				P50:          record.P50,
			},
		})
	}

	if len(sources) == 0 {
		return estimate, nil
	}

	// Confidence uses unscaled weights so that a new source never takes
	// weight away from the others.
	estimate.Confidence = a.confidence(sources)

	total := 0.0
	for _, s := range sources {
		total += s.contribution.Weight
	}
	if total > 1 {
		for i := range sources {
			sources[i].contribution.Weight /= total
		}
	}

	sort.SliceStable(sources, func(i, j int) bool {
		ci, cj := sources[i].contribution, sources[j].contribution
		if ci.Weight != cj.Weight {
			return ci.Weight > cj.Weight
		}
		if ci.SampleSize != cj.SampleSize {
			return ci.SampleSize > cj.SampleSize
		}
		return sources[i].order < sources[j].order
	})

	percentiles, err := blend(sources)
	if err != nil {
		return nil, err
	}

	estimate.Percentiles = percentiles
	for _, s := range sources {
		estimate.Contributions = append(estimate.Contributions, s.contribution)
		if estimate.Currency == "" {
			estimate.Currency = s.record.Currency
		}
	}

	if estimate.Confidence <= 0 || estimate.Confidence > 100 || math.IsNaN(estimate.Confidence) {
		return nil, &pricing.InvariantViolationError{
			Invariant: "confidence range",
			Detail:    fmt.Sprintf("confidence %v with %d contributions", estimate.Confidence, len(estimate.Contributions)),
		}
	}

	a.logger.Debug("evidence aggregated",
		zap.Int("contributions", len(estimate.Contributions)),
		zap.Float64("coverage", total),
		zap.Float64("confidence", estimate.Confidence),
	)
	return estimate, nil
}

func (a *Aggregator) baseWeight(kind pricing.SourceKind) float64 {
	if w, ok := a.cfg.BaseWeights[strings.ToLower(string(kind))]; ok {
		return w
	}
	return a.cfg.DefaultBaseWeight
}

// recency halves the weight every half-life, never below the floor.
func (a *Aggregator) recency(ageDays float64) float64 {
	return math.Max(math.Pow(0.5, ageDays/a.cfg.RecencyHalfLifeDays), a.cfg.RecencyFloor)
}

// sampleFactor saturates towards 1 around the sufficient sample size and is
// bounded by epsilon below the minimum trusted size.
func (a *Aggregator) sampleFactor(n int) float64 {
	if n <= 0 {
		return 0
	}
	if n < a.cfg.MinTrustSample {
		return a.cfg.LowSampleEpsilon * float64(n) / float64(a.cfg.MinTrustSample)
	}
	return 1 - math.Exp(-float64(n)/(float64(a.cfg.SufficientSample)/3))
}

func (a *Aggregator) adequacy(n int) float64 {
	return math.Min(1, float64(n)/float64(a.cfg.SufficientSample))
}

// confidence grows with every contribution, so adding a source never lowers it.
func (a *Aggregator) confidence(sources []pooled) float64 {
	evidence := 0.0
	for _, s := range sources {
		c := s.contribution
		evidence += s.weight * (0.5 + 0.3*c.MatchQuality + 0.2*a.adequacy(c.SampleSize))
	}
	if evidence <= 0 {
		return 0
	}
	return -100 * math.Expm1(-evidence/a.cfg.ConfidenceScale)
}

// Band names the confidence band of a score.
func Band(confidence float64) string {
	switch {
	case confidence >= 60:
		return BandHigh
	case confidence >= 30:
		return BandModerate
	default:
		return BandLow
	}
}

// pool merges several records of one source into one, weighting each rank
// by sample size over the records reporting it.
func pool(records []pricing.MarketDataRecord, now time.Time) pricing.MarketDataRecord {
	if len(records) == 1 {
		return records[0]
	}

	out := pricing.MarketDataRecord{
		SourceID: records[0].SourceID,
		RoleID:   records[0].RoleID,
		Locale:   records[0].Locale,
	}

	samples := 0
	ageSum := 0.0
	for _, r := range records {
		samples += r.SampleSize
		ageSum += float64(r.SampleSize) * r.AgeDays(now)
		if out.Currency == "" {
			out.Currency = r.Currency
		}
	}
	out.SampleSize = samples
	out.ObservedAt = now.Add(-time.Duration(ageSum / float64(samples) * 24 * float64(time.Hour)))

	for _, rank := range pricing.Ranks {
		sum, weight := 0.0, 0.0
		for _, r := range records {
			if v, ok := r.Value(rank); ok {
				sum += v * float64(r.SampleSize)
				weight += float64(r.SampleSize)
			}
		}
		if weight > 0 {
			out.SetValue(rank, sum/weight)
		}
	}
	return out
}

func blend(sources []pooled) (pricing.Percentiles, error) {
	values := make(map[pricing.Rank]float64, len(pricing.Ranks))
	for _, rank := range pricing.Ranks {
		sum, weight := 0.0, 0.0
		for _, s := range sources {
			if v, ok := s.record.Value(rank); ok {
				sum += v * s.contribution.Weight
				weight += s.contribution.Weight
			}
		}
		if weight > 0 {
			values[rank] = sum / weight
		}
	}

	p50, ok := values[pricing.P50]
	if !ok || p50 <= 0 {
		return pricing.Percentiles{}, &pricing.InvariantViolationError{Invariant: "median present", Detail: "no source reported p50"}
	}

	p := pricing.Percentiles{P10: values[pricing.P10], P25: values[pricing.P25], P50: p50, P75: values[pricing.P75], P90: values[pricing.P90]}
	p = complete(p)

	if err := p.Validate(); err != nil {
		return pricing.Percentiles{}, &pricing.InvariantViolationError{Invariant: "monotonic percentiles", Detail: err.Error()}
	}
	return p, nil
}

// complete extrapolates missing ranks and repairs ordering outward from the
// median, which is the best supported rank.
func complete(p pricing.Percentiles) pricing.Percentiles {
	if p.P25 <= 0 {
		p.P25 = p.P50 * (1 - quartileSpread)
	}
	if p.P75 <= 0 {
		p.P75 = p.P50 * (1 + quartileSpread)
	}

	p.P25 = math.Min(p.P25, p.P50)
	p.P75 = math.Max(p.P75, p.P50)

	if p.P10 <= 0 {
		p.P10 = math.Max(p.P25-(p.P50-p.P25)*tailRatio, p.P25/2)
	}
	if p.P90 <= 0 {
		p.P90 = p.P75 + (p.P75-p.P50)*tailRatio
	}

	p.P10 = math.Min(p.P10, p.P25)
	p.P90 = math.Max(p.P90, p.P75)
	return p
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round(v float64, digits int) float64 {
	pow := math.Pow(10, float64(digits))
	return math.Round(v*pow) / pow
}
