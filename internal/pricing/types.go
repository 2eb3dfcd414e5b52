package pricing

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Status tells the caller how a pricing attempt ended.
type Status string

const (
	StatusComplete Status = "complete"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// Stage names the orchestrator states used in logs, metrics and explanations.
type Stage string

const (
	StageReceived    Stage = "received"
	StageMatching    Stage = "matching"
	StageFetching    Stage = "fetching_sources"
	StageAggregating Stage = "aggregating"
	StageComplete    Stage = "complete"
)

// SourceKind classifies a market-data provider by methodology.
type SourceKind string

const (
	SourceKindSurvey   SourceKind = "survey"
	SourceKindPostings SourceKind = "postings"
)

// Rank is a percentile rank reported by market data.
type Rank int

const (
	P10 Rank = 10
	P25 Rank = 25
	P50 Rank = 50
	P75 Rank = 75
	P90 Rank = 90
)

// Ranks lists all ranks in ascending order.
var Ranks = []Rank{P10, P25, P50, P75, P90}

func (r Rank) String() string { return fmt.Sprintf("p%d", int(r)) }

// ExperienceRange is an optional years-of-experience bound.
type ExperienceRange struct {
	MinYears int `json:"min_years" yaml:"min_years" mapstructure:"min-years"`
	MaxYears int `json:"max_years" yaml:"max_years" mapstructure:"max-years"`
}

// Request is one pricing attempt.
type Request struct {
	Title       string           `json:"title" yaml:"title"`
	Description string           `json:"description" yaml:"description"`
	Experience  *ExperienceRange `json:"experience,omitempty" yaml:"experience,omitempty"`
	Locale      string           `json:"locale,omitempty" yaml:"locale,omitempty"`
}

// Text is the string that gets embedded for matching.
func (r Request) Text() string {
	title := strings.TrimSpace(r.Title)
	description := strings.TrimSpace(r.Description)
	if description == "" {
		return title
	}
	return title + "\n" + description
}

// Validate rejects malformed requests.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if r.Experience != nil {
		if r.Experience.MinYears < 0 || r.Experience.MaxYears < 0 {
			return &ValidationError{Field: "experience", Reason: "years must not be negative"}
		}
		if r.Experience.MaxYears != 0 && r.Experience.MinYears > r.Experience.MaxYears {
			return &ValidationError{Field: "experience", Reason: "min years exceed max years"}
		}
	}
	return nil
}

// CanonicalRole is a taxonomy entry with its precomputed embedding.
type CanonicalRole struct {
	ID          string
	Title       string
	Family      string
	Level       string
	Tags        []string
	Description string
	Embedding   []float32
}

// Verdict is the outcome of the optional verification step.
type Verdict string

const (
	VerdictSkipped     Verdict = "skipped"
	VerdictAccepted    Verdict = "accepted"
	VerdictRejected    Verdict = "rejected"
	VerdictUnavailable Verdict = "unavailable"
)

// RoleMatch links a request to a canonical role.
type RoleMatch struct {
	RoleID     string  `json:"role_id"`
	RoleTitle  string  `json:"role_title"`
	Family     string  `json:"family,omitempty"`
	Similarity float64 `json:"similarity"`
	// Confidence is the match quality used downstream, in [0,1].
	Confidence float64 `json:"confidence"`
	Verdict    Verdict `json:"verdict"`
	Rationale  string  `json:"rationale,omitempty"`
}

// Accepted reports whether the match may be used for pricing.
func (m RoleMatch) Accepted() bool {
	return m.Verdict != VerdictRejected && m.Confidence > 0
}

// AcceptedMatches keeps accepted matches in their original order.
func AcceptedMatches(matches []RoleMatch) []RoleMatch {
	accepted := make([]RoleMatch, 0, len(matches))
	for _, m := range matches {
		if m.Accepted() {
			accepted = append(accepted, m)
		}
	}
	return accepted
}

// MarketDataRecord is one benchmark or posting-derived observation.
// Percentile fields are zero when the source does not report that rank.
type MarketDataRecord struct {
	SourceID   string    `json:"source_id" mapstructure:"source"`
	RoleID     string    `json:"role_id" mapstructure:"role_id"`
	Locale     string    `json:"locale,omitempty" mapstructure:"locale"`
	Currency   string    `json:"currency" mapstructure:"currency"`
	P10        float64   `json:"p10,omitempty" mapstructure:"p10"`
	P25        float64   `json:"p25,omitempty" mapstructure:"p25"`
	P50        float64   `json:"p50" mapstructure:"p50"`
	P75        float64   `json:"p75,omitempty" mapstructure:"p75"`
	P90        float64   `json:"p90,omitempty" mapstructure:"p90"`
	SampleSize int       `json:"sample_size" mapstructure:"sample_size"`
	ObservedAt time.Time `json:"observed_at" mapstructure:"observed_at"`
}

// Value returns the reported value at rank.
func (r MarketDataRecord) Value(rank Rank) (float64, bool) {
	var v float64
	switch rank {
	case P10:
		v = r.P10
	case P25:
		v = r.P25
	case P50:
		v = r.P50
	case P75:
		v = r.P75
	case P90:
		v = r.P90
	}
	return v, v > 0
}

// SetValue assigns the value at rank.
func (r *MarketDataRecord) SetValue(rank Rank, v float64) {
	switch rank {
	case P10:
		r.P10 = v
	case P25:
		r.P25 = v
	case P50:
		r.P50 = v
	case P75:
		r.P75 = v
	case P90:
		r.P90 = v
	}
}

// Validate checks required fields and ordering of the reported ranks.
func (r MarketDataRecord) Validate() error {
	if strings.TrimSpace(r.RoleID) == "" {
		return &ValidationError{Field: "role_id", Reason: "is required"}
	}
	if r.P50 <= 0 {
		return &ValidationError{Field: "p50", Reason: "must be positive"}
	}
	if r.SampleSize < 1 {
		return &ValidationError{Field: "sample_size", Reason: "must be at least 1"}
	}
	if r.ObservedAt.IsZero() {
		return &ValidationError{Field: "observed_at", Reason: "is required"}
	}

	prev := 0.0
	for _, rank := range Ranks {
		v, ok := r.Value(rank)
		if !ok {
			if v < 0 {
				return &ValidationError{Field: rank.String(), Reason: "must not be negative"}
			}
			continue
		}
		if v < prev {
			return &ValidationError{Field: rank.String(), Reason: "percentiles are not monotonic"}
		}
		prev = v
	}
	return nil
}

// AgeDays is the age of the observation relative to now, never negative.
func (r MarketDataRecord) AgeDays(now time.Time) float64 {
	if r.ObservedAt.IsZero() || now.Before(r.ObservedAt) {
		return 0
	}
	return now.Sub(r.ObservedAt).Hours() / 24
}

// SourceContribution is the aggregator's per-source accounting.
type SourceContribution struct {
	SourceID     string     `json:"source_id"`
	Kind         SourceKind `json:"kind"`
	RoleID       string     `json:"role_id"`
	Weight       float64    `json:"weight"`
	SampleSize   int        `json:"sample_size"`
	AgeDays      float64    `json:"age_days"`
	MatchQuality float64    `json:"match_quality"`
	P50          float64    `json:"p50"`
}

// Percentiles is a complete distribution.
type Percentiles struct {
	P10 float64 `json:"p10"`
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
}

// Values returns the ranks in ascending order.
func (p Percentiles) Values() []float64 {
	return []float64{p.P10, p.P25, p.P50, p.P75, p.P90}
}

// Validate checks that every rank is positive and non-decreasing.
func (p Percentiles) Validate() error {
	prev := 0.0
	for i, v := range p.Values() {
		if v <= 0 || math.IsNaN(v) {
			return &ValidationError{Field: Ranks[i].String(), Reason: "must be positive"}
		}
		if v < prev {
			return &ValidationError{Field: Ranks[i].String(), Reason: "percentiles are not monotonic"}
		}
		prev = v
	}
	return nil
}

// Band is a named negotiation range.
type Band struct {
	Name    string  `json:"name"`
	Min     float64 `json:"min"`
	Center  float64 `json:"center"`
	Max     float64 `json:"max"`
	UseCase string  `json:"use_case"`
}

// Degradation records a stage that did not fully succeed.
type Degradation struct {
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
}

// Result is the outcome of a pricing attempt.
type Result struct {
	RequestID      string               `json:"request_id"`
	Status         Status               `json:"status"`
	Target         float64              `json:"target"`
	RecommendedMin float64              `json:"recommended_min"`
	RecommendedMax float64              `json:"recommended_max"`
	Percentiles    Percentiles          `json:"percentiles"`
	Currency       string               `json:"currency,omitempty"`
	Confidence     float64              `json:"confidence"`
	Coverage       float64              `json:"coverage"`
	Contributions  []SourceContribution `json:"contributions"`
	Matches        []RoleMatch          `json:"matches,omitempty"`
	Scenarios      []Band               `json:"scenarios"`
	Degradations   []Degradation        `json:"degradations,omitempty"`
	Explanation    string               `json:"explanation"`
	IndexVersion   string               `json:"index_version,omitempty"`
	ComputedAt     time.Time            `json:"computed_at"`
}

// Coverage is the total weight of the given contributions.
func Coverage(contributions []SourceContribution) float64 {
	total := 0.0
	for _, c := range contributions {
		total += c.Weight
	}
	return total
}
