package sources

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-pricer/internal/logger"
	"github.com/spigell/hh-pricer/internal/pricing"
)

// Posting is one job advertisement with an advertised salary range.
type Posting struct {
	ID         string
	RoleID     string
	Locale     string
	Currency   string
	SalaryFrom float64
	SalaryTo   float64
	PostedAt   time.Time
}

// Midpoint is the advertised salary, or false when the posting has none.
func (p Posting) Midpoint() (float64, bool) {
	switch {
	case p.SalaryFrom > 0 && p.SalaryTo > 0:
		return (p.SalaryFrom + p.SalaryTo) / 2, true
	case p.SalaryFrom > 0:
		return p.SalaryFrom, true
	case p.SalaryTo > 0:
		return p.SalaryTo, true
	}
	return 0, false
}

// PostingStore returns raw postings for a role.
type PostingStore interface {
	Postings(ctx context.Context, roleID, locale string) ([]Posting, error)
}

// Postings derives a percentile record from raw job postings.
type Postings struct {
	id    string
	store PostingStore
	opts  Options
}

func NewPostings(id string, store PostingStore, opts Options) *Postings {
	opts = opts.withDefaults()
	opts.Logger = logger.WithSource(opts.Logger, id, "")
	return &Postings{id: id, store: store, opts: opts}
}

func (p *Postings) ID() string { return p.id }

func (p *Postings) Kind() pricing.SourceKind { return pricing.SourceKindPostings }

// Fetch returns at most one record: the distribution of posting midpoints
// left after filtering.
func (p *Postings) Fetch(ctx context.Context, roleID, locale string) ([]pricing.MarketDataRecord, error) {
	postings, err := p.store.Postings(ctx, roleID, locale)
	if err != nil {
		return nil, fmt.Errorf("load postings: %w", err)
	}

	observations := make([]pricing.MarketDataRecord, 0, len(postings))
	skipped := 0
	for _, posting := range postings {
		mid, ok := posting.Midpoint()
		if !ok || posting.PostedAt.IsZero() {
			skipped++
			continue
		}
		observations = append(observations, pricing.MarketDataRecord{
			SourceID:   p.id,
			RoleID:     roleID,
			Locale:     strings.TrimSpace(posting.Locale),
			Currency:   strings.ToUpper(strings.TrimSpace(posting.Currency)),
			P50:        mid,
			SampleSize: 1,
			ObservedAt: posting.PostedAt.UTC(),
		})
	}
	if skipped > 0 {
		p.opts.Logger.Debug("postings without salary or date skipped",
			zap.String(logger.FieldRoleID, roleID),
			zap.Int("skipped", skipped),
		)
	}

	observations, err = p.opts.filter(ctx, locale, observations)
	if err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return []pricing.MarketDataRecord{}, nil
	}

	return []pricing.MarketDataRecord{summarize(p.id, roleID, locale, observations)}, nil
}

func summarize(sourceID, roleID, locale string, observations []pricing.MarketDataRecord) pricing.MarketDataRecord {
	values := make([]float64, len(observations))
	dates := make([]time.Time, len(observations))
	currency := ""
	for i, o := range observations {
		values[i] = o.P50
		dates[i] = o.ObservedAt
		if currency == "" {
			currency = o.Currency
		}
	}
	sort.Float64s(values)
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	record := pricing.MarketDataRecord{
		SourceID:   sourceID,
		RoleID:     roleID,
		Locale:     locale,
		Currency:   currency,
		SampleSize: len(values),
		ObservedAt: dates[len(dates)/2],
	}
	for _, rank := range pricing.Ranks {
		record.SetValue(rank, Quantile(values, float64(rank)/100))
	}
	return record
}

// Quantile returns the q-quantile of sorted values using linear
// interpolation between closest ranks.
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}

	h := q * float64(len(sorted)-1)
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[i]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}
