package sources

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/hh-pricer/internal/logger"
	"github.com/spigell/hh-pricer/internal/pricing"
)

// BenchmarkStore returns benchmark rows for a role as loosely typed maps.
type BenchmarkStore interface {
	Benchmarks(ctx context.Context, sourceID, roleID string) ([]map[string]any, error)
}

// Survey serves structured percentile benchmarks.
type Survey struct {
	id    string
	store BenchmarkStore
	opts  Options
}

func NewSurvey(id string, store BenchmarkStore, opts Options) *Survey {
	opts = opts.withDefaults()
	opts.Logger = logger.WithSource(opts.Logger, id, "")
	return &Survey{id: id, store: store, opts: opts}
}

func (s *Survey) ID() string { return s.id }

func (s *Survey) Kind() pricing.SourceKind { return pricing.SourceKindSurvey }

func (s *Survey) Fetch(ctx context.Context, roleID, locale string) ([]pricing.MarketDataRecord, error) {
	rows, err := s.store.Benchmarks(ctx, s.id, roleID)
	if err != nil {
		return nil, fmt.Errorf("load benchmarks: %w", err)
	}

	records, rejected := DecodeRecords(s.id, rows)
	for _, r := range rejected {
		s.opts.Logger.Warn("skipping malformed benchmark row",
			zap.String(logger.FieldRoleID, roleID),
			zap.Int("row", r.Index),
			zap.Error(r.Err),
		)
	}

	matching := records[:0]
	for _, r := range records {
		if r.RoleID == roleID {
			matching = append(matching, r)
		}
	}

	return s.opts.filter(ctx, locale, matching)
}
