package filtering

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-pricer/internal/pricing"
)

// Filter represents a single filtering step applied to market data records.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate(cfg *Config) error
	Apply(ctx context.Context, deps Deps, records []pricing.MarketDataRecord) ([]pricing.MarketDataRecord, Step, error)
}

// Deps aggregates dependencies shared across all filtering steps.
type Deps struct {
	Logger *zap.Logger
	Now    func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now()
}

// Step describes the result of executing a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Config contains the per-fetch settings consumed by the filters.
type Config struct {
	// Locale requested by the caller. Empty means any locale.
	Locale string
	// Currency is the reporting currency. Empty disables the check.
	Currency string
	// MaxAge drops observations older than this. Zero disables the check.
	MaxAge time.Duration
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

// statusProvider is implemented by filters that can supply detailed status information.
type statusProvider interface {
	Status() Status
}

// Default returns a fresh set of the standard steps in execution order.
// Steps hold per-run state, so every fetch needs its own set.
func Default() []Filter {
	return []Filter{NewLocale(), NewCurrency(), NewMaxAge()}
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Run executes the supplied filters sequentially, returning the records left
// after the last step.
func Run(ctx context.Context, cfg *Config, deps Deps, steps []Filter, records []pricing.MarketDataRecord) ([]pricing.MarketDataRecord, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	for _, step := range steps {
		if !step.IsEnabled() {
			continue
		}
		if err := step.Validate(cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !step.IsEnabled() {
			if deps.Logger != nil {
				deps.Logger.Debug("filter disabled", zap.String("name", step.Name()))
			}
			continue
		}

		next, info, err := step.Apply(ctx, deps, records)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		if deps.Logger != nil && info.Dropped > 0 {
			deps.Logger.Debug("filter step",
				zap.String("name", step.Name()),
				zap.Int("initial", info.Initial),
				zap.Int("dropped", info.Dropped),
				zap.Int("left", info.Left),
			)
		}

		records = next
	}

	return records, nil
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}

// keep returns the records for which fn is true and the number dropped.
func keep(records []pricing.MarketDataRecord, fn func(pricing.MarketDataRecord) bool) ([]pricing.MarketDataRecord, int) {
	kept := make([]pricing.MarketDataRecord, 0, len(records))
	for _, r := range records {
		if fn(r) {
			kept = append(kept, r)
		}
	}
	return kept, len(records) - len(kept)
}
