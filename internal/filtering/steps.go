package filtering

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hh-pricer/internal/pricing"
)

type toggle struct {
	disabled bool
	reason   string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.reason = reason
}

func (t *toggle) IsEnabled() bool { return !t.disabled }

type localeFilter struct {
	toggle
	locale string
}

// NewLocale creates a filter that keeps records for the requested locale.
// Records without a locale are treated as global and always kept.
func NewLocale() Filter {
	return &localeFilter{}
}

func (f *localeFilter) Name() string { return "locale" }

func (f *localeFilter) Validate(cfg *Config) error {
	f.locale = strings.TrimSpace(cfg.Locale)
	return nil
}

func (f *localeFilter) Apply(_ context.Context, deps Deps, records []pricing.MarketDataRecord) ([]pricing.MarketDataRecord, Step, error) {
	initial := len(records)
	if f.locale == "" {
		return records, Step{Initial: initial, Left: initial}, nil
	}

	kept, dropped := keep(records, func(r pricing.MarketDataRecord) bool {
		return r.Locale == "" || strings.EqualFold(r.Locale, f.locale)
	})
	if deps.Logger != nil && dropped > 0 {
		deps.Logger.Debug("excluding records from other locales",
			zap.String("locale", f.locale),
			zap.Int("records_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: dropped, Left: len(kept)}, nil
}

func (f *localeFilter) Status() Status {
	details := map[string]string{}
	if f.locale != "" {
		details["locale"] = f.locale
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}

type currencyFilter struct {
	toggle
	currency string
}

// NewCurrency creates a filter that drops records not in the reporting currency.
func NewCurrency() Filter {
	return &currencyFilter{}
}

func (f *currencyFilter) Name() string { return "currency" }

func (f *currencyFilter) Validate(cfg *Config) error {
	f.currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if f.currency != "" && len(f.currency) != 3 {
		return fmt.Errorf("currency %q is not an ISO 4217 code", cfg.Currency)
	}
	return nil
}

func (f *currencyFilter) Apply(_ context.Context, deps Deps, records []pricing.MarketDataRecord) ([]pricing.MarketDataRecord, Step, error) {
	initial := len(records)
	if f.currency == "" {
		return records, Step{Initial: initial, Left: initial}, nil
	}

	kept, dropped := keep(records, func(r pricing.MarketDataRecord) bool {
		return r.Currency == "" || strings.EqualFold(r.Currency, f.currency)
	})
	if deps.Logger != nil && dropped > 0 {
		deps.Logger.Warn("excluding records in a foreign currency",
			zap.String("reporting_currency", f.currency),
			zap.Int("dropped", dropped),
		)
	}

	return kept, Step{Initial: initial, Dropped: dropped, Left: len(kept)}, nil
}

func (f *currencyFilter) Status() Status {
	details := map[string]string{}
	if f.currency != "" {
		details["currency"] = f.currency
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}

type maxAgeFilter struct {
	toggle
	maxAgeDays float64
}

// NewMaxAge creates a filter that drops observations older than the configured cutoff.
func NewMaxAge() Filter {
	return &maxAgeFilter{}
}

func (f *maxAgeFilter) Name() string { return "max_age" }

func (f *maxAgeFilter) Validate(cfg *Config) error {
	if cfg.MaxAge < 0 {
		return fmt.Errorf("max age must not be negative")
	}
	f.maxAgeDays = cfg.MaxAge.Hours() / 24
	return nil
}

func (f *maxAgeFilter) Apply(_ context.Context, deps Deps, records []pricing.MarketDataRecord) ([]pricing.MarketDataRecord, Step, error) {
	initial := len(records)
	if f.maxAgeDays == 0 {
		return records, Step{Initial: initial, Left: initial}, nil
	}

	now := deps.now()
	kept, dropped := keep(records, func(r pricing.MarketDataRecord) bool {
		return r.AgeDays(now) <= f.maxAgeDays
	})
	if deps.Logger != nil && dropped > 0 {
		deps.Logger.Debug("excluding stale records",
			zap.Float64("max_age_days", f.maxAgeDays),
			zap.Int("records_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: dropped, Left: len(kept)}, nil
}

func (f *maxAgeFilter) Status() Status {
	details := map[string]string{}
	if f.maxAgeDays > 0 {
		details["max_age_days"] = fmt.Sprintf("%.0f", f.maxAgeDays)
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}
