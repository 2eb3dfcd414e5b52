package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-pricer/internal/filtering"
	"github.com/spigell/hh-pricer/internal/pricing"
)

const defaultTimeout = 5 * time.Second

// Adapter is a market-data provider queried per canonical role.
//
// Fetch returns an empty slice, not an error, when the provider has no data
// for the role. Errors are reserved for infrastructure failures.
type Adapter interface {
	ID() string
	Kind() pricing.SourceKind
	Fetch(ctx context.Context, roleID, locale string) ([]pricing.MarketDataRecord, error)
}

// Config declares one source in the configuration file.
type Config struct {
	ID      string `mapstructure:"id"`
	Kind    string `mapstructure:"kind"`
	Backend string `mapstructure:"backend"`
	// Timeout bounds a single Fetch.
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxAgeDays   int           `mapstructure:"max-age-days"`
	IgnoreLocale bool          `mapstructure:"ignore-locale"`
}

func (c Config) WithDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	c.Kind = strings.ToLower(strings.TrimSpace(c.Kind))
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("source id is required")
	}
	switch pricing.SourceKind(strings.ToLower(c.Kind)) {
	case pricing.SourceKindSurvey, pricing.SourceKindPostings:
	default:
		return fmt.Errorf("source %s: unknown kind %q", c.ID, c.Kind)
	}
	if c.MaxAgeDays < 0 {
		return fmt.Errorf("source %s: max-age-days must not be negative", c.ID)
	}
	return nil
}

// Options are shared by all adapters.
type Options struct {
	// Currency is the reporting currency records must be in.
	Currency     string
	MaxAge       time.Duration
	IgnoreLocale bool
	Logger       *zap.Logger
	Now          func() time.Time
}

// OptionsFromConfig builds adapter options for a configured source.
func OptionsFromConfig(cfg Config, currency string, logger *zap.Logger) Options {
	return Options{
		Currency:     currency,
		MaxAge:       time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		IgnoreLocale: cfg.IgnoreLocale,
		Logger:       logger,
	}
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

func (o Options) filter(ctx context.Context, locale string, records []pricing.MarketDataRecord) ([]pricing.MarketDataRecord, error) {
	steps := filtering.Default()
	if o.IgnoreLocale {
		filtering.DisableByName(steps, "locale", "source reports national data")
	}

	cfg := &filtering.Config{Locale: locale, Currency: o.Currency, MaxAge: o.MaxAge}
	kept, err := filtering.Run(ctx, cfg, filtering.Deps{Logger: o.Logger, Now: o.Now}, steps, records)
	if err != nil {
		return nil, err
	}

	if ce := o.Logger.Check(zap.DebugLevel, "record filters applied"); ce != nil {
		ce.Write(zap.Any("steps", filtering.Describe(steps)), zap.Int("records_left", len(kept)))
	}
	return kept, nil
}
