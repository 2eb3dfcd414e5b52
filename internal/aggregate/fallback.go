package aggregate

import (
	"fmt"
	"strings"

	"github.com/spigell/hh-pricer/internal/pricing"
)

const (
	defaultFallbackP50    = 150000
	defaultFallbackSpread = 0.25
)

// FallbackEntry is a default median with a relative spread per rank step.
type FallbackEntry struct {
	P50    float64 `mapstructure:"p50"`
	Spread float64 `mapstructure:"spread"`
}

// Fallback holds the floor estimates used when no source contributes.
// A role family entry wins over a locale entry, which wins over the default.
type Fallback struct {
	P50      float64                  `mapstructure:"p50"`
	Spread   float64                  `mapstructure:"spread"`
	Families map[string]FallbackEntry `mapstructure:"families"`
	Locales  map[string]FallbackEntry `mapstructure:"locales"`
}

func (f Fallback) withDefaults() Fallback {
	if f.P50 <= 0 {
		f.P50 = defaultFallbackP50
	}
	if f.Spread <= 0 {
		f.Spread = defaultFallbackSpread
	}
	return f
}

func (f Fallback) Validate() error {
	f = f.withDefaults()
	check := func(name string, e FallbackEntry) error {
		if e.P50 <= 0 {
			return fmt.Errorf("fallback %s: p50 must be positive", name)
		}
		if e.Spread < 0 || e.Spread >= 0.5 {
			return fmt.Errorf("fallback %s: spread must be within [0,0.5)", name)
		}
		return nil
	}
	if err := check("default", FallbackEntry{P50: f.P50, Spread: f.Spread}); err != nil {
		return err
	}
	for name, e := range f.Families {
		if err := check("family "+name, e); err != nil {
			return err
		}
	}
	for name, e := range f.Locales {
		if err := check("locale "+name, e); err != nil {
			return err
		}
	}
	return nil
}

// Estimate returns the floor distribution for a family and locale and a
// label naming which entry was used.
func (f Fallback) Estimate(family, locale string) (pricing.Percentiles, string) {
	f = f.withDefaults()

	entry, label := FallbackEntry{P50: f.P50, Spread: f.Spread}, "default"
	if e, ok := lookup(f.Locales, locale); ok {
		entry, label = e, "locale "+locale
	}
	if e, ok := lookup(f.Families, family); ok {
		entry, label = e, "family "+family
	}
	if entry.Spread <= 0 {
		entry.Spread = f.Spread
	}

	s := entry.Spread
	return pricing.Percentiles{
		P10: entry.P50 * (1 - 2*s),
		P25: entry.P50 * (1 - s),
		P50: entry.P50,
		P75: entry.P50 * (1 + s),
		P90: entry.P50 * (1 + 2*s),
	}, label
}

func lookup(entries map[string]FallbackEntry, key string) (FallbackEntry, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return FallbackEntry{}, false
	}
	for k, e := range entries {
		if strings.EqualFold(k, key) {
			return e, true
		}
	}
	return FallbackEntry{}, false
}
