// Package scenario derives named negotiation bands from a salary distribution.
package scenario

import (
	"fmt"

	"github.com/spigell/hh-pricer/internal/pricing"
)

const defaultPremiumMargin = 0.10

const (
	Conservative = "conservative"
	Market       = "market"
	Competitive  = "competitive"
	Premium      = "premium"
)

type Config struct {
	// PremiumMargin extends the premium band above P90.
	PremiumMargin float64 `mapstructure:"premium-margin"`
}

func (c Config) withDefaults() Config {
	if c.PremiumMargin <= 0 {
		c.PremiumMargin = defaultPremiumMargin
	}
	return c
}

func (c Config) Validate() error {
	if c.PremiumMargin < 0 || c.PremiumMargin > 1 {
		return fmt.Errorf("premium margin must be within [0,1]")
	}
	return nil
}

// Generator holds only configuration; Scenarios is a pure function of its input.
type Generator struct {
	cfg Config
}

func New(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{cfg: cfg.withDefaults()}, nil
}

// Scenarios returns the bands ordered from conservative to premium.
// Non-monotonic or non-positive percentiles are rejected.
func (g *Generator) Scenarios(p pricing.Percentiles) ([]pricing.Band, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	return []pricing.Band{
		{
			Name:    Conservative,
			Min:     p.P10,
			Center:  (p.P10 + p.P25) / 2,
			Max:     p.P25,
			UseCase: "budget-constrained hiring or a candidate still growing into the role",
		},
		{
			Name:    Market,
			Min:     p.P25,
			Center:  p.P50,
			Max:     p.P75,
			UseCase: "typical offer for a candidate who fully meets the requirements",
		},
		{
			Name:    Competitive,
			Min:     p.P50,
			Center:  p.P75,
			Max:     p.P90,
			UseCase: "winning a contested candidate or filling the role quickly",
		},
		{
			Name:    Premium,
			Min:     p.P75,
			Center:  p.P90,
			Max:     p.P90 * (1 + g.cfg.PremiumMargin),
			UseCase: "scarce skills, senior expertise or a counter-offer situation",
		},
	}, nil
}
