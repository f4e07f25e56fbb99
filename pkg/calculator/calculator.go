// Package calculator converts raw EUR/MWh spot prices into the localized
// consumer price: currency conversion, additive fees, VAT, unit scaling and
// cent display.
package calculator

import (
	"fmt"
	"strings"
	"time"

	"github.com/bendikrb/energidataservice/pkg/region"
	"github.com/bendikrb/energidataservice/pkg/types"
)

// FeeFunc produces the additive fee (tariffs, subscriptions, surcharges) for
// a raw price at a given hour. The fee is denominated per the configured
// price unit. A nil FeeFunc means no fee.
type FeeFunc func(rawPrice float64, hour time.Time) float64

const vatRate = 0.25

// unitDivisor maps the configured price unit to the divisor from the
// source's per-MWh granularity.
var unitDivisor = map[string]float64{
	"MWh": 1,
	"kWh": 1000,
}

// Config holds the immutable conversion settings for one dataset. Changing
// any of these requires constructing a new Calculator.
type Config struct {
	Currency region.Currency
	VAT      bool
	Decimals int
	Unit     string
	InCent   bool
	Fee      FeeFunc
}

// Calculator applies Config to raw prices. Safe for concurrent use as long
// as the FeeFunc is.
type Calculator struct {
	cfg Config
}

// New validates the config and returns a Calculator.
func New(cfg Config) (*Calculator, error) {
	if _, ok := unitDivisor[cfg.Unit]; !ok {
		return nil, fmt.Errorf("unknown price unit: %s", cfg.Unit)
	}
	if cfg.Decimals < 0 {
		return nil, fmt.Errorf("decimals must be >= 0, got %d", cfg.Decimals)
	}
	if cfg.Currency.Name == "" {
		return nil, fmt.Errorf("currency is required")
	}
	return &Calculator{cfg: cfg}, nil
}

// Calculate converts a single raw EUR/MWh price. The hour is passed to the
// fee function so time-of-day tariffs resolve against the price's interval
// rather than the wall clock.
func (c *Calculator) Calculate(raw float64, hour time.Time) float64 {
	value := raw
	if c.cfg.Currency.Name != "EUR" {
		value = c.cfg.Currency.Convert(value)
	}

	var fee float64
	if c.cfg.Fee != nil {
		fee = c.cfg.Fee(raw, hour)
	}

	var vat float64
	if c.cfg.VAT {
		vat = vatRate
	}

	var price float64
	if strings.EqualFold(c.cfg.Unit, "MWh") {
		// fees are quoted per kWh even when displaying MWh prices
		price = fee/1000 + value*(1+vat)
	} else {
		price = fee + value/unitDivisor[c.cfg.Unit]*(1+vat)
	}

	if c.cfg.InCent {
		price *= c.cfg.Currency.Multiplier
	}

	return types.Round(price, c.cfg.Decimals)
}

// CalculateSeries converts every point of a raw series, preserving order and
// cardinality. The input is not modified.
func (c *Calculator) CalculateSeries(raw types.PriceSeries) types.PriceSeries {
	out := make(types.PriceSeries, len(raw))
	for i, p := range raw {
		out[i] = types.PricePoint{
			Hour:  p.Hour,
			Price: c.Calculate(p.Price, p.Hour),
		}
	}
	return out
}

// Units returns the supported price units.
func Units() []string {
	return []string{"kWh", "MWh"}
}
