// Package region maps bidding-zone codes to their country, description and
// currency. The table is embedded so an unknown region fails at construction
// rather than at fetch time.
package region

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed regions.yaml
var regionsYAML []byte

// Currency describes a display currency and its fixed exchange rate from EUR.
type Currency struct {
	Name       string
	Cent       string  `yaml:"cent"`
	Multiplier float64 `yaml:"multiplier"`
	EURRate    float64 `yaml:"eur_rate"`
}

// Convert converts an EUR-denominated value into this currency.
func (c Currency) Convert(eur float64) float64 {
	return eur * c.EURRate
}

// Region is one bidding zone.
type Region struct {
	Code        string
	Country     string `yaml:"country"`
	Description string `yaml:"description"`
	Currency    Currency
}

type table struct {
	Currencies map[string]Currency `yaml:"currencies"`
	Regions    map[string]struct {
		Country     string `yaml:"country"`
		Description string `yaml:"description"`
		Currency    string `yaml:"currency"`
	} `yaml:"regions"`
}

var regions = func() map[string]Region {
	var t table
	if err := yaml.Unmarshal(regionsYAML, &t); err != nil {
		panic(fmt.Errorf("failed to parse embedded region table: %w", err))
	}
	m := make(map[string]Region, len(t.Regions))
	for code, r := range t.Regions {
		cur, ok := t.Currencies[r.Currency]
		if !ok {
			panic(fmt.Errorf("region %s references unknown currency %s", code, r.Currency))
		}
		cur.Name = r.Currency
		m[code] = Region{
			Code:        code,
			Country:     r.Country,
			Description: r.Description,
			Currency:    cur,
		}
	}
	return m
}()

var currencies = func() map[string]Currency {
	var t table
	if err := yaml.Unmarshal(regionsYAML, &t); err != nil {
		panic(fmt.Errorf("failed to parse embedded region table: %w", err))
	}
	for name, c := range t.Currencies {
		c.Name = name
		t.Currencies[name] = c
	}
	return t.Currencies
}()

// Lookup returns the region for the given zone code.
func Lookup(code string) (Region, error) {
	r, ok := regions[code]
	if !ok {
		return Region{}, fmt.Errorf("unknown region: %s", code)
	}
	return r, nil
}

// LookupCurrency returns a currency by name, for display-currency overrides.
func LookupCurrency(name string) (Currency, error) {
	c, ok := currencies[name]
	if !ok {
		return Currency{}, fmt.Errorf("unknown currency: %s", name)
	}
	return c, nil
}

// Codes returns all known region codes, sorted.
func Codes() []string {
	out := make([]string, 0, len(regions))
	for code := range regions {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
