package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is a single hourly spot price. Hour is the start of the one-hour
// interval in the configured timezone. Raw prices from the provider are always
// EUR/MWh; calculated prices are in the configured display currency and unit.
type PricePoint struct {
	Hour  time.Time `json:"hour"`
	Price float64   `json:"price"`
}

// PriceSeries holds the hourly prices for one local calendar day, ordered by
// Hour with exactly one point per hour and no gaps. A calculated series has
// the same shape as its raw source.
type PriceSeries []PricePoint

// Validate checks that the series covers exactly one calendar day in loc,
// strictly increasing with one point per hour. A day has 23-25 hours
// depending on DST transitions.
func (s PriceSeries) Validate(loc *time.Location) error {
	if len(s) == 0 {
		return fmt.Errorf("empty series")
	}
	first := s[0].Hour.In(loc)
	midnight := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)
	if !first.Equal(midnight) {
		return fmt.Errorf("series does not start at local midnight: %s", first)
	}
	nextMidnight := midnight.AddDate(0, 0, 1)
	hours := int(nextMidnight.Sub(midnight) / time.Hour)
	if len(s) != hours {
		return fmt.Errorf("series has %d points, expected %d for %s", len(s), hours, midnight.Format("2006-01-02"))
	}
	for i := 1; i < len(s); i++ {
		if !s[i].Hour.Equal(s[i-1].Hour.Add(time.Hour)) {
			return fmt.Errorf("series not contiguous at index %d: %s -> %s", i, s[i-1].Hour, s[i].Hour)
		}
	}
	return nil
}

// AtHour returns the point covering t, matching on the start of the hour.
func (s PriceSeries) AtHour(t time.Time) (PricePoint, bool) {
	hour := t.Truncate(time.Hour)
	for _, p := range s {
		if p.Hour.Equal(hour) {
			return p, true
		}
	}
	return PricePoint{}, false
}

// Prices returns just the price values, in series order.
func (s PriceSeries) Prices() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Price
	}
	return out
}

// Period is a contiguous block of hours with its summed price. End is
// exclusive: the block covers [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Total float64   `json:"total"`
}

// OptimalPeriods holds the cheapest and most expensive contiguous windows of
// the requested length.
type OptimalPeriods struct {
	Cheapest      Period `json:"cheapest"`
	MostExpensive Period `json:"mostExpensive"`
}

// Status is a snapshot of the dataset lifecycle state exposed to consumers.
type Status struct {
	TomorrowValid bool      `json:"tomorrowValid"`
	NextRefresh   time.Time `json:"nextRefresh"`
	NextRetry     time.Time `json:"nextRetry,omitzero"`
	RetryCount    int       `json:"retryCount"`
	Source        string    `json:"source,omitempty"`
}

// Round rounds v half away from zero to the given number of decimals. Prices
// are displayed with a fixed precision so all derived values go through here.
func Round(v float64, decimals int) float64 {
	f, _ := decimal.NewFromFloat(v).Round(int32(decimals)).Float64()
	return f
}
