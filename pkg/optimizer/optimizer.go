// Package optimizer finds the cheapest and most expensive contiguous block
// of hours in a price series, and computes per-day statistics. All functions
// are pure over their inputs.
package optimizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/bendikrb/energidataservice/pkg/types"
	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientData is returned when fewer usable hours remain than the
// requested window length. The search never degenerates to a zero-length or
// overrunning window.
var ErrInsufficientData = errors.New("not enough price data for the requested window")

// FindOptimalPeriods searches data for the cheapest and most expensive run
// of windowLen consecutive hours. data is today's series, optionally
// concatenated with tomorrow's. deadline is a local "HH:MM:SS" time of day
// by which a window must conclude; when now is already past the deadline's
// hour it rolls to the next day. Window totals are rounded to decimals and
// ties resolve to the earliest start hour.
func FindOptimalPeriods(data types.PriceSeries, now time.Time, windowLen int, deadline string, decimals int) (types.OptimalPeriods, error) {
	if windowLen < 1 {
		return types.OptimalPeriods{}, fmt.Errorf("window length must be >= 1, got %d", windowLen)
	}
	if len(data) < windowLen {
		return types.OptimalPeriods{}, ErrInsufficientData
	}

	deadlineAt, err := resolveDeadline(now, deadline)
	if err != nil {
		return types.OptimalPeriods{}, err
	}

	start := indexOfHour(data, now)
	if start < 0 {
		return types.OptimalPeriods{}, ErrInsufficientData
	}

	// last point starting at or before the deadline
	deadlineIdx := -1
	for i, p := range data {
		if p.Hour.After(deadlineAt) {
			break
		}
		deadlineIdx = i
	}
	end := deadlineIdx - windowLen
	if end < start {
		end = len(data) - windowLen
	}
	if end > len(data)-windowLen {
		end = len(data) - windowLen
	}
	if end < start {
		return types.OptimalPeriods{}, ErrInsufficientData
	}

	var cheapest, expensive types.Period
	for i := start; i <= end; i++ {
		var total float64
		for j := i; j < i+windowLen; j++ {
			total += data[j].Price
		}
		p := types.Period{
			Start: data[i].Hour,
			End:   windowEnd(data, i, windowLen),
			Total: types.Round(total, decimals),
		}
		if i == start || p.Total < cheapest.Total {
			cheapest = p
		}
		if i == start || p.Total > expensive.Total {
			expensive = p
		}
	}

	return types.OptimalPeriods{Cheapest: cheapest, MostExpensive: expensive}, nil
}

func resolveDeadline(now time.Time, deadline string) (time.Time, error) {
	t, err := time.Parse("15:04:05", deadline)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid deadline %q: %w", deadline, err)
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), t.Second(), 0, now.Location())
	if now.Hour() > at.Hour() {
		at = at.AddDate(0, 0, 1)
	}
	return at, nil
}

func indexOfHour(data types.PriceSeries, now time.Time) int {
	hour := now.Truncate(time.Hour)
	for i, p := range data {
		if p.Hour.Equal(hour) {
			return i
		}
	}
	return -1
}

func windowEnd(data types.PriceSeries, start, windowLen int) time.Time {
	if start+windowLen < len(data) {
		return data[start+windowLen].Hour
	}
	return data[len(data)-1].Hour.Add(time.Hour)
}

// SeriesStats holds the min/max points and mean price of one day's series.
type SeriesStats struct {
	Min  types.PricePoint `json:"min"`
	Max  types.PricePoint `json:"max"`
	Mean float64          `json:"mean"`
}

// Stats computes min, max and mean for a series. Ties resolve to the
// earliest hour.
func Stats(series types.PriceSeries, decimals int) (SeriesStats, error) {
	if len(series) == 0 {
		return SeriesStats{}, ErrInsufficientData
	}
	s := SeriesStats{Min: series[0], Max: series[0]}
	for _, p := range series[1:] {
		if p.Price < s.Min.Price {
			s.Min = p
		}
		if p.Price > s.Max.Price {
			s.Max = p
		}
	}
	s.Mean = types.Round(stat.Mean(series.Prices(), nil), decimals)
	return s, nil
}
