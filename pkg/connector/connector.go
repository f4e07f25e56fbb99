// Package connector implements the provider boundary: fetching raw day-ahead
// spot prices from one of several upstream APIs. Connectors are tried in
// priority order until one yields data.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bendikrb/energidataservice/pkg/log"
	"github.com/bendikrb/energidataservice/pkg/types"
)

// ErrExhausted is returned when no connector produced data for the region.
var ErrExhausted = errors.New("all connectors exhausted")

// Connector fetches the raw hourly spot prices for a region. Raw prices are
// EUR/MWh. tomorrow is empty until the provider publishes the next day,
// which is not an error. Implementations must be idempotent and safe to
// retry.
type Connector interface {
	// GetSpotPrices returns today's and tomorrow's series split on calendar
	// days in loc.
	GetSpotPrices(ctx context.Context, region string, loc *time.Location) (today, tomorrow types.PriceSeries, err error)

	// Name identifies the upstream source.
	Name() string
}

// Configured sets up the connector chain with all supported upstreams, in
// priority order.
func Configured() *Chain {
	c := NewChain()
	c.SetConnectors(configuredEnergiDataService(), configuredNordpool())
	return c
}

// Chain tries connectors in order until one returns a non-empty today
// series.
type Chain struct {
	mu         sync.Mutex
	connectors []Connector
}

// NewChain creates an empty Chain.
func NewChain() *Chain {
	return &Chain{}
}

// SetConnectors replaces the chain's connectors. This is primarily used for
// testing.
func (c *Chain) SetConnectors(connectors ...Connector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectors = connectors
}

// GetSpotPrices walks the chain and returns the first non-empty result along
// with the name of the connector that produced it. When every connector
// fails or comes back empty the last error is wrapped in ErrExhausted.
func (c *Chain) GetSpotPrices(ctx context.Context, region string, loc *time.Location) (today, tomorrow types.PriceSeries, source string, err error) {
	c.mu.Lock()
	connectors := c.connectors
	c.mu.Unlock()

	var lastErr error
	for _, conn := range connectors {
		today, tomorrow, err := conn.GetSpotPrices(ctx, region, loc)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "connector failed",
				slog.String("connector", conn.Name()),
				slog.String("region", region),
				slog.Any("error", err))
			lastErr = err
			continue
		}
		if len(today) > 0 {
			log.Ctx(ctx).DebugContext(ctx, "connector returned data",
				slog.String("connector", conn.Name()),
				slog.String("region", region),
				slog.Int("today", len(today)),
				slog.Int("tomorrow", len(tomorrow)))
			return today, tomorrow, conn.Name(), nil
		}
	}
	if lastErr != nil {
		return nil, nil, "", fmt.Errorf("%w: %w", ErrExhausted, lastErr)
	}
	return nil, nil, "", ErrExhausted
}

// splitDays groups hourly points into series for today and the following
// day, dropping anything outside that window. Points must arrive sorted by
// hour.
func splitDays(points []types.PricePoint, now time.Time, loc *time.Location) (today, tomorrow types.PriceSeries) {
	local := now.In(loc)
	todayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	tomorrowStart := todayStart.AddDate(0, 0, 1)
	dayAfter := todayStart.AddDate(0, 0, 2)

	for _, p := range points {
		h := p.Hour.In(loc)
		switch {
		case h.Before(todayStart) || !h.Before(dayAfter):
		case h.Before(tomorrowStart):
			today = append(today, types.PricePoint{Hour: h, Price: p.Price})
		default:
			tomorrow = append(tomorrow, types.PricePoint{Hour: h, Price: p.Price})
		}
	}
	return today, tomorrow
}
