package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/bendikrb/energidataservice/pkg/common"
	"github.com/bendikrb/energidataservice/pkg/log"
	"github.com/bendikrb/energidataservice/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Nordpool fetches day-ahead prices from the Nord Pool data portal. It is
// the fallback when Energi Data Service has no data for the region.
type Nordpool struct {
	apiURL string
	client *http.Client
	now    func() time.Time
}

// configuredNordpool sets up flags for the Nord Pool connector and returns
// the instance.
func configuredNordpool() *Nordpool {
	n := &Nordpool{
		client: common.HTTPClient(10 * time.Second),
		now:    time.Now,
	}
	apiURL := lflag.String("nordpool-api-url", "https://dataportal-api.nordpoolgroup.com/api/DayAheadPrices", "URL for the Nord Pool day-ahead prices API")

	lflag.Do(func() {
		n.apiURL = *apiURL
	})

	return n
}

// Name implements Connector.
func (n *Nordpool) Name() string { return "nordpool" }

type nordpoolEntry struct {
	DeliveryStart time.Time          `json:"deliveryStart"`
	EntryPerArea  map[string]float64 `json:"entryPerArea"`
}

type nordpoolResponse struct {
	MultiAreaEntries []nordpoolEntry `json:"multiAreaEntries"`
}

// GetSpotPrices implements Connector. Nord Pool serves one delivery day per
// request, so today and tomorrow are fetched separately. An unpublished day
// comes back as 204 No Content.
func (n *Nordpool) GetSpotPrices(ctx context.Context, region string, loc *time.Location) (types.PriceSeries, types.PriceSeries, error) {
	local := n.now().In(loc)
	todayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	var points []types.PricePoint
	for _, day := range []time.Time{todayStart, todayStart.AddDate(0, 0, 1)} {
		dayPoints, err := n.fetchDay(ctx, region, day)
		if err != nil {
			return nil, nil, err
		}
		points = append(points, dayPoints...)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Hour.Before(points[j].Hour) })

	today, tomorrow := splitDays(points, n.now(), loc)
	if len(today) > 0 {
		if err := today.Validate(loc); err != nil {
			return nil, nil, fmt.Errorf("today series from nordpool is inconsistent: %w", err)
		}
	}
	if len(tomorrow) > 0 {
		if err := tomorrow.Validate(loc); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "dropping incomplete tomorrow series", slog.Any("error", err))
			tomorrow = nil
		}
	}
	return today, tomorrow, nil
}

func (n *Nordpool) fetchDay(ctx context.Context, region string, day time.Time) ([]types.PricePoint, error) {
	u, err := url.Parse(n.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}

	params := url.Values{}
	params.Set("market", "DayAhead")
	params.Set("deliveryArea", region)
	params.Set("currency", "EUR")
	params.Set("date", day.Format("2006-01-02"))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching spot prices from nordpool", slog.String("url", u.String()))

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	// the portal answers 204 for delivery days that aren't published yet
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nordpool api returned status: %d", resp.StatusCode)
	}

	var data nordpoolResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	points := make([]types.PricePoint, 0, len(data.MultiAreaEntries))
	for _, entry := range data.MultiAreaEntries {
		price, ok := entry.EntryPerArea[region]
		if !ok {
			continue
		}
		points = append(points, types.PricePoint{Hour: entry.DeliveryStart, Price: price})
	}
	return points, nil
}
