package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/bendikrb/energidataservice/pkg/common"
	"github.com/bendikrb/energidataservice/pkg/log"
	"github.com/bendikrb/energidataservice/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// EnergiDataService fetches Elspotprices from the Danish Energi Data Service
// open data portal. It is the primary source for all supported regions.
type EnergiDataService struct {
	apiURL string
	client *http.Client
	now    func() time.Time
}

// configuredEnergiDataService sets up flags for the Energi Data Service
// connector and returns the instance.
func configuredEnergiDataService() *EnergiDataService {
	e := &EnergiDataService{
		client: common.HTTPClient(10 * time.Second),
		now:    time.Now,
	}
	apiURL := lflag.String("eds-api-url", "https://api.energidataservice.dk/dataset/Elspotprices", "URL for the Energi Data Service Elspotprices dataset")

	lflag.Do(func() {
		e.apiURL = *apiURL
	})

	return e
}

// Name implements Connector.
func (e *EnergiDataService) Name() string { return "energidataservice" }

type edsRecord struct {
	HourUTC      string  `json:"HourUTC"`
	SpotPriceEUR float64 `json:"SpotPriceEUR"`
}

type edsResponse struct {
	Records []edsRecord `json:"records"`
}

// GetSpotPrices implements Connector. It requests the window from local
// midnight today through the end of tomorrow and splits the rows into the
// two day series.
func (e *EnergiDataService) GetSpotPrices(ctx context.Context, region string, loc *time.Location) (types.PriceSeries, types.PriceSeries, error) {
	u, err := url.Parse(e.apiURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid api url: %w", err)
	}

	local := e.now().In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 2)

	params := url.Values{}
	params.Set("start", start.UTC().Format("2006-01-02T15:04"))
	params.Set("end", end.UTC().Format("2006-01-02T15:04"))
	params.Set("filter", fmt.Sprintf(`{"PriceArea":["%s"]}`, region))
	params.Set("columns", "HourUTC,SpotPriceEUR")
	params.Set("sort", "HourUTC asc")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching spot prices from energidataservice", slog.String("url", u.String()))

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("energidataservice returned status: %d", resp.StatusCode)
	}

	var data edsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, nil, fmt.Errorf("failed to decode response: %w", err)
	}

	points := make([]types.PricePoint, 0, len(data.Records))
	for _, rec := range data.Records {
		// HourUTC has no zone suffix
		hour, err := time.ParseInLocation("2006-01-02T15:04:05", rec.HourUTC, time.UTC)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse HourUTC", slog.String("value", rec.HourUTC), slog.Any("error", err))
			continue
		}
		points = append(points, types.PricePoint{Hour: hour, Price: rec.SpotPriceEUR})
	}

	today, tomorrow := splitDays(points, e.now(), loc)
	if len(today) > 0 {
		if err := today.Validate(loc); err != nil {
			return nil, nil, fmt.Errorf("today series from energidataservice is inconsistent: %w", err)
		}
	}
	if len(tomorrow) > 0 {
		if err := tomorrow.Validate(loc); err != nil {
			// a partial tomorrow is treated as not yet published
			log.Ctx(ctx).WarnContext(ctx, "dropping incomplete tomorrow series", slog.Any("error", err))
			tomorrow = nil
		}
	}
	return today, tomorrow, nil
}
