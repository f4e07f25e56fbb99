package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nordpoolServer(t *testing.T, publishedTomorrow bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DayAhead", r.URL.Query().Get("market"))
		assert.Equal(t, "EUR", r.URL.Query().Get("currency"))

		date, err := time.ParseInLocation("2006-01-02", r.URL.Query().Get("date"), time.UTC)
		require.NoError(t, err)

		if date.Day() == 16 && !publishedTomorrow {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		var entries []nordpoolEntry
		for h := 0; h < 24; h++ {
			entries = append(entries, nordpoolEntry{
				DeliveryStart: date.Add(time.Duration(h) * time.Hour),
				EntryPerArea:  map[string]float64{"DK1": float64(h), "NO2": 99},
			})
		}
		require.NoError(t, json.NewEncoder(w).Encode(nordpoolResponse{MultiAreaEntries: entries}))
	}))
}

func testNordpool(srv *httptest.Server) *Nordpool {
	return &Nordpool{
		apiURL: srv.URL,
		client: srv.Client(),
		now: func() time.Time {
			return time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
		},
	}
}

func TestNordpoolBothDays(t *testing.T) {
	srv := nordpoolServer(t, true)
	defer srv.Close()

	today, tomorrow, err := testNordpool(srv).GetSpotPrices(context.Background(), "DK1", time.UTC)
	require.NoError(t, err)
	assert.Len(t, today, 24)
	assert.Len(t, tomorrow, 24)
	// only the requested delivery area is used
	assert.Equal(t, 5.0, today[5].Price)
}

func TestNordpoolTomorrowNotPublished(t *testing.T) {
	srv := nordpoolServer(t, false)
	defer srv.Close()

	today, tomorrow, err := testNordpool(srv).GetSpotPrices(context.Background(), "DK1", time.UTC)
	require.NoError(t, err)
	assert.Len(t, today, 24)
	assert.Empty(t, tomorrow)
}

func TestNordpoolUnknownArea(t *testing.T) {
	srv := nordpoolServer(t, true)
	defer srv.Close()

	today, tomorrow, err := testNordpool(srv).GetSpotPrices(context.Background(), "SE9", time.UTC)
	require.NoError(t, err)
	assert.Empty(t, today)
	assert.Empty(t, tomorrow)
}
