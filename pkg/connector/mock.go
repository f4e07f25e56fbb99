package connector

import (
	"context"
	"sync"
	"time"

	"github.com/bendikrb/energidataservice/pkg/types"
)

// Mock is a controllable Connector for tests.
type Mock struct {
	mu sync.Mutex

	TodayData    types.PriceSeries
	TomorrowData types.PriceSeries
	Err          error

	calls int
}

// GetSpotPrices implements Connector.
func (m *Mock) GetSpotPrices(ctx context.Context, region string, loc *time.Location) (types.PriceSeries, types.PriceSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return nil, nil, m.Err
	}
	return m.TodayData, m.TomorrowData, nil
}

// Name implements Connector.
func (m *Mock) Name() string { return "mock" }

// Calls returns how many times GetSpotPrices was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Set replaces the mock's canned response.
func (m *Mock) Set(today, tomorrow types.PriceSeries, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TodayData = today
	m.TomorrowData = tomorrow
	m.Err = err
}
