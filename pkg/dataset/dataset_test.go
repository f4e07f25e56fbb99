package dataset

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bendikrb/energidataservice/pkg/connector"
	"github.com/bendikrb/energidataservice/pkg/optimizer"
	"github.com/bendikrb/energidataservice/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDay = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func hourly(day time.Time, hours int, price float64) types.PriceSeries {
	var s types.PriceSeries
	for h := 0; h < hours; h++ {
		s = append(s, types.PricePoint{Hour: day.Add(time.Duration(h) * time.Hour), Price: price})
	}
	return s
}

// newTestDataset returns a dataset in UTC with an EUR kWh config and no VAT,
// so a raw price of x EUR/MWh calculates to x/1000.
func newTestDataset(t *testing.T, mock connector.Connector, cfg ...Config) *Dataset {
	t.Helper()
	chain := connector.NewChain()
	chain.SetConnectors(mock)

	c := Config{Region: "FI", Timezone: "UTC", Decimals: 3, Unit: "kWh"}
	if len(cfg) > 0 {
		c = cfg[0]
	}
	d, err := New(chain, c)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	d.now = func() time.Time { return testDay.Add(10 * time.Hour) }
	return d
}

func TestFetchSuccess(t *testing.T) {
	mock := &connector.Mock{
		TodayData:    hourly(testDay, 24, 100),
		TomorrowData: hourly(testDay.AddDate(0, 0, 1), 24, 200),
	}
	d := newTestDataset(t, mock)

	d.Fetch(context.Background())

	assert.True(t, d.TomorrowValid())
	today, err := d.Today(context.Background())
	require.NoError(t, err)
	require.Len(t, today, 24)
	assert.Equal(t, 0.1, today[0].Price)

	tomorrow, err := d.Tomorrow(context.Background())
	require.NoError(t, err)
	require.Len(t, tomorrow, 24)
	assert.Equal(t, 0.2, tomorrow[0].Price)

	st := d.Status()
	assert.True(t, st.TomorrowValid)
	assert.Equal(t, "mock", st.Source)
	assert.Zero(t, st.RetryCount)
	assert.True(t, st.NextRetry.IsZero())
}

func TestFetchTomorrowMissingBeforeDeadline(t *testing.T) {
	mock := &connector.Mock{TodayData: hourly(testDay, 24, 100)}
	d := newTestDataset(t, mock)
	// 10:00 local, well before the 13:00 refresh

	d.Fetch(context.Background())

	assert.False(t, d.TomorrowValid())
	_, err := d.Tomorrow(context.Background())
	assert.ErrorIs(t, err, ErrNoData)

	st := d.Status()
	assert.Zero(t, st.RetryCount, "no retry before the publish deadline")
	assert.True(t, st.NextRetry.IsZero())
}

func TestFetchTomorrowMissingAfterDeadline(t *testing.T) {
	// DST-short day: 23 hours of today, no tomorrow, after the deadline
	loc, err := time.LoadLocation("Europe/Copenhagen")
	require.NoError(t, err)
	shortDay := time.Date(2024, 3, 31, 0, 0, 0, 0, loc)

	var today types.PriceSeries
	next := shortDay.AddDate(0, 0, 1)
	for h := shortDay; h.Before(next); h = h.Add(time.Hour) {
		today = append(today, types.PricePoint{Hour: h, Price: 1.0})
	}
	require.Len(t, today, 23)

	mock := &connector.Mock{TodayData: today}
	d := newTestDataset(t, mock, Config{Region: "DK1", Timezone: "Europe/Copenhagen", Decimals: 3, Unit: "kWh"})
	now := time.Date(2024, 3, 31, 14, 0, 0, 0, loc)
	d.now = func() time.Time { return now }

	d.Fetch(context.Background())

	assert.False(t, d.TomorrowValid())
	got, err := d.Today(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 23)

	st := d.Status()
	assert.Equal(t, 1, st.RetryCount)
	assert.Equal(t, now.Add(10*time.Minute), st.NextRetry, "first retry is 10 minutes out")
}

func TestBackoffMonotonicAndCapped(t *testing.T) {
	mock := &connector.Mock{Err: errors.New("connection refused")}
	d := newTestDataset(t, mock)

	want := []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 120, 120, 120}
	for i, delay := range want {
		d.Fetch(context.Background())
		d.mu.Lock()
		assert.Equal(t, i+1, d.retryCount)
		assert.Equal(t, delay, d.nextRetryDelay)
		d.mu.Unlock()
	}
}

func TestBackoffResetsOnSuccess(t *testing.T) {
	mock := &connector.Mock{Err: errors.New("connection refused")}
	d := newTestDataset(t, mock)

	// two consecutive failures
	d.Fetch(context.Background())
	d.Fetch(context.Background())
	d.mu.Lock()
	assert.Equal(t, 2, d.retryCount)
	assert.Equal(t, 20, d.nextRetryDelay)
	d.mu.Unlock()

	// a success resets the sequence
	mock.Set(hourly(testDay, 24, 100), hourly(testDay.AddDate(0, 0, 1), 24, 100), nil)
	d.Fetch(context.Background())
	st := d.Status()
	assert.Zero(t, st.RetryCount)

	// so the third failure starts over at the base delay
	mock.Set(nil, nil, errors.New("connection refused"))
	d.Fetch(context.Background())
	d.mu.Lock()
	assert.Equal(t, 1, d.retryCount)
	assert.Equal(t, 10, d.nextRetryDelay)
	d.mu.Unlock()

	// failures leave the last good dataset alone
	today, err := d.Today(context.Background())
	require.NoError(t, err)
	assert.Len(t, today, 24)
}

func TestRollover(t *testing.T) {
	mock := &connector.Mock{
		TodayData:    hourly(testDay, 24, 100),
		TomorrowData: hourly(testDay.AddDate(0, 0, 1), 24, 200),
	}
	d := newTestDataset(t, mock)
	d.Fetch(context.Background())

	tomorrow, err := d.Tomorrow(context.Background())
	require.NoError(t, err)

	d.Rollover()

	today, err := d.Today(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tomorrow, today, "today becomes the prior tomorrow")
	assert.False(t, d.TomorrowValid())
	_, err = d.Tomorrow(context.Background())
	assert.ErrorIs(t, err, ErrNoData)

	// a second rollover with no tomorrow leaves the dataset empty
	d.Rollover()
	_, err = d.Today(context.Background())
	assert.ErrorIs(t, err, ErrNoData)
}

func TestCalculationCachedUntilInvalidated(t *testing.T) {
	fee := 0.0
	mock := &connector.Mock{
		TodayData:    hourly(testDay, 24, 100),
		TomorrowData: hourly(testDay.AddDate(0, 0, 1), 24, 100),
	}
	d := newTestDataset(t, mock, Config{
		Region: "FI", Timezone: "UTC", Decimals: 3, Unit: "kWh",
		Fee: func(raw float64, hour time.Time) float64 { return fee },
	})
	d.Fetch(context.Background())

	first, err := d.Today(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.1, first[0].Price)

	// mutating the fee must not change the cached series
	fee = 1.0
	again, err := d.Today(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.1, again[0].Price)

	// a new fetch invalidates the cache and the fee shows up
	d.Fetch(context.Background())
	fresh, err := d.Today(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.1, fresh[0].Price)
}

func TestTodayNoData(t *testing.T) {
	d := newTestDataset(t, &connector.Mock{Err: errors.New("down")})
	_, err := d.Today(context.Background())
	assert.ErrorIs(t, err, ErrNoData)
}

func TestOptimalPeriods(t *testing.T) {
	today := hourly(testDay, 24, 10000)
	// raw EUR/MWh so calculated kWh prices are raw/1000
	for h := 3; h < 7; h++ {
		today[h].Price = 1000
	}
	mock := &connector.Mock{TodayData: today}
	d := newTestDataset(t, mock)
	d.now = func() time.Time { return testDay }
	d.Fetch(context.Background())

	got, err := d.OptimalPeriods(4, "23:00:00")
	require.NoError(t, err)
	assert.Equal(t, testDay.Add(3*time.Hour), got.Cheapest.Start)
	assert.Equal(t, 4.0, got.Cheapest.Total)

	_, err = d.OptimalPeriods(48, "23:00:00")
	assert.ErrorIs(t, err, optimizer.ErrInsufficientData)
}

func TestOptimalPeriodsSpansTomorrow(t *testing.T) {
	tomorrow := hourly(testDay.AddDate(0, 0, 1), 24, 10000)
	for h := 2; h < 6; h++ {
		tomorrow[h].Price = 1000
	}
	mock := &connector.Mock{TodayData: hourly(testDay, 24, 10000), TomorrowData: tomorrow}
	d := newTestDataset(t, mock)
	d.now = func() time.Time { return testDay.Add(22 * time.Hour) }
	d.Fetch(context.Background())

	got, err := d.OptimalPeriods(4, "06:45:00")
	require.NoError(t, err)
	assert.Equal(t, testDay.AddDate(0, 0, 1).Add(2*time.Hour), got.Cheapest.Start)
}

func TestNextRefreshAndJitterStable(t *testing.T) {
	d := newTestDataset(t, &connector.Mock{})
	minute, second := d.RefreshJitter()
	assert.GreaterOrEqual(t, minute, 0)
	assert.LessOrEqual(t, minute, 10)
	assert.GreaterOrEqual(t, second, 0)
	assert.LessOrEqual(t, second, 59)

	// before 13:00 the refresh is later today
	next := d.NextRefresh()
	assert.Equal(t, testDay.Add(13*time.Hour).Add(time.Duration(minute)*time.Minute).Add(time.Duration(second)*time.Second), next)
	assert.Equal(t, next, d.NextRefresh(), "jitter is fixed for the process lifetime")

	// past the refresh it rolls to tomorrow
	d.now = func() time.Time { return testDay.Add(14 * time.Hour) }
	assert.Equal(t, next.AddDate(0, 0, 1), d.NextRefresh())
}

func TestSubscribeNotify(t *testing.T) {
	d := newTestDataset(t, &connector.Mock{TodayData: hourly(testDay, 24, 100)})

	id, ch := d.Subscribe()
	defer d.Unsubscribe(id)

	d.Fetch(context.Background())
	select {
	case <-ch:
	default:
		t.Fatal("expected a notification after fetch")
	}

	// notifications never block: back-to-back signals collapse into one
	d.Notify()
	d.Notify()
	<-ch
	select {
	case <-ch:
		t.Fatal("expected a single buffered notification")
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	d := newTestDataset(t, &connector.Mock{})
	id, ch := d.Subscribe()
	d.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
}

// slowConnector blocks in GetSpotPrices until released.
type slowConnector struct {
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (s *slowConnector) GetSpotPrices(ctx context.Context, region string, loc *time.Location) (types.PriceSeries, types.PriceSeries, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	close(s.started)
	<-s.release
	return hourly(testDay, 24, 100), nil, nil
}

func (s *slowConnector) Name() string { return "slow" }

func TestNoConcurrentFetch(t *testing.T) {
	slow := &slowConnector{started: make(chan struct{}), release: make(chan struct{})}
	d := newTestDataset(t, slow)

	done := make(chan struct{})
	go func() {
		d.Fetch(context.Background())
		close(done)
	}()
	<-slow.started

	// a second fetch while one is in flight is a no-op
	d.Fetch(context.Background())

	close(slow.release)
	<-done

	slow.mu.Lock()
	assert.Equal(t, 1, slow.calls)
	slow.mu.Unlock()
}
