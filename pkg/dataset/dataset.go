// Package dataset owns the rolling two-day price window: fetch
// orchestration, midnight rollover, lazy calculation, retry backoff and the
// "data changed" fan-out. All mutable state lives behind one instance so
// scheduler triggers and consumer reads can never observe a half-applied
// transition.
package dataset

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/bendikrb/energidataservice/pkg/calculator"
	"github.com/bendikrb/energidataservice/pkg/connector"
	"github.com/bendikrb/energidataservice/pkg/log"
	"github.com/bendikrb/energidataservice/pkg/optimizer"
	"github.com/bendikrb/energidataservice/pkg/region"
	"github.com/bendikrb/energidataservice/pkg/types"
	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
)

const (
	baseRetryMinutes = 10
	maxRetryMinutes  = 120

	// hour of day the provider publishes tomorrow's prices
	refreshHour = 13
)

// ErrNoData is returned when calculated prices are requested before any
// successful fetch, or for an invalid tomorrow.
var ErrNoData = errors.New("no price data available")

// Config holds the immutable settings for one dataset. Changing any of them
// requires constructing a new Dataset.
type Config struct {
	Region          string
	Timezone        string
	VAT             bool
	Decimals        int
	Unit            string
	InCent          bool
	DisplayCurrency string
	Fee             calculator.FeeFunc
}

// Dataset is the lifecycle manager for today's and tomorrow's prices.
type Dataset struct {
	chain    *connector.Chain
	region   region.Region
	loc      *time.Location
	calc     *calculator.Calculator
	decimals int

	// afternoon refresh jitter, chosen once per process so deployed
	// instances don't all hit the provider at 13:00:00 sharp
	refreshMinute int
	refreshSecond int

	now func() time.Time

	mu                 sync.Mutex
	todayRaw           types.PriceSeries
	tomorrowRaw        types.PriceSeries
	todayCalc          types.PriceSeries
	tomorrowCalc       types.PriceSeries
	todayCalculated    bool
	tomorrowCalculated bool
	tomorrowValid      bool

	retryCount     int
	nextRetryDelay int
	nextRetryAt    time.Time
	retryTimer     *time.Timer

	fetching bool
	source   string
	closed   bool

	subscribers map[uuid.UUID]chan struct{}
}

// Configured sets up flags for the dataset and returns the instance.
func Configured(chain *connector.Chain) *Dataset {
	d := &Dataset{}
	regionCode := lflag.String("region", "DK1", "price region / bidding zone to fetch")
	tz := lflag.String("timezone", "Europe/Copenhagen", "local timezone for day boundaries")
	vat := lflag.Bool("vat", true, "apply 25% VAT to calculated prices")
	decimals := lflag.Int("decimals", 3, "number of decimals for calculated prices")
	unit := lflag.String("price-unit", "kWh", "price unit for calculated prices (kWh or MWh)")
	inCent := lflag.Bool("currency-in-cent", false, "display prices in the currency subunit")
	currency := lflag.String("display-currency", "", "override the region's display currency")

	lflag.Do(func() {
		err := d.init(chain, Config{
			Region:          *regionCode,
			Timezone:        *tz,
			VAT:             *vat,
			Decimals:        *decimals,
			Unit:            *unit,
			InCent:          *inCent,
			DisplayCurrency: *currency,
		})
		if err != nil {
			log.Ctx(context.Background()).Error("invalid dataset configuration", slog.Any("error", err))
			os.Exit(1)
		}
	})

	return d
}

// New validates the config and returns a Dataset. The dataset is empty until
// the first Fetch.
func New(chain *connector.Chain, cfg Config) (*Dataset, error) {
	d := &Dataset{}
	if err := d.init(chain, cfg); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dataset) init(chain *connector.Chain, cfg Config) error {
	reg, err := region.Lookup(cfg.Region)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	currency := reg.Currency
	if cfg.DisplayCurrency != "" && cfg.DisplayCurrency != currency.Name {
		currency, err = region.LookupCurrency(cfg.DisplayCurrency)
		if err != nil {
			return err
		}
	}
	calc, err := calculator.New(calculator.Config{
		Currency: currency,
		VAT:      cfg.VAT,
		Decimals: cfg.Decimals,
		Unit:     cfg.Unit,
		InCent:   cfg.InCent,
		Fee:      cfg.Fee,
	})
	if err != nil {
		return err
	}

	d.chain = chain
	d.region = reg
	d.loc = loc
	d.calc = calc
	d.decimals = cfg.Decimals
	d.refreshMinute = rand.Intn(11)
	d.refreshSecond = rand.Intn(60)
	d.now = time.Now
	d.nextRetryDelay = baseRetryMinutes
	d.subscribers = make(map[uuid.UUID]chan struct{})
	return nil
}

// Fetch requests the latest prices from the connector chain and applies the
// result. A fetch already in flight makes this a no-op; failures schedule a
// backoff retry and never propagate.
func (d *Dataset) Fetch(ctx context.Context) {
	d.mu.Lock()
	if d.fetching || d.closed {
		d.mu.Unlock()
		return
	}
	d.fetching = true
	d.mu.Unlock()

	today, tomorrow, source, err := d.chain.GetSpotPrices(ctx, d.region.Code, d.loc)

	d.mu.Lock()
	d.fetching = false
	if d.closed {
		d.mu.Unlock()
		return
	}
	if err != nil {
		d.scheduleRetryLocked(ctx, err)
		d.mu.Unlock()
		return
	}

	d.todayRaw = today
	d.tomorrowRaw = tomorrow
	d.todayCalc = nil
	d.tomorrowCalc = nil
	d.todayCalculated = false
	d.tomorrowCalculated = false
	d.source = source

	if len(tomorrow) == 0 {
		d.tomorrowValid = false
		// before the publish window this is a normal state; past it the
		// provider should have data, so treat it like a failure
		if d.now().In(d.loc).After(d.refreshAtLocked(d.now())) {
			d.scheduleRetryLocked(ctx, errors.New("tomorrow not published after refresh deadline"))
		} else {
			log.Ctx(ctx).DebugContext(ctx, "tomorrow's prices not published yet, no retry scheduled",
				slog.String("region", d.region.Code))
		}
	} else {
		d.tomorrowValid = true
		d.retryCount = 0
		d.nextRetryDelay = baseRetryMinutes
		d.nextRetryAt = time.Time{}
		if d.retryTimer != nil {
			d.retryTimer.Stop()
			d.retryTimer = nil
		}
	}
	d.mu.Unlock()

	d.Notify()
}

// scheduleRetryLocked applies linear backoff capped at maxRetryMinutes and
// arms a one-shot re-fetch. d.mu must be held.
func (d *Dataset) scheduleRetryLocked(ctx context.Context, cause error) {
	d.retryCount++
	delay := baseRetryMinutes * d.retryCount
	if delay > maxRetryMinutes {
		delay = maxRetryMinutes
	}
	d.nextRetryDelay = delay
	d.nextRetryAt = d.now().Add(time.Duration(delay) * time.Minute)

	log.Ctx(ctx).WarnContext(ctx, "couldn't get spot prices, retrying",
		slog.String("region", d.region.Code),
		slog.Int("retryCount", d.retryCount),
		slog.Int("delayMinutes", delay),
		slog.Time("nextRetry", d.nextRetryAt),
		slog.Any("error", cause))

	if d.retryTimer != nil {
		d.retryTimer.Stop()
	}
	d.retryTimer = time.AfterFunc(time.Duration(delay)*time.Minute, func() {
		d.Fetch(context.Background())
	})
}

// Rollover promotes tomorrow's series to today at local midnight. Retry
// state is left alone so an ongoing backoff continues across the day
// boundary.
func (d *Dataset) Rollover() {
	d.mu.Lock()
	d.todayRaw = d.tomorrowRaw
	d.todayCalc = d.tomorrowCalc
	d.todayCalculated = d.tomorrowCalculated
	d.tomorrowRaw = nil
	d.tomorrowCalc = nil
	d.tomorrowCalculated = false
	d.tomorrowValid = false
	d.mu.Unlock()

	d.Notify()
}

// Today returns the calculated series for today, computing and caching it on
// first use after a fetch or rollover.
func (d *Dataset) Today(ctx context.Context) (types.PriceSeries, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.todayLocked()
}

func (d *Dataset) todayLocked() (types.PriceSeries, error) {
	if d.todayRaw == nil {
		return nil, ErrNoData
	}
	if !d.todayCalculated {
		d.todayCalc = d.calc.CalculateSeries(d.todayRaw)
		d.todayCalculated = true
	}
	return d.todayCalc, nil
}

// Tomorrow returns the calculated series for tomorrow, or ErrNoData while
// tomorrow is not valid.
func (d *Dataset) Tomorrow(ctx context.Context) (types.PriceSeries, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tomorrowLocked()
}

func (d *Dataset) tomorrowLocked() (types.PriceSeries, error) {
	if !d.tomorrowValid || d.tomorrowRaw == nil {
		return nil, ErrNoData
	}
	if !d.tomorrowCalculated {
		d.tomorrowCalc = d.calc.CalculateSeries(d.tomorrowRaw)
		d.tomorrowCalculated = true
	}
	return d.tomorrowCalc, nil
}

// OptimalPeriods finds the cheapest and most expensive windowLen-hour block
// concluding by the deadline, searching today plus tomorrow when valid.
func (d *Dataset) OptimalPeriods(windowLen int, deadline string) (types.OptimalPeriods, error) {
	d.mu.Lock()
	today, err := d.todayLocked()
	if err != nil {
		d.mu.Unlock()
		return types.OptimalPeriods{}, err
	}
	data := append(types.PriceSeries{}, today...)
	if tomorrow, err := d.tomorrowLocked(); err == nil {
		data = append(data, tomorrow...)
	}
	d.mu.Unlock()

	return optimizer.FindOptimalPeriods(data, d.now().In(d.loc), windowLen, deadline, d.decimals)
}

// Status returns a consumer-facing snapshot of the lifecycle state.
func (d *Dataset) Status() types.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return types.Status{
		TomorrowValid: d.tomorrowValid,
		NextRefresh:   d.nextRefreshLocked(),
		NextRetry:     d.nextRetryAt,
		RetryCount:    d.retryCount,
		Source:        d.source,
	}
}

// TomorrowValid reports whether tomorrow's prices have been published and
// fetched for the current day.
func (d *Dataset) TomorrowValid() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tomorrowValid
}

// refreshAtLocked returns today's scheduled refresh instant relative to t.
func (d *Dataset) refreshAtLocked(t time.Time) time.Time {
	local := t.In(d.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), refreshHour, d.refreshMinute, d.refreshSecond, 0, d.loc)
}

// NextRefresh returns the next scheduled afternoon refresh instant.
func (d *Dataset) NextRefresh() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextRefreshLocked()
}

func (d *Dataset) nextRefreshLocked() time.Time {
	now := d.now().In(d.loc)
	at := d.refreshAtLocked(now)
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

// RefreshJitter returns the per-process minute and second offsets of the
// afternoon refresh, for the scheduler's cron spec.
func (d *Dataset) RefreshJitter() (minute, second int) {
	return d.refreshMinute, d.refreshSecond
}

// SetNow overrides the dataset's clock. Only for tests.
func (d *Dataset) SetNow(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Location returns the configured timezone.
func (d *Dataset) Location() *time.Location {
	return d.loc
}

// Decimals returns the configured display precision.
func (d *Dataset) Decimals() int {
	return d.decimals
}

// Subscribe registers a "data changed" listener. The channel carries no
// payload; subscribers re-pull state. Delivery is best-effort: a pending
// notification is never queued twice.
func (d *Dataset) Subscribe() (uuid.UUID, <-chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.New()
	ch := make(chan struct{}, 1)
	d.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a listener.
func (d *Dataset) Unsubscribe(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		delete(d.subscribers, id)
		close(ch)
	}
}

// Notify fans out a "data changed" signal to all subscribers without
// blocking on any of them.
func (d *Dataset) Notify() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close releases pending timers and subscriber channels. The dataset must
// not be used afterwards.
func (d *Dataset) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.retryTimer != nil {
		d.retryTimer.Stop()
		d.retryTimer = nil
	}
	for id, ch := range d.subscribers {
		delete(d.subscribers, id)
		close(ch)
	}
}
