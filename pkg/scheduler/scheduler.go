// Package scheduler drives the dataset's time-based transitions: the hourly
// tick, the midnight rollover and the jittered afternoon refresh. It owns no
// price state itself; every job delegates to the dataset.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bendikrb/energidataservice/pkg/dataset"
	"github.com/bendikrb/energidataservice/pkg/log"
	"github.com/robfig/cron/v3"
)

// Scheduler runs the dataset's cron jobs in the dataset's timezone.
type Scheduler struct {
	cron *cron.Cron
	ds   *dataset.Dataset
}

// New builds a Scheduler around ds. Jobs are registered but not started
// until Run.
func New(ds *dataset.Dataset) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(cron.WithSeconds(), cron.WithLocation(ds.Location())),
		ds:   ds,
	}

	// top of every local hour: "current price" consumers re-read
	if _, err := s.cron.AddFunc("0 0 * * * *", func() {
		s.ds.Notify()
	}); err != nil {
		return nil, fmt.Errorf("register hourly tick: %w", err)
	}

	// local midnight: tomorrow becomes today
	if _, err := s.cron.AddFunc("0 0 0 * * *", func() {
		log.Ctx(context.Background()).Info("midnight rollover")
		s.ds.Rollover()
	}); err != nil {
		return nil, fmt.Errorf("register rollover: %w", err)
	}

	// afternoon refresh at 13:MM:SS, offset by the dataset's per-process
	// jitter so instances don't stampede the provider
	minute, second := ds.RefreshJitter()
	spec := fmt.Sprintf("%d %d 13 * * *", second, minute)
	if _, err := s.cron.AddFunc(spec, func() {
		log.Ctx(context.Background()).Info("afternoon refresh", slog.String("spec", spec))
		s.ds.Fetch(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("register refresh: %w", err)
	}

	return s, nil
}

// Run starts the cron loop and blocks until ctx is canceled. Jobs already
// running are allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Ctx(ctx).InfoContext(ctx, "scheduler started",
		slog.String("timezone", s.ds.Location().String()),
		slog.Time("nextRefresh", s.ds.NextRefresh()))
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	log.Ctx(ctx).InfoContext(ctx, "scheduler stopped")
	return nil
}
