package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bendikrb/energidataservice/pkg/connector"
	"github.com/bendikrb/energidataservice/pkg/dataset"
	"github.com/bendikrb/energidataservice/pkg/log"
	"github.com/bendikrb/energidataservice/pkg/scheduler"
	"github.com/bendikrb/energidataservice/pkg/server"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	// optional .env for local development, flags can come from the environment
	_ = godotenv.Load()

	// init packages
	chain := connector.Configured()
	ds := dataset.Configured(chain)

	// init server
	srv := server.Configured(ds)

	// parse flags
	lflag.Configure()

	log.ConfigureDefault()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer ds.Close()

	sched, err := scheduler.New(ds)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to set up scheduler", "error", err)
		os.Exit(1)
	}

	// prime the dataset so the first requests don't have to fetch on demand
	ds.Fetch(ctx)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return srv.Run(ctx) })
	group.Go(func() error { return sched.Run(ctx) })

	if err := group.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
