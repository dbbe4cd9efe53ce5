package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/dropday-backend/internal/cron"
	"github.com/angelmondragon/dropday-backend/internal/engine"
	"github.com/angelmondragon/dropday-backend/internal/live"
	"github.com/angelmondragon/dropday-backend/pkg/boot"
	"github.com/angelmondragon/dropday-backend/pkg/metrics"
)

func main() {
	proc := boot.Must("cron-worker")
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger
	ctx, stop := proc.SignalContext()
	defer stop()

	dbClient, err := proc.Database(ctx)
	if err != nil {
		proc.Fail(ctx, "failed to open database", err)
		return
	}
	redisClient, err := proc.Redis(ctx)
	if err != nil {
		proc.Fail(ctx, "failed to open redis", err)
		return
	}

	// Expiry and release events still reach API replicas through the shared
	// channel; the cron worker only publishes.
	broker, err := live.NewRedisBroker(redisClient, cfg.Eventing.LiveChannel, logg)
	if err != nil {
		proc.Fail(ctx, "failed to create live broker", err)
		return
	}

	eng, err := engine.New(engine.Params{
		Config:     cfg,
		DB:         dbClient,
		Live:       broker,
		Registerer: prometheus.DefaultRegisterer,
		Logger:     logg,
	})
	if err != nil {
		proc.Fail(ctx, "failed to build services", err)
		return
	}

	entries, err := schedule(jobsFor(proc, eng)...)
	if err != nil {
		proc.Fail(ctx, "failed to create cron jobs", err)
		return
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(entries...),
		Locks:    cron.RedisLockFactory(redisClient, cfg.Cron.LockTTL),
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		proc.Fail(ctx, "failed to create cron service", err)
		return
	}

	logg.Info(logg.WithField(ctx, "jobs", len(entries)), "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fail(ctx, "cron worker stopped unexpectedly", err)
		return
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}
