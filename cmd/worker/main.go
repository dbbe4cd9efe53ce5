package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/dropday-backend/internal/notifications"
	"github.com/angelmondragon/dropday-backend/pkg/boot"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/idempotency"
)

func main() {
	proc := boot.Must("worker")
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
	pubsubClient, err := proc.PubSub(ctx)
	if err != nil {
		proc.Fail(ctx, "failed to open pubsub", err)
		return
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		proc.Fail(ctx, "failed to create idempotency manager", err)
		return
	}
	notificationConsumer, err := notifications.NewConsumer(
		notifications.NewRepository(dbClient.DB()),
		pubsubClient.NotificationSubscription(),
		manager,
		logg,
	)
	if err != nil {
		proc.Fail(ctx, "failed to create notification consumer", err)
		return
	}

	service, err := NewService(ServiceParams{
		Config:    cfg,
		Logger:    logg,
		DB:        dbClient,
		Redis:     redisClient,
		PubSub:    pubsubClient,
		Consumers: map[string]consumer{"notifications": notificationConsumer},
	})
	if err != nil {
		proc.Fail(ctx, "failed to create worker service", err)
		return
	}

	logg.Info(ctx, "starting worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fail(ctx, "worker stopped unexpectedly", err)
		return
	}
	logg.Info(ctx, "worker shutting down gracefully")
}
