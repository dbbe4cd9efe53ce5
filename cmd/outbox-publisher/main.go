package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/dropday-backend/pkg/boot"
	"github.com/angelmondragon/dropday-backend/pkg/metrics"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/registry"
)

func main() {
	proc := boot.Must("outbox-publisher")
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger
	ctx, stop := proc.SignalContext()
	defer stop()

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub, registry.DomainDecoders())
	if err != nil {
		proc.Fail(ctx, "failed to build event registry", err)
		return
	}

	dbClient, err := proc.Database(ctx)
	if err != nil {
		proc.Fail(ctx, "failed to open database", err)
		return
	}
	pubsubClient, err := proc.PubSub(ctx)
	if err != nil {
		proc.Fail(ctx, "failed to open pubsub", err)
		return
	}

	// Publishing to a topic that was never provisioned fails every attempt
	// and walks each row into the dead-letter table.
	routes := logg.WithFields(ctx, map[string]any{
		"topics":  eventRegistry.Topics(),
		"ordered": cfg.PubSub.OrderedDelivery,
	})
	if err := pubsubClient.VerifyTopics(ctx, eventRegistry.Topics()...); err != nil {
		proc.Fail(routes, "outbox topics missing", err)
		return
	}
	logg.Info(routes, "outbox routes loaded")

	outboxMetrics := metrics.NewOutboxMetrics(prometheus.DefaultRegisterer)
	service, err := NewService(ServiceParams{
		Config:      cfg,
		Logger:      logg,
		DB:          dbClient,
		PubSub:      pubsubClient,
		Repository:  outbox.NewRepository(dbClient.DB()),
		Registry:    eventRegistry,
		DeadLetters: outbox.NewDeadLetterRepository(dbClient.DB(), outboxMetrics),
		Metrics:     outboxMetrics,
	})
	if err != nil {
		proc.Fail(ctx, "failed to create outbox publisher", err)
		return
	}

	logg.Info(ctx, "starting outbox publisher")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fail(ctx, "outbox publisher stopped unexpectedly", err)
		return
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}
