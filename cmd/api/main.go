package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/dropday-backend/api/controllers"
	"github.com/angelmondragon/dropday-backend/api/routes"
	"github.com/angelmondragon/dropday-backend/internal/engine"
	"github.com/angelmondragon/dropday-backend/internal/live"
	"github.com/angelmondragon/dropday-backend/pkg/boot"
	"github.com/angelmondragon/dropday-backend/pkg/env"
)

const shutdownTimeout = 15 * time.Second

func main() {
	proc := boot.Must("api")
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

	broker, err := live.NewRedisBroker(redisClient, cfg.Eventing.LiveChannel, logg)
	if err != nil {
		proc.Fail(ctx, "failed to create live broker", err)
		return
	}
	go func() {
		if err := broker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "live relay stopped", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eng, err := engine.New(engine.Params{
		Config:     cfg,
		DB:         dbClient,
		Live:       broker,
		Registerer: registry,
		Logger:     logg,
	})
	if err != nil {
		proc.Fail(ctx, "failed to build services", err)
		return
	}

	handler := routes.NewRouter(cfg, logg, registry, redisClient,
		map[string]controllers.Pinger{"db": dbClient, "redis": redisClient},
		routes.Services{
			Quoter:        eng.Quoter,
			Checkout:      eng.Checkout,
			Orders:        eng.Orders,
			Stock:         eng.Stock,
			Escrow:        eng.Escrow,
			Delivery:      eng.Delivery,
			Disputes:      eng.Disputes,
			Notifications: eng.Notifications,
			Live:          broker,
			DeadLetters:   eng.DeadLetters,
		})

	addr := ":" + env.Get("PORT", cfg.App.Port)
	ctx = logg.WithField(ctx, "addr", addr)
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Live streams end with the signal context instead of holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			proc.Fail(ctx, "api server stopped unexpectedly", err)
			return
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "graceful shutdown failed", err)
		}
	}
}
