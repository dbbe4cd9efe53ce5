// Package engine builds the order lifecycle service graph shared by the API
// and the background workers.
package engine

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/dropday-backend/internal/catalog"
	"github.com/angelmondragon/dropday-backend/internal/checkout"
	"github.com/angelmondragon/dropday-backend/internal/delivery"
	"github.com/angelmondragon/dropday-backend/internal/disputes"
	"github.com/angelmondragon/dropday-backend/internal/escrow"
	"github.com/angelmondragon/dropday-backend/internal/live"
	"github.com/angelmondragon/dropday-backend/internal/notifications"
	"github.com/angelmondragon/dropday-backend/internal/orders"
	"github.com/angelmondragon/dropday-backend/internal/pricing"
	"github.com/angelmondragon/dropday-backend/internal/stock"
	"github.com/angelmondragon/dropday-backend/pkg/config"
	"github.com/angelmondragon/dropday-backend/pkg/db"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/metrics"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
)

// Params wires the engine.
type Params struct {
	Config     *config.Config
	DB         *db.Client
	Live       live.Publisher
	Registerer prometheus.Registerer
	Logger     *logger.Logger
}

// Engine holds every repository and service of the order lifecycle.
type Engine struct {
	Catalog       catalog.Repository
	OrdersRepo    orders.Repository
	OutboxRepo    *outbox.Repository
	DeadLetters   *outbox.DeadLetterRepository
	Calculator    *pricing.Calculator
	Quoter        *pricing.Quoter
	Ledger        *escrow.Ledger
	Stock         stock.Service
	Checkout      checkout.Service
	Orders        orders.Service
	Escrow        escrow.Service
	Delivery      delivery.Service
	Disputes      disputes.Service
	Notifications notifications.Service
}

// New builds the engine. A nil Live publisher disables live updates.
func New(params Params) (*Engine, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("database client required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	conn := params.DB.DB()
	lifecycle := metrics.NewLifecycleMetrics(params.Registerer)

	e := &Engine{
		Catalog:     catalog.NewRepository(conn),
		OrdersRepo:  orders.NewRepository(conn),
		OutboxRepo:  outbox.NewRepository(conn),
		DeadLetters: outbox.NewDeadLetterRepository(conn, metrics.NewOutboxMetrics(params.Registerer)),
	}
	emitter := outbox.NewService(e.OutboxRepo, logg)

	var err error
	if e.Calculator, err = pricing.NewCalculator(params.Config.Pricing, nil); err != nil {
		return nil, fmt.Errorf("pricing calculator: %w", err)
	}
	if e.Quoter, err = pricing.NewQuoter(e.Catalog, e.Calculator); err != nil {
		return nil, fmt.Errorf("pricing quoter: %w", err)
	}

	escrowRepo := escrow.NewRepository(conn)
	if e.Ledger, err = escrow.NewLedger(escrowRepo, emitter, lifecycle, logg); err != nil {
		return nil, fmt.Errorf("escrow ledger: %w", err)
	}
	if e.Stock, err = stock.NewService(stock.NewRepository(conn), e.Catalog, params.DB, logg); err != nil {
		return nil, fmt.Errorf("stock service: %w", err)
	}

	if e.Checkout, err = checkout.NewService(checkout.ServiceParams{
		Orders:     e.OrdersRepo,
		Groups:     checkout.NewRepository(conn),
		Catalog:    e.Catalog,
		Stock:      e.Stock,
		Calculator: e.Calculator,
		Tx:         params.DB,
		Outbox:     emitter,
		Live:       params.Live,
		Metrics:    lifecycle,
		Logger:     logg,
	}); err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	if e.Orders, err = orders.NewService(orders.ServiceParams{
		Repo:    e.OrdersRepo,
		Catalog: e.Catalog,
		Ledger:  e.Ledger,
		Stock:   e.Stock,
		Tx:      params.DB,
		Outbox:  emitter,
		Live:    params.Live,
		Metrics: lifecycle,
		Logger:  logg,
	}); err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	if e.Escrow, err = escrow.NewService(escrow.ServiceParams{
		Ledger:  e.Ledger,
		Repo:    escrowRepo,
		Orders:  e.OrdersRepo,
		Catalog: e.Catalog,
		Tx:      params.DB,
		Outbox:  emitter,
		Live:    params.Live,
		Metrics: lifecycle,
		Logger:  logg,
	}); err != nil {
		return nil, fmt.Errorf("escrow service: %w", err)
	}

	if e.Delivery, err = delivery.NewService(delivery.ServiceParams{
		Repo:    delivery.NewRepository(conn),
		Orders:  e.OrdersRepo,
		Catalog: e.Catalog,
		Escrow:  e.Ledger,
		Tx:      params.DB,
		Outbox:  emitter,
		Live:    params.Live,
		Metrics: lifecycle,
		Logger:  logg,
	}); err != nil {
		return nil, fmt.Errorf("delivery service: %w", err)
	}

	if e.Disputes, err = disputes.NewService(disputes.ServiceParams{
		Repo:    disputes.NewRepository(conn),
		Orders:  e.OrdersRepo,
		Catalog: e.Catalog,
		Escrow:  e.Ledger,
		Stock:   e.Stock,
		Tx:      params.DB,
		Outbox:  emitter,
		Live:    params.Live,
		Metrics: lifecycle,
		Logger:  logg,
	}); err != nil {
		return nil, fmt.Errorf("disputes service: %w", err)
	}

	if e.Notifications, err = notifications.NewService(notifications.NewRepository(conn)); err != nil {
		return nil, fmt.Errorf("notifications service: %w", err)
	}
	return e, nil
}
