package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/dropday-backend/api/controllers"
	disputecontrollers "github.com/angelmondragon/dropday-backend/api/controllers/disputes"
	ordercontrollers "github.com/angelmondragon/dropday-backend/api/controllers/orders"
	"github.com/angelmondragon/dropday-backend/api/middleware"
	"github.com/angelmondragon/dropday-backend/internal/checkout"
	"github.com/angelmondragon/dropday-backend/internal/delivery"
	"github.com/angelmondragon/dropday-backend/internal/disputes"
	"github.com/angelmondragon/dropday-backend/internal/escrow"
	"github.com/angelmondragon/dropday-backend/internal/live"
	"github.com/angelmondragon/dropday-backend/internal/notifications"
	"github.com/angelmondragon/dropday-backend/internal/orders"
	"github.com/angelmondragon/dropday-backend/internal/stock"
	"github.com/angelmondragon/dropday-backend/pkg/config"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
)

// RequestStore backs request idempotency and rate limiting.
type RequestStore interface {
	middleware.ReplayStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Services bundles the domain services exposed over HTTP.
type Services struct {
	Quoter        controllers.CartQuoter
	Checkout      checkout.Service
	Orders        orders.Service
	Stock         stock.Service
	Escrow        escrow.Service
	Delivery      delivery.Service
	Disputes      disputes.Service
	Notifications notifications.Service
	Live          live.Broker
	DeadLetters   controllers.DeadLetterStore
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	gatherer prometheus.Gatherer,
	store RequestStore,
	pingers map[string]controllers.Pinger,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, pingers))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	locationPolicy := middleware.NewRateLimitPolicy("rider_location", time.Minute, cfg.Delivery.LocationUpdatesPerMinute)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(store, logg))

		r.Get("/live", controllers.LiveStream(svc.Live, svc.Orders, logg))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(svc.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(svc.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(svc.Notifications, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleBuyer))
			r.Post("/cart/quote", controllers.CartQuote(svc.Quoter, logg))
			r.Post("/checkout", controllers.Checkout(svc.Checkout, logg))
			r.Get("/checkout/{groupId}", controllers.CheckoutGroup(svc.Checkout, logg))
			r.Get("/orders", ordercontrollers.BuyerList(svc.Orders, logg))
			r.Post("/orders/{orderId}/cancel", ordercontrollers.Cancel(svc.Orders, logg))
			r.Post("/orders/{orderId}/dispute", disputecontrollers.Open(svc.Disputes, logg))
		})

		// Any party to the order; ownership is checked by the services.
		r.Get("/orders/{orderId}", ordercontrollers.Detail(svc.Orders, logg))
		r.Get("/orders/{orderId}/escrow", controllers.EscrowHistory(svc.Escrow, logg))
		r.Get("/disputes", disputecontrollers.ListMine(svc.Disputes, logg))
		r.Get("/disputes/{disputeId}", disputecontrollers.Get(svc.Disputes, logg))
		r.Post("/disputes/{disputeId}/notes", disputecontrollers.AddNotes(svc.Disputes, logg))

		r.Route("/seller", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleSeller))
			r.Get("/orders", ordercontrollers.SellerList(svc.Orders, logg))
			r.Post("/orders/{orderId}/status", ordercontrollers.SellerUpdateStatus(svc.Orders, logg))
			r.Patch("/stock/{pricingUnitId}", controllers.StockUpdate(svc.Stock, logg))
			r.Get("/stock/{pricingUnitId}/history", controllers.StockHistory(svc.Stock, logg))
		})

		r.Route("/rider/deliveries", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleRider))
			r.Get("/available", controllers.RiderAvailable(svc.Delivery, logg))
			r.Get("/assigned", controllers.RiderAssigned(svc.Delivery, logg))
			r.Post("/{deliveryId}/assign", controllers.RiderAssign(svc.Delivery, logg))
			r.Post("/{deliveryId}/status", controllers.RiderAdvance(svc.Delivery, logg))
			r.With(middleware.RateLimit(locationPolicy, store, logg)).
				Post("/{deliveryId}/location", controllers.RiderLocation(svc.Delivery, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
		r.Use(middleware.Idempotency(store, logg))

		r.Post("/orders/{orderId}/confirm-payment", ordercontrollers.AdminConfirmPayment(svc.Orders, logg))
		r.Post("/orders/{orderId}/cancel", ordercontrollers.Cancel(svc.Orders, logg))
		r.Post("/escrow/{orderId}/release", controllers.AdminEscrowRelease(svc.Escrow, logg))

		r.Route("/disputes", func(r chi.Router) {
			r.Get("/", disputecontrollers.AdminQueue(svc.Disputes, logg))
			r.Post("/{disputeId}/review", disputecontrollers.AdminReview(svc.Disputes, logg))
			r.Post("/{disputeId}/resolve", disputecontrollers.AdminResolve(svc.Disputes, logg))
			r.Post("/{disputeId}/close", disputecontrollers.AdminClose(svc.Disputes, logg))
		})

		r.Get("/outbox/dead-letters", controllers.AdminDeadLetters(svc.DeadLetters, logg))
		r.Post("/outbox/dead-letters/{deadLetterId}/replay", controllers.AdminReplayDeadLetter(svc.DeadLetters, logg))
	})

	return r
}
