package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropday-backend/internal/catalog"
	"github.com/angelmondragon/dropday-backend/internal/live"
	"github.com/angelmondragon/dropday-backend/internal/notifications"
	"github.com/angelmondragon/dropday-backend/internal/orders"
	"github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/metrics"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes the escrow boundary operations.
type Service interface {
	AdminRelease(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*models.Payment, error)
	AutoRelease(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	History(ctx context.Context, principal auth.Principal, orderID uuid.UUID) ([]models.EscrowEvent, error)
}

// ServiceParams wires the escrow service.
type ServiceParams struct {
	Ledger  *Ledger
	Repo    Repository
	Orders  orders.Repository
	Catalog catalog.Repository
	Tx      txRunner
	Outbox  outbox.Emitter
	Live    live.Publisher
	Metrics *metrics.LifecycleMetrics
	Logger  *logger.Logger
}

type service struct {
	ledger  *Ledger
	repo    Repository
	orders  orders.Repository
	catalog catalog.Repository
	tx      txRunner
	outbox  outbox.Emitter
	live    live.Publisher
	metrics *metrics.LifecycleMetrics
	logg    *logger.Logger
}

// NewService builds the escrow service.
func NewService(params ServiceParams) (Service, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("escrow ledger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("escrow repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		ledger:  params.Ledger,
		repo:    params.Repo,
		orders:  params.Orders,
		catalog: params.Catalog,
		tx:      params.Tx,
		outbox:  params.Outbox,
		live:    params.Live,
		metrics: params.Metrics,
		logg:    logg,
	}, nil
}

// AdminRelease pays out a delivered order on an administrator's request.
func (s *service) AdminRelease(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*models.Payment, error) {
	if !principal.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	return s.release(ctx, principal, orderID, enums.EscrowReasonAdminManual)
}

// AutoRelease pays out a delivered order from the scheduled sweep.
func (s *service) AutoRelease(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return s.release(ctx, auth.SystemPrincipal(), orderID, enums.EscrowReasonAutoSweep)
}

func (s *service) release(ctx context.Context, principal auth.Principal, orderID uuid.UUID, reason enums.EscrowReason) (*models.Payment, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	var (
		payment       *models.Payment
		statusChanged bool
		noop          bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		order, err := repo.LockOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		delivery, err := repo.FindDelivery(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
		}
		if delivery.Status != enums.DeliveryStatusDelivered {
			s.metrics.Conflict(string(pkgerrors.ReasonNotDelivered))
			return pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonNotDelivered,
				"escrow can only be released after delivery")
		}

		current, err := s.repo.WithTx(tx).LockPayment(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if current.EscrowStatus == enums.EscrowStatusReleased {
			payment, noop = current, true
			return nil
		}

		payment, err = s.ledger.Release(ctx, tx, ReleaseInput{OrderID: orderID, Reason: reason, Actor: principal})
		if err != nil {
			return err
		}

		if order.Status != enums.OrderStatusDelivered && !order.Status.IsTerminal() {
			deliveredAt := order.DeliveredAt
			if deliveredAt == nil {
				deliveredAt = delivery.DeliveredAt
			}
			if deliveredAt == nil {
				now := time.Now().UTC()
				deliveredAt = &now
			}
			affected, err := repo.TransitionStatus(ctx, orderID, []enums.OrderStatus{order.Status}, enums.OrderStatusDelivered,
				map[string]any{"delivered_at": *deliveredAt})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
			}
			if affected == 0 {
				return pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonConcurrentUpdate, "order was updated concurrently")
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderStatusChanged,
				AggregateType: enums.AggregateOrder,
				AggregateID:   orderID,
				Actor:         principal.Actor(),
				Data: payloads.OrderStatusEvent{
					OrderID: orderID,
					BuyerID: order.BuyerID,
					ShopID:  order.ShopID,
					From:    order.Status,
					To:      enums.OrderStatusDelivered,
					Reason:  string(reason),
				},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order status event")
			}
			statusChanged = true
		}

		shop, err := s.catalog.WithTx(tx).FindShop(ctx, order.ShopID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop")
		}
		return notifications.Request(ctx, tx, s.outbox, principal.Actor(), payloads.NotificationRequestedEvent{
			RecipientID: shop.OwnerID,
			OrderID:     &order.ID,
			Type:        enums.NotificationTypePaymentUpdate,
			Title:       "Funds released",
			Message:     fmt.Sprintf("Payment of %s for order %s was released to you.", payment.Amount.StringFixed(2), order.OrderNumber),
			Link:        notifications.OrderLink(order.ID),
		})
	})
	if err != nil {
		return nil, err
	}
	if noop {
		return payment, nil
	}

	events := []live.Event{live.OrderEvent(live.EventEscrowStatus, orderID, string(payment.EscrowStatus))}
	if statusChanged {
		s.metrics.OrderTransition(string(enums.OrderStatusDelivered))
		events = append(events, live.OrderEvent(live.EventOrderStatus, orderID, string(enums.OrderStatusDelivered)))
	}
	live.Notify(ctx, s.live, s.logg, events...)
	s.logg.Info(s.logg.WithField(ctx, "reason", string(reason)), "escrow released")
	return payment, nil
}

// History returns the escrow audit trail of an order.
func (s *service) History(ctx context.Context, principal auth.Principal, orderID uuid.UUID) ([]models.EscrowEvent, error) {
	if !principal.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	events, err := s.repo.ListEvents(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list escrow events")
	}
	return events, nil
}
