package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropday-backend/internal/catalog"
	"github.com/angelmondragon/dropday-backend/internal/escrow"
	"github.com/angelmondragon/dropday-backend/internal/live"
	"github.com/angelmondragon/dropday-backend/internal/notifications"
	"github.com/angelmondragon/dropday-backend/internal/orders"
	"github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/geo"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/metrics"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
)

const defaultFailureReason = "delivery failed"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type escrowReleaser interface {
	Release(ctx context.Context, tx *gorm.DB, input escrow.ReleaseInput) (*models.Payment, error)
}

// AdvanceInput is a rider's status report.
type AdvanceInput struct {
	Status enums.DeliveryStatus
	Reason string
}

// Service runs the delivery state machine.
type Service interface {
	Assign(ctx context.Context, principal auth.Principal, deliveryID uuid.UUID) (*models.Delivery, error)
	Advance(ctx context.Context, principal auth.Principal, deliveryID uuid.UUID, input AdvanceInput) (*models.Delivery, error)
	UpdateLocation(ctx context.Context, principal auth.Principal, deliveryID uuid.UUID, point geo.Point) (*models.Delivery, error)
	ListAvailable(ctx context.Context, principal auth.Principal, params pagination.Params) (*Page, error)
	ListAssigned(ctx context.Context, principal auth.Principal, params pagination.Params) (*Page, error)
}

// ServiceParams wires the delivery service.
type ServiceParams struct {
	Repo    Repository
	Orders  orders.Repository
	Catalog catalog.Repository
	Escrow  escrowReleaser
	Tx      txRunner
	Outbox  outbox.Emitter
	Live    live.Publisher
	Metrics *metrics.LifecycleMetrics
	Logger  *logger.Logger
}

type service struct {
	repo    Repository
	orders  orders.Repository
	catalog catalog.Repository
	escrow  escrowReleaser
	tx      txRunner
	outbox  outbox.Emitter
	live    live.Publisher
	metrics *metrics.LifecycleMetrics
	logg    *logger.Logger
}

// NewService builds the delivery service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("delivery repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.Escrow == nil {
		return nil, fmt.Errorf("escrow ledger required")
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
		repo:    params.Repo,
		orders:  params.Orders,
		catalog: params.Catalog,
		escrow:  params.Escrow,
		tx:      params.Tx,
		outbox:  params.Outbox,
		live:    params.Live,
		metrics: params.Metrics,
		logg:    logg,
	}, nil
}

// Assign lets a rider claim an unassigned delivery of a dispatchable order.
func (s *service) Assign(ctx context.Context, principal auth.Principal, deliveryID uuid.UUID) (*models.Delivery, error) {
	if err := requireRider(principal); err != nil {
		return nil, err
	}
	ctx = s.logg.WithDeliveryID(ctx, deliveryID.String())

	var (
		delivery *models.Delivery
		changed  bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.lock(ctx, repo, deliveryID)
		if err != nil {
			return err
		}
		if current.RiderID != nil {
			if *current.RiderID == principal.UserID && current.Status == enums.DeliveryStatusAssigned {
				delivery = current
				return nil
			}
			s.metrics.Conflict(string(pkgerrors.ReasonAlreadyAssigned))
			return pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonAlreadyAssigned, "delivery already has a rider")
		}
		if current.Status != enums.DeliveryStatusPending {
			return s.invalidTransition(current.Status, enums.DeliveryStatusAssigned)
		}

		order, err := s.orders.WithTx(tx).FindOrder(ctx, current.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if !order.Status.Dispatchable() {
			s.metrics.Conflict(string(pkgerrors.ReasonInvalidTransition))
			return pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonInvalidTransition,
				fmt.Sprintf("order in status %s cannot be dispatched", order.Status))
		}

		now := time.Now().UTC()
		affected, err := repo.Assign(ctx, deliveryID, principal.UserID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign delivery")
		}
		if affected == 0 {
			s.metrics.Conflict(string(pkgerrors.ReasonAlreadyAssigned))
			return pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonAlreadyAssigned, "delivery already has a rider")
		}
		rider := principal.UserID
		current.RiderID = &rider
		current.Status = enums.DeliveryStatusAssigned
		current.AssignedAt = &now
		delivery, changed = current, true

		if err := s.emit(ctx, tx, enums.EventDeliveryAssigned, principal, current, enums.DeliveryStatusPending, ""); err != nil {
			return err
		}
		return s.notify(ctx, tx, principal, order.BuyerID, order, "Rider assigned",
			fmt.Sprintf("A rider is on the way to collect order %s.", order.OrderNumber))
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.DeliveryTransition(string(enums.DeliveryStatusAssigned))
		evt := live.DeliveryEvent(live.EventDeliveryStatus, delivery.OrderID, delivery.ID, string(delivery.Status))
		evt.Rider = delivery.RiderID
		live.Notify(ctx, s.live, s.logg, evt)
		s.logg.Info(ctx, "delivery assigned")
	}
	return delivery, nil
}

// Advance moves the rider's delivery forward. Delivering a paid order whose
// escrow is still held releases it to the seller in the same transaction.
func (s *service) Advance(ctx context.Context, principal auth.Principal, deliveryID uuid.UUID, input AdvanceInput) (*models.Delivery, error) {
	if err := requireRider(principal); err != nil {
		return nil, err
	}
	switch input.Status {
	case enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit, enums.DeliveryStatusDelivered, enums.DeliveryStatusFailed:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status must be PICKED_UP, IN_TRANSIT, DELIVERED or FAILED")
	}
	ctx = s.logg.WithDeliveryID(ctx, deliveryID.String())

	var (
		delivery *models.Delivery
		events   []live.Event
		changed  bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.lock(ctx, repo, deliveryID)
		if err != nil {
			return err
		}
		if current.RiderID == nil || *current.RiderID != principal.UserID {
			return pkgerrors.NewReason(pkgerrors.CodeForbidden, pkgerrors.ReasonNotAssignedRider, "delivery is assigned to another rider")
		}
		if current.Status == input.Status {
			delivery = current
			return nil
		}
		if !current.Status.CanAdvanceTo(input.Status) {
			return s.invalidTransition(current.Status, input.Status)
		}

		from := current.Status
		now := time.Now().UTC()
		extra := map[string]any{}
		reason := ""
		switch input.Status {
		case enums.DeliveryStatusPickedUp:
			extra["picked_up_at"] = now
			current.PickedUpAt = &now
		case enums.DeliveryStatusDelivered:
			extra["delivered_at"] = now
			current.DeliveredAt = &now
		case enums.DeliveryStatusFailed:
			reason = strings.TrimSpace(input.Reason)
			if reason == "" {
				reason = defaultFailureReason
			}
			extra["failed_at"] = now
			extra["failure_reason"] = reason
			current.FailedAt = &now
			current.FailureReason = &reason
		}

		affected, err := repo.Advance(ctx, deliveryID, principal.UserID, from, input.Status, extra)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance delivery")
		}
		if affected == 0 {
			s.metrics.Conflict(string(pkgerrors.ReasonConcurrentUpdate))
			return pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonConcurrentUpdate, "delivery was updated concurrently")
		}
		current.Status = input.Status
		delivery, changed = current, true
		events = append(events, live.DeliveryEvent(live.EventDeliveryStatus, current.OrderID, current.ID, string(current.Status)))

		if err := s.emit(ctx, tx, enums.EventDeliveryStatusChanged, principal, current, from, reason); err != nil {
			return err
		}

		orderEvents, err := s.applyToOrder(ctx, tx, principal, current, now)
		if err != nil {
			return err
		}
		events = append(events, orderEvents...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.DeliveryTransition(string(delivery.Status))
		live.Notify(ctx, s.live, s.logg, events...)
		s.logg.Info(s.logg.WithField(ctx, "delivery_status", string(delivery.Status)), "delivery advanced")
	}
	return delivery, nil
}

// applyToOrder carries a delivery transition over to its order and escrow.
// A disputed order keeps its status and escrow until the dispute is settled.
func (s *service) applyToOrder(ctx context.Context, tx *gorm.DB, principal auth.Principal, delivery *models.Delivery, now time.Time) ([]live.Event, error) {
	repo := s.orders.WithTx(tx)
	order, err := repo.LockOrder(ctx, delivery.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	var events []live.Event
	switch delivery.Status {
	case enums.DeliveryStatusPickedUp:
		if order.Status == enums.OrderStatusDisputed || !order.Status.CanAdvanceTo(enums.OrderStatusOutForDelivery) {
			return nil, nil
		}
		if err := s.moveOrder(ctx, tx, principal, order, enums.OrderStatusOutForDelivery, nil); err != nil {
			return nil, err
		}
		events = append(events, live.OrderEvent(live.EventOrderStatus, order.ID, string(order.Status)))
		return events, s.notify(ctx, tx, principal, order.BuyerID, order, "Order picked up",
			fmt.Sprintf("Order %s is out for delivery.", order.OrderNumber))

	case enums.DeliveryStatusDelivered:
		if order.Status == enums.OrderStatusDisputed {
			affected, err := repo.TransitionStatus(ctx, order.ID, []enums.OrderStatus{enums.OrderStatusDisputed}, enums.OrderStatusDisputed,
				map[string]any{"delivered_at": now})
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record delivery time")
			}
			if affected == 0 {
				return nil, pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonConcurrentUpdate, "order was updated concurrently")
			}
			s.logg.Info(ctx, "delivered order is disputed, escrow stays frozen")
			return nil, nil
		}
		if !order.Status.IsTerminal() {
			if err := s.moveOrder(ctx, tx, principal, order, enums.OrderStatusDelivered, map[string]any{"delivered_at": now}); err != nil {
				return nil, err
			}
			events = append(events, live.OrderEvent(live.EventOrderStatus, order.ID, string(order.Status)))
		}
		if err := s.notify(ctx, tx, principal, order.BuyerID, order, "Order delivered",
			fmt.Sprintf("Order %s was delivered.", order.OrderNumber)); err != nil {
			return nil, err
		}

		payment, err := repo.FindPayment(ctx, order.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if payment.Status != enums.PaymentStatusCompleted || payment.EscrowStatus != enums.EscrowStatusHeld {
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{
				"payment_status": string(payment.Status),
				"escrow_status":  string(payment.EscrowStatus),
			}), "escrow not auto-released")
			return events, nil
		}
		released, err := s.escrow.Release(ctx, tx, escrow.ReleaseInput{
			OrderID: order.ID,
			Reason:  enums.EscrowReasonDeliveryCompleted,
			Actor:   principal,
		})
		if err != nil {
			return nil, err
		}
		events = append(events, live.OrderEvent(live.EventEscrowStatus, order.ID, string(released.EscrowStatus)))
		shop, err := s.catalog.WithTx(tx).FindShop(ctx, order.ShopID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return events, nil
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop")
		}
		return events, s.notifyKind(ctx, tx, principal, shop.OwnerID, order, enums.NotificationTypePaymentUpdate, "Funds released",
			fmt.Sprintf("Payment of %s for order %s was released to you.", released.Amount.StringFixed(2), order.OrderNumber))

	case enums.DeliveryStatusFailed:
		return nil, s.notify(ctx, tx, principal, order.BuyerID, order, "Delivery failed",
			fmt.Sprintf("Delivery of order %s failed. Support will follow up.", order.OrderNumber))
	}
	return nil, nil
}

func (s *service) moveOrder(ctx context.Context, tx *gorm.DB, principal auth.Principal, order *models.Order, to enums.OrderStatus, extra map[string]any) error {
	from := order.Status
	affected, err := s.orders.WithTx(tx).TransitionStatus(ctx, order.ID, []enums.OrderStatus{from}, to, extra)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if affected == 0 {
		s.metrics.Conflict(string(pkgerrors.ReasonConcurrentUpdate))
		return pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonConcurrentUpdate, "order was updated concurrently")
	}
	order.Status = to
	s.metrics.OrderTransition(string(to))
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         principal.Actor(),
		Data: payloads.OrderStatusEvent{
			OrderID: order.ID,
			BuyerID: order.BuyerID,
			ShopID:  order.ShopID,
			From:    from,
			To:      to,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order status event")
	}
	return nil
}

// UpdateLocation records the rider position and streams it to watchers. It
// runs outside a transaction; the latest report wins.
func (s *service) UpdateLocation(ctx context.Context, principal auth.Principal, deliveryID uuid.UUID, point geo.Point) (*models.Delivery, error) {
	if err := requireRider(principal); err != nil {
		return nil, err
	}
	if err := point.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid coordinates")
	}

	now := time.Now().UTC()
	affected, err := s.repo.UpdateLocation(ctx, deliveryID, principal.UserID, point.Lat, point.Lng, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update rider location")
	}
	delivery, err := s.repo.Find(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
	}
	if affected == 0 {
		if delivery.RiderID == nil || *delivery.RiderID != principal.UserID {
			return nil, pkgerrors.NewReason(pkgerrors.CodeForbidden, pkgerrors.ReasonNotAssignedRider, "delivery is assigned to another rider")
		}
		return nil, pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonInvalidTransition,
			fmt.Sprintf("location cannot be reported while delivery is %s", delivery.Status))
	}

	evt := live.DeliveryEvent(live.EventDeliveryLocation, delivery.OrderID, delivery.ID, string(delivery.Status))
	evt.Rider = delivery.RiderID
	evt.Lat, evt.Lon = &point.Lat, &point.Lng
	live.Notify(ctx, s.live, s.logg, evt)
	return delivery, nil
}

func (s *service) ListAvailable(ctx context.Context, principal auth.Principal, params pagination.Params) (*Page, error) {
	if err := requireRider(principal); err != nil {
		return nil, err
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	page, err := s.repo.ListAvailable(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list available deliveries")
	}
	return page, nil
}

func (s *service) ListAssigned(ctx context.Context, principal auth.Principal, params pagination.Params) (*Page, error) {
	if err := requireRider(principal); err != nil {
		return nil, err
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	page, err := s.repo.ListAssigned(ctx, principal.UserID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list assigned deliveries")
	}
	return page, nil
}

func (s *service) lock(ctx context.Context, repo Repository, deliveryID uuid.UUID) (*models.Delivery, error) {
	delivery, err := repo.Lock(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
	}
	return delivery, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, principal auth.Principal, delivery *models.Delivery, from enums.DeliveryStatus, reason string) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateDelivery,
		AggregateID:   delivery.ID,
		Actor:         principal.Actor(),
		Data: payloads.DeliveryEvent{
			DeliveryID: delivery.ID,
			OrderID:    delivery.OrderID,
			RiderID:    delivery.RiderID,
			From:       from,
			To:         delivery.Status,
			Reason:     reason,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit delivery event")
	}
	return nil
}

func (s *service) notify(ctx context.Context, tx *gorm.DB, principal auth.Principal, recipient uuid.UUID, order *models.Order, title, message string) error {
	return s.notifyKind(ctx, tx, principal, recipient, order, enums.NotificationTypeDeliveryUpdate, title, message)
}

func (s *service) notifyKind(ctx context.Context, tx *gorm.DB, principal auth.Principal, recipient uuid.UUID, order *models.Order, kind enums.NotificationType, title, message string) error {
	err := notifications.Request(ctx, tx, s.outbox, principal.Actor(), payloads.NotificationRequestedEvent{
		RecipientID: recipient,
		OrderID:     &order.ID,
		Type:        kind,
		Title:       title,
		Message:     message,
		Link:        notifications.OrderLink(order.ID),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue notification")
	}
	return nil
}

func (s *service) invalidTransition(from, to enums.DeliveryStatus) error {
	s.metrics.Conflict(string(pkgerrors.ReasonInvalidTransition))
	return pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonInvalidTransition,
		fmt.Sprintf("delivery cannot move from %s to %s", from, to),
		map[string]any{"from": from, "to": to})
}

func requireRider(principal auth.Principal) error {
	if principal.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "rider identity missing")
	}
	if !principal.Has(enums.RoleRider) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "rider role required")
	}
	return nil
}
