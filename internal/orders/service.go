package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropday-backend/internal/catalog"
	"github.com/angelmondragon/dropday-backend/internal/live"
	"github.com/angelmondragon/dropday-backend/internal/notifications"
	"github.com/angelmondragon/dropday-backend/internal/stock"
	"github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/metrics"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
)

const expiredReason = "payment window expired"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PaymentLedger is the slice of the escrow ledger orders depend on.
type PaymentLedger interface {
	MarkCompleted(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor auth.Principal) (*models.Payment, error)
	RefundFull(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason enums.EscrowReason, actor auth.Principal) (*models.Payment, error)
}

// StockAdjuster returns stock to the ledger when an order is cancelled.
type StockAdjuster interface {
	Adjust(ctx context.Context, tx *gorm.DB, input stock.AdjustInput) (*stock.AdjustResult, error)
}

// Service defines order-level operations beyond checkout.
type Service interface {
	ConfirmPayment(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*models.Order, error)
	SellerUpdateStatus(ctx context.Context, principal auth.Principal, orderID uuid.UUID, status enums.OrderStatus) (*models.Order, error)
	Cancel(ctx context.Context, principal auth.Principal, orderID uuid.UUID, reason string) (*models.Order, error)
	ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error)
	ListForBuyer(ctx context.Context, principal auth.Principal, params pagination.Params, filters ListFilters) (*OrderList, error)
	ListForSeller(ctx context.Context, principal auth.Principal, params pagination.Params, filters ListFilters) (*OrderList, error)
	Detail(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*OrderDetail, error)
}

// ServiceParams wires the orders service.
type ServiceParams struct {
	Repo    Repository
	Catalog catalog.Repository
	Ledger  PaymentLedger
	Stock   StockAdjuster
	Tx      txRunner
	Outbox  outbox.Emitter
	Live    live.Publisher
	Metrics *metrics.LifecycleMetrics
	Logger  *logger.Logger
}

type service struct {
	repo    Repository
	catalog catalog.Repository
	ledger  PaymentLedger
	stock   StockAdjuster
	tx      txRunner
	outbox  outbox.Emitter
	live    live.Publisher
	metrics *metrics.LifecycleMetrics
	logg    *logger.Logger
}

// NewService builds the orders service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("payment ledger required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock adjuster required")
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
		catalog: params.Catalog,
		ledger:  params.Ledger,
		stock:   params.Stock,
		tx:      params.Tx,
		outbox:  params.Outbox,
		live:    params.Live,
		metrics: params.Metrics,
		logg:    logg,
	}, nil
}

// ConfirmPayment records the gateway confirmation: the payment completes and
// the order becomes PAID.
func (s *service) ConfirmPayment(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*models.Order, error) {
	if !principal.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment confirmation requires admin or system")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	var (
		order   *models.Order
		changed bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = s.lockOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusPending {
			payment, err := repo.FindPayment(ctx, orderID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
			}
			if payment.Status != enums.PaymentStatusPending && order.Status != enums.OrderStatusCancelled {
				return nil
			}
			return s.invalidTransition(order.Status, enums.OrderStatusPaid)
		}

		if _, err := s.ledger.MarkCompleted(ctx, tx, orderID, principal); err != nil {
			return err
		}
		if err := s.transition(ctx, tx, order, enums.OrderStatusPaid, enums.EventOrderPaid, principal, "", nil); err != nil {
			return err
		}
		changed = true

		shop, err := s.shop(ctx, tx, order.ShopID)
		if err != nil {
			return err
		}
		if err := s.notify(ctx, tx, principal, order.BuyerID, order, enums.NotificationTypePaymentUpdate,
			"Payment confirmed", fmt.Sprintf("Payment for order %s was confirmed.", order.OrderNumber)); err != nil {
			return err
		}
		if shop == nil {
			return nil
		}
		return s.notify(ctx, tx, principal, shop.OwnerID, order, enums.NotificationTypeOrderAlert,
			"Order paid", fmt.Sprintf("Order %s is paid and ready to prepare.", order.OrderNumber))
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.published(ctx, order)
	}
	return order, nil
}

// SellerUpdateStatus moves a paid order forward through preparation.
func (s *service) SellerUpdateStatus(ctx context.Context, principal auth.Principal, orderID uuid.UUID, status enums.OrderStatus) (*models.Order, error) {
	if status != enums.OrderStatusPreparing && status != enums.OrderStatusReadyForPickup {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status must be PREPARING or READY_FOR_PICKUP")
	}
	if !principal.Has(enums.RoleSeller) && !principal.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "seller role required")
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	var (
		order   *models.Order
		changed bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.lockOrder(ctx, s.repo.WithTx(tx), orderID)
		if err != nil {
			return err
		}
		if !principal.IsAdmin() {
			shop, err := s.shop(ctx, tx, order.ShopID)
			if err != nil {
				return err
			}
			if shop == nil || shop.OwnerID != principal.UserID {
				return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another shop")
			}
		}
		if order.Status == status {
			return nil
		}
		if order.Status != enums.OrderStatusPaid && order.Status != enums.OrderStatusPreparing {
			return s.invalidTransition(order.Status, status)
		}
		if !order.Status.CanAdvanceTo(status) {
			return s.invalidTransition(order.Status, status)
		}
		if err := s.transition(ctx, tx, order, status, enums.EventOrderStatusChanged, principal, "", nil); err != nil {
			return err
		}
		changed = true

		title := "Order is being prepared"
		if status == enums.OrderStatusReadyForPickup {
			title = "Order ready for pickup"
		}
		return s.notify(ctx, tx, principal, order.BuyerID, order, enums.NotificationTypeOrderAlert,
			title, fmt.Sprintf("Order %s is now %s.", order.OrderNumber, status))
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.published(ctx, order)
	}
	return order, nil
}

// Cancel cancels an order before pickup: escrow is refunded, the delivery
// fails and stock returns to the ledger.
func (s *service) Cancel(ctx context.Context, principal auth.Principal, orderID uuid.UUID, reason string) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by request"
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.cancel(ctx, tx, principal, orderID, reason, enums.EventOrderCancelled)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, order)
	return order, nil
}

// ExpirePending cancels unpaid orders created before cutoff and reports how
// many were expired. Each order is expired in its own transaction.
func (s *service) ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	candidates, err := s.repo.FindPendingOrdersBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find pending orders")
	}

	expired := 0
	for _, candidate := range candidates {
		orderCtx := s.logg.WithOrderID(ctx, candidate.ID.String())
		var order *models.Order
		err := s.tx.WithTx(orderCtx, func(tx *gorm.DB) error {
			var err error
			order, err = s.cancel(orderCtx, tx, auth.SystemPrincipal(), candidate.ID, expiredReason, enums.EventOrderExpired)
			return err
		})
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				continue
			}
			s.logg.Error(orderCtx, "expire pending order failed", err)
			continue
		}
		s.published(orderCtx, order)
		expired++
	}
	return expired, nil
}

func (s *service) cancel(ctx context.Context, tx *gorm.DB, principal auth.Principal, orderID uuid.UUID, reason string, eventType enums.OutboxEventType) (*models.Order, error) {
	repo := s.repo.WithTx(tx)
	order, err := s.lockOrder(ctx, repo, orderID)
	if err != nil {
		return nil, err
	}

	switch {
	case principal.IsAdmin():
	case principal.Has(enums.RoleBuyer) && order.BuyerID == principal.UserID:
		if order.Status != enums.OrderStatusPending && order.Status != enums.OrderStatusPaid {
			return nil, s.invalidTransition(order.Status, enums.OrderStatusCancelled)
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer or an admin may cancel an order")
	}

	if eventType == enums.EventOrderExpired && order.Status != enums.OrderStatusPending {
		return nil, s.invalidTransition(order.Status, enums.OrderStatusCancelled)
	}

	delivery, err := repo.FindDelivery(ctx, orderID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
	}
	// An admin settles a failed delivery by cancelling, even after pickup.
	failed := principal.IsAdmin() && delivery != nil && delivery.Status == enums.DeliveryStatusFailed

	switch order.Status {
	case enums.OrderStatusPending, enums.OrderStatusPaid, enums.OrderStatusPreparing, enums.OrderStatusReadyForPickup:
	case enums.OrderStatusOutForDelivery:
		if !failed {
			return nil, s.invalidTransition(order.Status, enums.OrderStatusCancelled)
		}
	default:
		return nil, s.invalidTransition(order.Status, enums.OrderStatusCancelled)
	}
	if delivery != nil && !failed && delivery.Status != enums.DeliveryStatusPending && delivery.Status != enums.DeliveryStatusAssigned {
		return nil, s.invalidTransition(order.Status, enums.OrderStatusCancelled)
	}

	now := time.Now().UTC()
	if err := s.transition(ctx, tx, order, enums.OrderStatusCancelled, eventType, principal, reason, map[string]any{
		"cancelled_at":  now,
		"cancel_reason": reason,
	}); err != nil {
		return nil, err
	}
	order.CancelledAt = &now
	order.CancelReason = &reason

	if _, err := s.ledger.RefundFull(ctx, tx, orderID, enums.EscrowReasonOrderCancelled, principal); err != nil {
		return nil, err
	}
	if _, err := repo.FailDelivery(ctx, orderID, reason); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail delivery")
	}

	items, err := repo.FindItems(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
	}
	note := "order " + order.OrderNumber + " cancelled"
	for _, item := range items {
		if _, err := s.stock.Adjust(ctx, tx, stock.AdjustInput{
			PricingUnitID:  item.PricingUnitID,
			Delta:          item.Quantity,
			ChangeType:     enums.StockChangeOrderCancelled,
			RelatedOrderID: &order.ID,
			Note:           &note,
			ActorUserID:    principal.ActorID(),
		}); err != nil {
			if pkgerrors.HasReason(err, pkgerrors.CodeNotFound, pkgerrors.ReasonUnitNotFound) {
				s.logg.Warn(s.logg.WithField(ctx, "pricing_unit_id", item.PricingUnitID.String()), "restock skipped for removed unit")
				continue
			}
			return nil, err
		}
	}

	message := fmt.Sprintf("Order %s was cancelled: %s.", order.OrderNumber, reason)
	if order.BuyerID != principal.UserID || principal.System {
		if err := s.notify(ctx, tx, principal, order.BuyerID, order, enums.NotificationTypeOrderAlert, "Order cancelled", message); err != nil {
			return nil, err
		}
	}
	shop, err := s.shop(ctx, tx, order.ShopID)
	if err != nil {
		return nil, err
	}
	if shop != nil {
		if err := s.notify(ctx, tx, principal, shop.OwnerID, order, enums.NotificationTypeOrderAlert, "Order cancelled", message); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (s *service) ListForBuyer(ctx context.Context, principal auth.Principal, params pagination.Params, filters ListFilters) (*OrderList, error) {
	if principal.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if err := validateCursor(params); err != nil {
		return nil, err
	}
	list, err := s.repo.ListBuyerOrders(ctx, principal.UserID, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list buyer orders")
	}
	return list, nil
}

func (s *service) ListForSeller(ctx context.Context, principal auth.Principal, params pagination.Params, filters ListFilters) (*OrderList, error) {
	if !principal.Has(enums.RoleSeller) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "seller role required")
	}
	if err := validateCursor(params); err != nil {
		return nil, err
	}
	list, err := s.repo.ListSellerOrders(ctx, principal.UserID, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list seller orders")
	}
	return list, nil
}

// Detail returns the order to its buyer, its seller, the assigned rider or
// an admin.
func (s *service) Detail(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*OrderDetail, error) {
	detail, err := s.repo.FindOrderDetail(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if principal.IsAdmin() || detail.BuyerID == principal.UserID {
		return detail, nil
	}
	if detail.Delivery != nil && detail.Delivery.RiderID != nil && *detail.Delivery.RiderID == principal.UserID {
		return detail, nil
	}
	if principal.Has(enums.RoleSeller) {
		shop, err := s.shop(ctx, nil, detail.ShopID)
		if err != nil {
			return nil, err
		}
		if shop != nil && shop.OwnerID == principal.UserID {
			return detail, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

func (s *service) lockOrder(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.LockOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// transition applies a guarded status change and queues its outbox event.
func (s *service) transition(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, eventType enums.OutboxEventType, principal auth.Principal, reason string, extra map[string]any) error {
	from := order.Status
	affected, err := s.repo.WithTx(tx).TransitionStatus(ctx, order.ID, []enums.OrderStatus{from}, to, extra)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if affected == 0 {
		s.metrics.Conflict(string(pkgerrors.ReasonConcurrentUpdate))
		return pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonConcurrentUpdate, "order was updated concurrently")
	}
	order.Status = to

	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         principal.Actor(),
		Data: payloads.OrderStatusEvent{
			OrderID: order.ID,
			BuyerID: order.BuyerID,
			ShopID:  order.ShopID,
			From:    from,
			To:      to,
			Reason:  reason,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order event")
	}
	return nil
}

func (s *service) shop(ctx context.Context, tx *gorm.DB, shopID uuid.UUID) (*models.Shop, error) {
	shop, err := s.catalog.WithTx(tx).FindShop(ctx, shopID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop")
	}
	return shop, nil
}

func (s *service) notify(ctx context.Context, tx *gorm.DB, principal auth.Principal, recipient uuid.UUID, order *models.Order, kind enums.NotificationType, title, message string) error {
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

func (s *service) published(ctx context.Context, order *models.Order) {
	s.metrics.OrderTransition(string(order.Status))
	live.Notify(ctx, s.live, s.logg, live.OrderEvent(live.EventOrderStatus, order.ID, string(order.Status)))
}

func (s *service) invalidTransition(from, to enums.OrderStatus) error {
	s.metrics.Conflict(string(pkgerrors.ReasonInvalidTransition))
	return pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonInvalidTransition,
		fmt.Sprintf("order cannot move from %s to %s", from, to),
		map[string]any{"from": from, "to": to})
}

func validateCursor(params pagination.Params) error {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	return nil
}
