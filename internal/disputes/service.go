package disputes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropday-backend/internal/catalog"
	"github.com/angelmondragon/dropday-backend/internal/escrow"
	"github.com/angelmondragon/dropday-backend/internal/live"
	"github.com/angelmondragon/dropday-backend/internal/notifications"
	"github.com/angelmondragon/dropday-backend/internal/orders"
	"github.com/angelmondragon/dropday-backend/internal/stock"
	"github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/db"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/metrics"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
)

const maxNotesLength = 2000

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// EscrowLedger is the slice of the escrow ledger arbitration needs.
type EscrowLedger interface {
	Freeze(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor auth.Principal) (*models.Payment, error)
	Release(ctx context.Context, tx *gorm.DB, input escrow.ReleaseInput) (*models.Payment, error)
	Refund(ctx context.Context, tx *gorm.DB, input escrow.RefundInput) (*models.Payment, error)
}

type stockAdjuster interface {
	Adjust(ctx context.Context, tx *gorm.DB, input stock.AdjustInput) (*stock.AdjustResult, error)
}

// CreateInput opens a dispute on a buyer's order.
type CreateInput struct {
	OrderID    uuid.UUID `json:"order_id" validate:"required"`
	Reason     string    `json:"reason" validate:"required,max=500"`
	BuyerNotes *string   `json:"buyer_notes,omitempty" validate:"omitempty,max=2000"`
}

// ResolveInput is the admin ruling on a dispute.
type ResolveInput struct {
	DisputeID    uuid.UUID
	Resolution   enums.DisputeResolution
	AdminNotes   *string
	RefundAmount *decimal.Decimal
}

// Service arbitrates buyer disputes over escrowed orders.
type Service interface {
	Create(ctx context.Context, principal auth.Principal, input CreateInput) (*models.Dispute, error)
	AddNotes(ctx context.Context, principal auth.Principal, disputeID uuid.UUID, notes string) (*models.Dispute, error)
	StartReview(ctx context.Context, principal auth.Principal, disputeID uuid.UUID) (*models.Dispute, error)
	Resolve(ctx context.Context, principal auth.Principal, input ResolveInput) (*models.Dispute, error)
	Close(ctx context.Context, principal auth.Principal, disputeID uuid.UUID, notes *string) (*models.Dispute, error)
	Get(ctx context.Context, principal auth.Principal, disputeID uuid.UUID) (*models.Dispute, error)
	ListOpen(ctx context.Context, principal auth.Principal, params pagination.Params) (*Page, error)
	ListForUser(ctx context.Context, principal auth.Principal, params pagination.Params) (*Page, error)
}

// ServiceParams wires the dispute service.
type ServiceParams struct {
	Repo    Repository
	Orders  orders.Repository
	Catalog catalog.Repository
	Escrow  EscrowLedger
	Stock   stockAdjuster
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
	escrow  EscrowLedger
	stock   stockAdjuster
	tx      txRunner
	outbox  outbox.Emitter
	live    live.Publisher
	metrics *metrics.LifecycleMetrics
	logg    *logger.Logger
}

// NewService builds the dispute service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("dispute repository required")
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
	if params.Stock == nil {
		return nil, fmt.Errorf("stock service required")
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
		stock:   params.Stock,
		tx:      params.Tx,
		outbox:  params.Outbox,
		live:    params.Live,
		metrics: params.Metrics,
		logg:    logg,
	}, nil
}

// Create opens the single dispute an order may carry and freezes its escrow.
func (s *service) Create(ctx context.Context, principal auth.Principal, input CreateInput) (*models.Dispute, error) {
	if !principal.Has(enums.RoleBuyer) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only buyers can open disputes")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order_id is required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	notes, err := cleanNotes(input.BuyerNotes)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())

	var dispute *models.Dispute
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.orders.WithTx(tx)
		order, err := orderRepo.LockOrder(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.BuyerID != principal.UserID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}

		repo := s.repo.WithTx(tx)
		if _, err := repo.FindByOrder(ctx, order.ID); err == nil {
			return s.exists()
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing dispute")
		}

		switch order.Status {
		case enums.OrderStatusPending, enums.OrderStatusCancelled, enums.OrderStatusDisputed:
			s.metrics.Conflict(string(pkgerrors.ReasonInvalidTransition))
			return pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonInvalidTransition,
				fmt.Sprintf("order in status %s cannot be disputed", order.Status))
		}

		shop, err := s.catalog.WithTx(tx).FindShop(ctx, order.ShopID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop")
		}

		dispute = &models.Dispute{
			ID:         uuid.New(),
			OrderID:    order.ID,
			BuyerID:    order.BuyerID,
			SellerID:   shop.OwnerID,
			Status:     enums.DisputeStatusOpen,
			Reason:     reason,
			BuyerNotes: notes,
		}
		if err := repo.Create(ctx, dispute); err != nil {
			if db.IsUniqueViolation(err, "") {
				return s.exists()
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create dispute")
		}

		if _, err := s.escrow.Freeze(ctx, tx, order.ID, principal); err != nil {
			return err
		}
		if err := s.moveOrder(ctx, tx, principal, order, enums.OrderStatusDisputed, nil); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, enums.EventDisputeOpened, principal, dispute); err != nil {
			return err
		}
		return s.notify(ctx, tx, principal, dispute.SellerID, order, "Dispute opened",
			fmt.Sprintf("The buyer opened a dispute on order %s: %s", order.OrderNumber, reason))
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, dispute,
		live.OrderEvent(live.EventOrderStatus, dispute.OrderID, string(enums.OrderStatusDisputed)),
		live.OrderEvent(live.EventEscrowStatus, dispute.OrderID, string(enums.EscrowStatusDisputed)))
	s.logg.Info(s.logg.WithDisputeID(ctx, dispute.ID.String()), "dispute opened")
	return dispute, nil
}

// AddNotes stores the caller's side of the story on an unsettled dispute.
func (s *service) AddNotes(ctx context.Context, principal auth.Principal, disputeID uuid.UUID, notes string) (*models.Dispute, error) {
	cleaned, err := cleanNotes(&notes)
	if err != nil {
		return nil, err
	}
	if cleaned == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notes are required")
	}

	var dispute *models.Dispute
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.lock(ctx, repo, disputeID)
		if err != nil {
			return err
		}

		var column string
		switch {
		case principal.IsAdmin():
			column = "admin_notes"
			current.AdminNotes = cleaned
		case principal.UserID == current.BuyerID:
			column = "buyer_notes"
			current.BuyerNotes = cleaned
		case principal.UserID == current.SellerID:
			column = "seller_notes"
			current.SellerNotes = cleaned
		default:
			return pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
		}
		if current.Status.IsTerminal() {
			s.metrics.Conflict(string(pkgerrors.ReasonInvalidTransition))
			return pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonInvalidTransition,
				fmt.Sprintf("notes cannot be added to a %s dispute", current.Status))
		}

		affected, err := repo.Update(ctx, disputeID, openStatuses, map[string]any{column: *cleaned})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update dispute notes")
		}
		if affected == 0 {
			return s.concurrent()
		}
		dispute = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dispute, nil
}

// StartReview marks an open dispute as taken up by an admin.
func (s *service) StartReview(ctx context.Context, principal auth.Principal, disputeID uuid.UUID) (*models.Dispute, error) {
	if !principal.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}

	var (
		dispute *models.Dispute
		changed bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.lock(ctx, repo, disputeID)
		if err != nil {
			return err
		}
		switch current.Status {
		case enums.DisputeStatusInReview:
			dispute = current
			return nil
		case enums.DisputeStatusOpen:
		default:
			return s.alreadySettled(current.Status)
		}
		affected, err := repo.Update(ctx, disputeID, []enums.DisputeStatus{enums.DisputeStatusOpen}, map[string]any{
			"status": enums.DisputeStatusInReview,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "start dispute review")
		}
		if affected == 0 {
			return s.concurrent()
		}
		current.Status = enums.DisputeStatusInReview
		dispute, changed = current, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.publish(ctx, dispute)
	}
	return dispute, nil
}

// Resolve settles a dispute. The buyer is refunded in full or in part, or the
// seller is paid; either way the order ends CANCELLED.
func (s *service) Resolve(ctx context.Context, principal auth.Principal, input ResolveInput) (*models.Dispute, error) {
	if !principal.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if !input.Resolution.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resolution must be BUYER_WINS, SELLER_WINS or PARTIAL")
	}
	if input.RefundAmount != nil && !input.RefundAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund_amount must be positive")
	}
	notes, err := cleanNotes(input.AdminNotes)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithDisputeID(ctx, input.DisputeID.String())

	var (
		dispute *models.Dispute
		events  []live.Event
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.lock(ctx, repo, input.DisputeID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return s.alreadySettled(current.Status)
		}

		orderRepo := s.orders.WithTx(tx)
		order, err := orderRepo.LockOrder(ctx, current.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		var (
			payment *models.Payment
			refund  *decimal.Decimal
		)
		switch input.Resolution {
		case enums.DisputeResolutionSellerWins:
			payment, err = s.escrow.Release(ctx, tx, escrow.ReleaseInput{
				OrderID: order.ID,
				Reason:  enums.EscrowReasonDisputeResolution,
				Actor:   principal,
			})
		default:
			refund, err = s.refundAmount(ctx, orderRepo, order.ID, input)
			if err != nil {
				return err
			}
			payment, err = s.escrow.Refund(ctx, tx, escrow.RefundInput{
				OrderID: order.ID,
				Reason:  enums.EscrowReasonDisputeResolution,
				Amount:  refund,
				Actor:   principal,
			})
		}
		if err != nil {
			return err
		}
		events = append(events, live.OrderEvent(live.EventEscrowStatus, order.ID, string(payment.EscrowStatus)))

		if !order.Status.IsTerminal() {
			now := time.Now().UTC()
			cancelReason := "dispute resolved: " + strings.ToLower(string(input.Resolution))
			if err := s.moveOrder(ctx, tx, principal, order, enums.OrderStatusCancelled, map[string]any{
				"cancelled_at":  now,
				"cancel_reason": cancelReason,
			}); err != nil {
				return err
			}
			events = append(events, live.OrderEvent(live.EventOrderStatus, order.ID, string(order.Status)))
		}
		failed, err := orderRepo.FailDelivery(ctx, order.ID, "dispute resolved")
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail delivery")
		}
		if failed != nil {
			s.metrics.DeliveryTransition(string(enums.DeliveryStatusFailed))
			events = append(events, live.DeliveryEvent(live.EventDeliveryStatus, order.ID, failed.ID, string(failed.Status)))
		}

		if input.Resolution == enums.DisputeResolutionBuyerWins && order.DeliveredAt == nil {
			if err := s.returnStock(ctx, tx, principal, order); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		resolution := input.Resolution
		resolver := principal.UserID
		updates := map[string]any{
			"status":      enums.DisputeStatusResolved,
			"resolution":  resolution,
			"resolved_at": now,
		}
		if resolver != uuid.Nil {
			updates["resolved_by"] = resolver
			current.ResolvedBy = &resolver
		}
		if notes != nil {
			updates["admin_notes"] = *notes
			current.AdminNotes = notes
		}
		if refund != nil {
			updates["refund_amount"] = *refund
			current.RefundAmount = refund
		}
		affected, err := repo.Update(ctx, current.ID, openStatuses, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve dispute")
		}
		if affected == 0 {
			return s.concurrent()
		}
		current.Status = enums.DisputeStatusResolved
		current.Resolution = &resolution
		current.ResolvedAt = &now
		dispute = current

		if err := s.emit(ctx, tx, enums.EventDisputeResolved, principal, dispute); err != nil {
			return err
		}
		message := fmt.Sprintf("The dispute on order %s was resolved: %s.", order.OrderNumber, strings.ToLower(string(resolution)))
		for _, recipient := range []uuid.UUID{dispute.BuyerID, dispute.SellerID} {
			if err := s.notify(ctx, tx, principal, recipient, order, "Dispute resolved", message); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, dispute, events...)
	s.logg.Info(s.logg.WithField(ctx, "resolution", string(input.Resolution)), "dispute resolved")
	return dispute, nil
}

// Close dismisses a dispute without a ruling. The order must already have
// been delivered; the seller is paid and the order returns to DELIVERED.
func (s *service) Close(ctx context.Context, principal auth.Principal, disputeID uuid.UUID, notes *string) (*models.Dispute, error) {
	if !principal.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	cleaned, err := cleanNotes(notes)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithDisputeID(ctx, disputeID.String())

	var (
		dispute *models.Dispute
		events  []live.Event
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.lock(ctx, repo, disputeID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return s.alreadySettled(current.Status)
		}

		orderRepo := s.orders.WithTx(tx)
		order, err := orderRepo.LockOrder(ctx, current.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.DeliveredAt == nil {
			s.metrics.Conflict(string(pkgerrors.ReasonNotDelivered))
			return pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonNotDelivered,
				"undelivered orders must be resolved, not closed")
		}

		payment, err := s.escrow.Release(ctx, tx, escrow.ReleaseInput{
			OrderID: order.ID,
			Reason:  enums.EscrowReasonDisputeClosed,
			Actor:   principal,
		})
		if err != nil {
			return err
		}
		events = append(events, live.OrderEvent(live.EventEscrowStatus, order.ID, string(payment.EscrowStatus)))

		if order.Status == enums.OrderStatusDisputed {
			if err := s.moveOrder(ctx, tx, principal, order, enums.OrderStatusDelivered, nil); err != nil {
				return err
			}
			events = append(events, live.OrderEvent(live.EventOrderStatus, order.ID, string(order.Status)))
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":      enums.DisputeStatusClosed,
			"resolved_at": now,
		}
		if principal.UserID != uuid.Nil {
			resolver := principal.UserID
			updates["resolved_by"] = resolver
			current.ResolvedBy = &resolver
		}
		if cleaned != nil {
			updates["admin_notes"] = *cleaned
			current.AdminNotes = cleaned
		}
		affected, err := repo.Update(ctx, current.ID, openStatuses, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close dispute")
		}
		if affected == 0 {
			return s.concurrent()
		}
		current.Status = enums.DisputeStatusClosed
		current.ResolvedAt = &now
		dispute = current

		if err := s.emit(ctx, tx, enums.EventDisputeClosed, principal, dispute); err != nil {
			return err
		}
		message := fmt.Sprintf("The dispute on order %s was closed and the payment released to the seller.", order.OrderNumber)
		for _, recipient := range []uuid.UUID{dispute.BuyerID, dispute.SellerID} {
			if err := s.notify(ctx, tx, principal, recipient, order, "Dispute closed", message); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, dispute, events...)
	s.logg.Info(ctx, "dispute closed")
	return dispute, nil
}

// Get returns a dispute to its buyer, its seller or an admin.
func (s *service) Get(ctx context.Context, principal auth.Principal, disputeID uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.repo.Find(ctx, disputeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
	}
	if principal.IsAdmin() || principal.UserID == dispute.BuyerID || principal.UserID == dispute.SellerID {
		return dispute, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
}

func (s *service) ListOpen(ctx context.Context, principal auth.Principal, params pagination.Params) (*Page, error) {
	if !principal.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	page, err := s.repo.ListOpen(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list open disputes")
	}
	return page, nil
}

func (s *service) ListForUser(ctx context.Context, principal auth.Principal, params pagination.Params) (*Page, error) {
	if principal.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	page, err := s.repo.ListForUser(ctx, principal.UserID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list disputes")
	}
	return page, nil
}

// refundAmount picks the refund for a buyer ruling. BUYER_WINS always refunds
// in full; PARTIAL defaults to the full amount and is capped at the payment.
func (s *service) refundAmount(ctx context.Context, repo orders.Repository, orderID uuid.UUID, input ResolveInput) (*decimal.Decimal, error) {
	if input.Resolution == enums.DisputeResolutionBuyerWins {
		return nil, nil
	}
	payment, err := repo.FindPayment(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	amount := payment.Amount
	if input.RefundAmount != nil && input.RefundAmount.Round(2).LessThan(amount) {
		amount = input.RefundAmount.Round(2)
	}
	return &amount, nil
}

func (s *service) returnStock(ctx context.Context, tx *gorm.DB, principal auth.Principal, order *models.Order) error {
	items, err := s.orders.WithTx(tx).FindItems(ctx, order.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
	}
	note := "returned after dispute"
	for _, item := range items {
		_, err := s.stock.Adjust(ctx, tx, stock.AdjustInput{
			PricingUnitID:  item.PricingUnitID,
			Delta:          item.Quantity,
			ChangeType:     enums.StockChangeDisputeReturn,
			RelatedOrderID: &order.ID,
			Note:           &note,
			ActorUserID:    principal.ActorID(),
		})
		if err != nil {
			if pkgerrors.HasReason(err, pkgerrors.CodeNotFound, pkgerrors.ReasonUnitNotFound) {
				continue
			}
			return err
		}
	}
	return nil
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

	eventType := enums.EventOrderStatusChanged
	if to == enums.OrderStatusCancelled {
		eventType = enums.EventOrderCancelled
	}
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
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order status event")
	}
	return nil
}

func (s *service) lock(ctx context.Context, repo Repository, disputeID uuid.UUID) (*models.Dispute, error) {
	dispute, err := repo.Lock(ctx, disputeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
	}
	return dispute, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, principal auth.Principal, dispute *models.Dispute) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateDispute,
		AggregateID:   dispute.ID,
		Actor:         principal.Actor(),
		Data: payloads.DisputeEvent{
			DisputeID:  dispute.ID,
			OrderID:    dispute.OrderID,
			BuyerID:    dispute.BuyerID,
			SellerID:   dispute.SellerID,
			Status:     dispute.Status,
			Resolution: dispute.Resolution,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit dispute event")
	}
	return nil
}

func (s *service) notify(ctx context.Context, tx *gorm.DB, principal auth.Principal, recipient uuid.UUID, order *models.Order, title, message string) error {
	err := notifications.Request(ctx, tx, s.outbox, principal.Actor(), payloads.NotificationRequestedEvent{
		RecipientID: recipient,
		OrderID:     &order.ID,
		Type:        enums.NotificationTypeDisputeUpdate,
		Title:       title,
		Message:     message,
		Link:        notifications.OrderLink(order.ID),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue notification")
	}
	return nil
}

// publish sends the dispute status update followed by any extra events.
func (s *service) publish(ctx context.Context, dispute *models.Dispute, extra ...live.Event) {
	evt := live.OrderEvent(live.EventDisputeStatus, dispute.OrderID, string(dispute.Status))
	id := dispute.ID
	evt.DisputeID = &id
	live.Notify(ctx, s.live, s.logg, append([]live.Event{evt}, extra...)...)
}

func (s *service) exists() error {
	s.metrics.Conflict(string(pkgerrors.ReasonDisputeExists))
	return pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonDisputeExists, "order already has a dispute")
}

func (s *service) alreadySettled(status enums.DisputeStatus) error {
	s.metrics.Conflict(string(pkgerrors.ReasonAlreadyResolved))
	return pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonAlreadyResolved,
		fmt.Sprintf("dispute is already %s", status))
}

func (s *service) concurrent() error {
	s.metrics.Conflict(string(pkgerrors.ReasonConcurrentUpdate))
	return pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonConcurrentUpdate, "dispute was updated concurrently")
}

var openStatuses = []enums.DisputeStatus{enums.DisputeStatusOpen, enums.DisputeStatusInReview}

func cleanNotes(notes *string) (*string, error) {
	if notes == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*notes)
	if trimmed == "" {
		return nil, nil
	}
	if len(trimmed) > maxNotesLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("notes must be at most %d characters", maxNotesLength))
	}
	return &trimmed, nil
}
