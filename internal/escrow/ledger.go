package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/metrics"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/payloads"
)

var transitions = map[enums.EscrowStatus][]enums.EscrowStatus{
	enums.EscrowStatusHeld:     {enums.EscrowStatusReleased, enums.EscrowStatusRefunded, enums.EscrowStatusDisputed},
	enums.EscrowStatusDisputed: {enums.EscrowStatusReleased, enums.EscrowStatusRefunded},
}

// CanTransition reports whether escrow may move from one status to another.
func CanTransition(from, to enums.EscrowStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Consistent reports whether a payment status may be paired with an escrow
// status.
func Consistent(status enums.PaymentStatus, escrow enums.EscrowStatus) bool {
	switch escrow {
	case enums.EscrowStatusHeld, enums.EscrowStatusDisputed:
		return status == enums.PaymentStatusPending || status == enums.PaymentStatusCompleted
	case enums.EscrowStatusReleased:
		return status == enums.PaymentStatusReleased
	case enums.EscrowStatusRefunded:
		return status == enums.PaymentStatusRefunded
	}
	return false
}

func requiresCompletedPayment(reason enums.EscrowReason) bool {
	switch reason {
	case enums.EscrowReasonDeliveryCompleted, enums.EscrowReasonAdminManual, enums.EscrowReasonAutoSweep:
		return true
	}
	return false
}

func isDisputeReason(reason enums.EscrowReason) bool {
	return reason == enums.EscrowReasonDisputeResolution || reason == enums.EscrowReasonDisputeClosed
}

// ReleaseInput pays the escrowed amount out to the seller.
type ReleaseInput struct {
	OrderID uuid.UUID
	Reason  enums.EscrowReason
	Actor   auth.Principal
}

// RefundInput returns escrowed funds to the buyer. A nil Amount refunds the
// full payment.
type RefundInput struct {
	OrderID uuid.UUID
	Reason  enums.EscrowReason
	Amount  *decimal.Decimal
	Actor   auth.Principal
}

// Ledger moves a payment through its escrow states. Every method runs inside
// the caller's transaction.
type Ledger struct {
	repo    Repository
	outbox  outbox.Emitter
	metrics *metrics.LifecycleMetrics
	logg    *logger.Logger
}

// NewLedger builds the escrow ledger.
func NewLedger(repo Repository, emitter outbox.Emitter, lifecycle *metrics.LifecycleMetrics, logg *logger.Logger) (*Ledger, error) {
	if repo == nil {
		return nil, fmt.Errorf("escrow repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Ledger{repo: repo, outbox: emitter, metrics: lifecycle, logg: logg}, nil
}

// MarkCompleted records the gateway confirmation of a payment.
func (l *Ledger) MarkCompleted(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor auth.Principal) (*models.Payment, error) {
	payment, err := l.lock(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.Status == enums.PaymentStatusCompleted {
		return payment, nil
	}
	if payment.Status != enums.PaymentStatusPending || payment.EscrowStatus != enums.EscrowStatusHeld {
		return nil, l.conflict(pkgerrors.ReasonInvalidTransition,
			fmt.Sprintf("payment cannot be completed from %s/%s", payment.Status, payment.EscrowStatus))
	}

	now := time.Now().UTC()
	affected, err := l.repo.WithTx(tx).CompletePayment(ctx, payment.ID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete payment")
	}
	if affected == 0 {
		return nil, l.lostRace()
	}
	payment.Status = enums.PaymentStatusCompleted
	payment.CompletedAt = &now

	if err := l.appendEvent(ctx, tx, payment, enums.EscrowEventPaymentCompleted, enums.EscrowReasonPaymentConfirmed, payment.Amount, actor, nil); err != nil {
		return nil, err
	}
	return payment, nil
}

// Release pays the seller. Releasing an already released escrow is a no-op.
func (l *Ledger) Release(ctx context.Context, tx *gorm.DB, input ReleaseInput) (*models.Payment, error) {
	if !input.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid escrow reason")
	}
	payment, err := l.lock(ctx, tx, input.OrderID)
	if err != nil {
		return nil, err
	}

	switch payment.EscrowStatus {
	case enums.EscrowStatusReleased:
		return payment, nil
	case enums.EscrowStatusRefunded:
		return nil, l.conflict(pkgerrors.ReasonInvalidTransition, "escrow was already refunded")
	case enums.EscrowStatusDisputed:
		if !isDisputeReason(input.Reason) {
			return nil, l.conflict(pkgerrors.ReasonEscrowDisputed, "escrow is frozen by an open dispute")
		}
	}
	if requiresCompletedPayment(input.Reason) && payment.Status != enums.PaymentStatusCompleted {
		return nil, l.conflict(pkgerrors.ReasonPaymentIncomplete, "payment has not been completed")
	}

	now := time.Now().UTC()
	from := payment.EscrowStatus
	if err := l.transition(ctx, tx, payment, enums.EscrowStatusReleased, map[string]any{
		"escrow_status": enums.EscrowStatusReleased,
		"status":        enums.PaymentStatusReleased,
		"released_at":   now,
	}); err != nil {
		return nil, err
	}
	payment.Status = enums.PaymentStatusReleased
	payment.ReleasedAt = &now

	if err := l.appendEvent(ctx, tx, payment, enums.EscrowEventReleased, input.Reason, payment.Amount, input.Actor, nil); err != nil {
		return nil, err
	}
	if err := l.emit(ctx, tx, enums.EventEscrowReleased, payment, from, input.Reason, input.Actor, nil); err != nil {
		return nil, err
	}
	l.metrics.EscrowTransition(string(enums.EscrowStatusReleased), string(input.Reason))
	return payment, nil
}

// Refund returns funds to the buyer. Refunding an already refunded escrow is
// a no-op.
func (l *Ledger) Refund(ctx context.Context, tx *gorm.DB, input RefundInput) (*models.Payment, error) {
	if !input.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid escrow reason")
	}
	payment, err := l.lock(ctx, tx, input.OrderID)
	if err != nil {
		return nil, err
	}

	switch payment.EscrowStatus {
	case enums.EscrowStatusRefunded:
		return payment, nil
	case enums.EscrowStatusReleased:
		return nil, l.conflict(pkgerrors.ReasonInvalidTransition, "escrow was already released")
	}

	amount := payment.Amount
	if input.Amount != nil {
		amount = input.Amount.Round(2)
		if !amount.IsPositive() || amount.GreaterThan(payment.Amount) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive and not exceed the payment amount")
		}
	}

	now := time.Now().UTC()
	from := payment.EscrowStatus
	if err := l.transition(ctx, tx, payment, enums.EscrowStatusRefunded, map[string]any{
		"escrow_status": enums.EscrowStatusRefunded,
		"status":        enums.PaymentStatusRefunded,
		"refunded_at":   now,
		"refund_amount": amount,
	}); err != nil {
		return nil, err
	}
	payment.Status = enums.PaymentStatusRefunded
	payment.RefundedAt = &now
	payment.RefundAmount = &amount

	refund := amount.StringFixed(2)
	if err := l.appendEvent(ctx, tx, payment, enums.EscrowEventRefunded, input.Reason, amount, input.Actor, &refund); err != nil {
		return nil, err
	}
	if err := l.emit(ctx, tx, enums.EventEscrowRefunded, payment, from, input.Reason, input.Actor, &refund); err != nil {
		return nil, err
	}
	l.metrics.EscrowTransition(string(enums.EscrowStatusRefunded), string(input.Reason))
	return payment, nil
}

// Freeze holds the escrow while a dispute is open.
func (l *Ledger) Freeze(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor auth.Principal) (*models.Payment, error) {
	payment, err := l.lock(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	switch payment.EscrowStatus {
	case enums.EscrowStatusDisputed:
		return payment, nil
	case enums.EscrowStatusHeld:
	default:
		return nil, l.conflict(pkgerrors.ReasonInvalidTransition,
			fmt.Sprintf("escrow cannot be disputed from %s", payment.EscrowStatus))
	}

	if err := l.transition(ctx, tx, payment, enums.EscrowStatusDisputed, map[string]any{
		"escrow_status": enums.EscrowStatusDisputed,
	}); err != nil {
		return nil, err
	}

	reason := enums.EscrowReasonDisputeOpened
	if err := l.appendEvent(ctx, tx, payment, enums.EscrowEventDisputed, reason, payment.Amount, actor, nil); err != nil {
		return nil, err
	}
	if err := l.emit(ctx, tx, enums.EventEscrowDisputed, payment, enums.EscrowStatusHeld, reason, actor, nil); err != nil {
		return nil, err
	}
	l.metrics.EscrowTransition(string(enums.EscrowStatusDisputed), string(reason))
	return payment, nil
}

func (l *Ledger) lock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Payment, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "escrow movements require a transaction")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	payment, err := l.repo.WithTx(tx).LockPayment(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

// transition writes the new escrow state guarded on the state just read, so
// a concurrent writer makes this call lose instead of overwrite.
func (l *Ledger) transition(ctx context.Context, tx *gorm.DB, payment *models.Payment, to enums.EscrowStatus, updates map[string]any) error {
	if !CanTransition(payment.EscrowStatus, to) {
		return l.conflict(pkgerrors.ReasonInvalidTransition,
			fmt.Sprintf("escrow cannot move from %s to %s", payment.EscrowStatus, to))
	}
	affected, err := l.repo.WithTx(tx).TransitionEscrow(ctx, payment.ID, payment.EscrowStatus, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update escrow")
	}
	if affected == 0 {
		return l.lostRace()
	}
	payment.EscrowStatus = to
	return nil
}

func (l *Ledger) appendEvent(ctx context.Context, tx *gorm.DB, payment *models.Payment, eventType enums.EscrowEventType, reason enums.EscrowReason, amount decimal.Decimal, actor auth.Principal, refund *string) error {
	meta := map[string]any{
		"payment_status": payment.Status,
		"escrow_status":  payment.EscrowStatus,
		"actor_role":     actor.PrimaryRole(),
	}
	if refund != nil {
		meta["refund_amount"] = *refund
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode escrow metadata")
	}
	event := &models.EscrowEvent{
		ID:          uuid.New(),
		OrderID:     payment.OrderID,
		PaymentID:   payment.ID,
		ActorUserID: actor.ActorID(),
		Type:        eventType,
		Reason:      reason,
		Amount:      amount,
		Metadata:    raw,
	}
	if err := l.repo.WithTx(tx).InsertEvent(ctx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record escrow event")
	}
	return nil
}

func (l *Ledger) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payment *models.Payment, from enums.EscrowStatus, reason enums.EscrowReason, actor auth.Principal, refund *string) error {
	err := l.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         actor.Actor(),
		Data: payloads.EscrowEvent{
			OrderID:      payment.OrderID,
			PaymentID:    payment.ID,
			From:         from,
			To:           payment.EscrowStatus,
			Amount:       payment.Amount.StringFixed(2),
			Reason:       reason,
			RefundAmount: refund,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit escrow event")
	}
	return nil
}

func (l *Ledger) conflict(reason pkgerrors.Reason, msg string) error {
	l.metrics.Conflict(string(reason))
	return pkgerrors.NewReason(pkgerrors.CodeStateConflict, reason, msg)
}

func (l *Ledger) lostRace() error {
	l.metrics.Conflict(string(pkgerrors.ReasonConcurrentUpdate))
	return pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonConcurrentUpdate, "payment was updated concurrently")
}

// RefundFull refunds the whole payment.
func (l *Ledger) RefundFull(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason enums.EscrowReason, actor auth.Principal) (*models.Payment, error) {
	return l.Refund(ctx, tx, RefundInput{OrderID: orderID, Reason: reason, Actor: actor})
}
