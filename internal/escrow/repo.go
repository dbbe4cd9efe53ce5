package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
)

// Repository persists payments and their escrow audit trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	TransitionEscrow(ctx context.Context, paymentID uuid.UUID, from enums.EscrowStatus, updates map[string]any) (int64, error)
	CompletePayment(ctx context.Context, paymentID uuid.UUID, at time.Time) (int64, error)
	InsertEvent(ctx context.Context, event *models.EscrowEvent) error
	ListEvents(ctx context.Context, orderID uuid.UUID) ([]models.EscrowEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an escrow repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LockPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// TransitionEscrow applies updates only while the escrow is still in from.
func (r *repository) TransitionEscrow(ctx context.Context, paymentID uuid.UUID, from enums.EscrowStatus, updates map[string]any) (int64, error) {
	values := map[string]any{"updated_at": time.Now().UTC()}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND escrow_status = ?", paymentID, from).
		Updates(values)
	return res.RowsAffected, res.Error
}

func (r *repository) CompletePayment(ctx context.Context, paymentID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ? AND escrow_status = ?", paymentID, enums.PaymentStatusPending, enums.EscrowStatusHeld).
		Updates(map[string]any{
			"status":       enums.PaymentStatusCompleted,
			"completed_at": at,
			"updated_at":   at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) InsertEvent(ctx context.Context, event *models.EscrowEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListEvents(ctx context.Context, orderID uuid.UUID) ([]models.EscrowEvent, error) {
	var events []models.EscrowEvent
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
