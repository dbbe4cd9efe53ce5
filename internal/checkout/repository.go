package checkout

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropday-backend/pkg/db/models"
)

// Repository reads checkout groups back with the orders they produced.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindGroup(ctx context.Context, buyerID, groupID uuid.UUID) (*models.CheckoutGroup, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a checkout repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindGroup loads a buyer's checkout group with its orders, items, payments
// and deliveries.
func (r *repository) FindGroup(ctx context.Context, buyerID, groupID uuid.UUID) (*models.CheckoutGroup, error) {
	var group models.CheckoutGroup
	err := r.db.WithContext(ctx).
		Preload("Orders", func(db *gorm.DB) *gorm.DB { return db.Order("order_number ASC") }).
		Preload("Orders.Items").
		Preload("Orders.Payment").
		Preload("Orders.Delivery").
		Where("id = ? AND buyer_id = ?", groupID, buyerID).
		First(&group).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}
