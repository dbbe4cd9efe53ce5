package models

import (
	"time"

	"github.com/google/uuid"
)

// CheckoutGroup links one cart submission to the per-shop orders it produced.
type CheckoutGroup struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BuyerID        uuid.UUID `gorm:"column:buyer_id;type:uuid;not null" json:"buyer_id"`
	IdempotencyKey *string   `gorm:"column:idempotency_key" json:"idempotency_key"`
	Orders         []Order   `gorm:"foreignKey:CheckoutGroupID" json:"orders,omitempty"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
