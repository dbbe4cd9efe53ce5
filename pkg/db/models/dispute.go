package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dropday-backend/pkg/enums"
)

// Dispute is the buyer's claim against an order, at most one per order.
type Dispute struct {
	ID           uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID      uuid.UUID                `gorm:"column:order_id;type:uuid;not null;uniqueIndex" json:"order_id"`
	BuyerID      uuid.UUID                `gorm:"column:buyer_id;type:uuid;not null" json:"buyer_id"`
	SellerID     uuid.UUID                `gorm:"column:seller_id;type:uuid;not null" json:"seller_id"`
	Status       enums.DisputeStatus      `gorm:"column:status;type:dispute_status;not null;default:'OPEN'" json:"status"`
	Reason       string                   `gorm:"column:reason;not null" json:"reason"`
	BuyerNotes   *string                  `gorm:"column:buyer_notes" json:"buyer_notes"`
	SellerNotes  *string                  `gorm:"column:seller_notes" json:"seller_notes"`
	AdminNotes   *string                  `gorm:"column:admin_notes" json:"admin_notes"`
	Resolution   *enums.DisputeResolution `gorm:"column:resolution;type:dispute_resolution" json:"resolution"`
	RefundAmount *decimal.Decimal         `gorm:"column:refund_amount;type:numeric(12,2)" json:"refund_amount"`
	ResolvedBy   *uuid.UUID               `gorm:"column:resolved_by;type:uuid" json:"resolved_by"`
	ResolvedAt   *time.Time               `gorm:"column:resolved_at" json:"resolved_at"`
	CreatedAt    time.Time                `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time                `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
