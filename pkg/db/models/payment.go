package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dropday-backend/pkg/enums"
)

// Payment is the escrow record of an order.
type Payment struct {
	ID           uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID      uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex" json:"order_id"`
	Amount       decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Status       enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'PENDING'" json:"status"`
	EscrowStatus enums.EscrowStatus  `gorm:"column:escrow_status;type:escrow_status;not null;default:'HELD'" json:"escrow_status"`
	RefundAmount *decimal.Decimal    `gorm:"column:refund_amount;type:numeric(12,2)" json:"refund_amount"`
	CompletedAt  *time.Time          `gorm:"column:completed_at" json:"completed_at"`
	ReleasedAt   *time.Time          `gorm:"column:released_at" json:"released_at"`
	RefundedAt   *time.Time          `gorm:"column:refunded_at" json:"refunded_at"`
	CreatedAt    time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
