package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dropday-backend/pkg/enums"
)

// EscrowEvent records an immutable money movement tied to an order's payment.
type EscrowEvent struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID     uuid.UUID             `gorm:"column:order_id;type:uuid;not null" json:"order_id"`
	PaymentID   uuid.UUID             `gorm:"column:payment_id;type:uuid;not null" json:"payment_id"`
	ActorUserID *uuid.UUID            `gorm:"column:actor_user_id;type:uuid" json:"actor_user_id"`
	Type        enums.EscrowEventType `gorm:"column:type;type:escrow_event_type;not null" json:"type"`
	Reason      enums.EscrowReason    `gorm:"column:reason;not null" json:"reason"`
	Amount      decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Metadata    json.RawMessage       `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
