package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropday-backend/pkg/enums"
)

// StockHistory is an append-only record of one stock ledger movement.
type StockHistory struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PricingUnitID  uuid.UUID             `gorm:"column:pricing_unit_id;type:uuid;not null" json:"pricing_unit_id"`
	Delta          int                   `gorm:"column:delta;not null" json:"delta"`
	ChangeType     enums.StockChangeType `gorm:"column:change_type;type:stock_change_type;not null" json:"change_type"`
	StockAfter     *int                  `gorm:"column:stock_after" json:"stock_after"`
	RelatedOrderID *uuid.UUID            `gorm:"column:related_order_id;type:uuid" json:"related_order_id"`
	ActorUserID    *uuid.UUID            `gorm:"column:actor_user_id;type:uuid" json:"actor_user_id"`
	Note           *string               `gorm:"column:note" json:"note"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (StockHistory) TableName() string { return "stock_history" }
