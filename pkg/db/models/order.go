package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/types"
)

// Order is the per-shop slice of a checkout.
type Order struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderNumber     string                `gorm:"column:order_number;not null;uniqueIndex" json:"order_number"`
	CheckoutGroupID uuid.UUID             `gorm:"column:checkout_group_id;type:uuid;not null" json:"checkout_group_id"`
	BuyerID         uuid.UUID             `gorm:"column:buyer_id;type:uuid;not null" json:"buyer_id"`
	ShopID          uuid.UUID             `gorm:"column:shop_id;type:uuid;not null" json:"shop_id"`
	Status          enums.OrderStatus     `gorm:"column:status;type:order_status;not null;default:'PENDING'" json:"status"`
	Subtotal        decimal.Decimal       `gorm:"column:subtotal;type:numeric(12,2);not null" json:"subtotal"`
	PlatformFee     decimal.Decimal       `gorm:"column:platform_fee;type:numeric(12,2);not null" json:"platform_fee"`
	DeliveryFee     decimal.Decimal       `gorm:"column:delivery_fee;type:numeric(12,2);not null" json:"delivery_fee"`
	Total           decimal.Decimal       `gorm:"column:total;type:numeric(12,2);not null" json:"total"`
	DeliveryAddress types.DeliveryAddress `gorm:"column:delivery_address;type:jsonb;not null" json:"delivery_address"`
	CancelReason    *string               `gorm:"column:cancel_reason" json:"cancel_reason"`
	DeliveredAt     *time.Time            `gorm:"column:delivered_at" json:"delivered_at"`
	CancelledAt     *time.Time            `gorm:"column:cancelled_at" json:"cancelled_at"`
	Items           []OrderItem           `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	Payment         *Payment              `gorm:"foreignKey:OrderID" json:"payment,omitempty"`
	Delivery        *Delivery             `gorm:"foreignKey:OrderID" json:"delivery,omitempty"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// OrderItem is an immutable line snapshot taken at purchase time.
type OrderItem struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID       uuid.UUID       `gorm:"column:order_id;type:uuid;not null" json:"order_id"`
	ProductID     uuid.UUID       `gorm:"column:product_id;type:uuid;not null" json:"product_id"`
	PricingUnitID uuid.UUID       `gorm:"column:pricing_unit_id;type:uuid;not null" json:"pricing_unit_id"`
	ProductName   string          `gorm:"column:product_name;not null" json:"product_name"`
	UnitLabel     string          `gorm:"column:unit_label;not null" json:"unit_label"`
	Quantity      int             `gorm:"column:quantity;not null" json:"quantity"`
	UnitPrice     decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null" json:"unit_price"`
	LineTotal     decimal.Decimal `gorm:"column:line_total;type:numeric(12,2);not null" json:"line_total"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
