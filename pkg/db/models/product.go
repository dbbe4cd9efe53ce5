package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is a catalog entry owned by a shop.
type Product struct {
	ID           uuid.UUID     `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ShopID       uuid.UUID     `gorm:"column:shop_id;type:uuid;not null" json:"shop_id"`
	Name         string        `gorm:"column:name;not null" json:"name"`
	IsActive     bool          `gorm:"column:is_active;not null;default:true" json:"is_active"`
	PricingUnits []PricingUnit `gorm:"foreignKey:ProductID" json:"pricing_units,omitempty"`
	CreatedAt    time.Time     `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// PricingUnit is a sellable unit of a product. A nil Stock means untracked.
type PricingUnit struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;not null" json:"product_id"`
	Label     string          `gorm:"column:label;not null" json:"label"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null" json:"price"`
	Stock     *int            `gorm:"column:stock" json:"stock"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
