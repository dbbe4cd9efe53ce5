package models

import (
	"time"

	"github.com/google/uuid"
)

// Shop is the seller's storefront. Operating hours are "HH:MM" strings in the
// shop's timezone; nil hours mean the shop is always open.
type Shop struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OwnerID   uuid.UUID `gorm:"column:owner_id;type:uuid;not null" json:"owner_id"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	Latitude  *float64  `gorm:"column:latitude" json:"latitude"`
	Longitude *float64  `gorm:"column:longitude" json:"longitude"`
	OpensAt   *string   `gorm:"column:opens_at" json:"opens_at"`
	ClosesAt  *string   `gorm:"column:closes_at" json:"closes_at"`
	Timezone  string    `gorm:"column:timezone;not null;default:'UTC'" json:"timezone"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
