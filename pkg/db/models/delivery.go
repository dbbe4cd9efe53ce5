package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropday-backend/pkg/enums"
)

// Delivery tracks the rider hand-off for an order.
type Delivery struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID           uuid.UUID            `gorm:"column:order_id;type:uuid;not null;uniqueIndex" json:"order_id"`
	RiderID           *uuid.UUID           `gorm:"column:rider_id;type:uuid" json:"rider_id"`
	Status            enums.DeliveryStatus `gorm:"column:status;type:delivery_status;not null;default:'PENDING'" json:"status"`
	RiderLatitude     *float64             `gorm:"column:rider_latitude" json:"rider_latitude"`
	RiderLongitude    *float64             `gorm:"column:rider_longitude" json:"rider_longitude"`
	LocationUpdatedAt *time.Time           `gorm:"column:location_updated_at" json:"location_updated_at"`
	FailureReason     *string              `gorm:"column:failure_reason" json:"failure_reason"`
	AssignedAt        *time.Time           `gorm:"column:assigned_at" json:"assigned_at"`
	PickedUpAt        *time.Time           `gorm:"column:picked_up_at" json:"picked_up_at"`
	DeliveredAt       *time.Time           `gorm:"column:delivered_at" json:"delivered_at"`
	FailedAt          *time.Time           `gorm:"column:failed_at" json:"failed_at"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
