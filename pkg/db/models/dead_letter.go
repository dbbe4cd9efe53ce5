package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropday-backend/pkg/enums"
)

// DeadLetter is an outbox row the publisher stopped retrying. OrderID and
// Topic let support find every parked event of one order and replay it.
type DeadLetter struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	EventID       uuid.UUID                 `gorm:"column:event_id;type:uuid;not null" json:"eventId"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:event_type_enum;not null" json:"eventType"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:aggregate_type_enum;not null" json:"aggregateType"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null" json:"aggregateId"`
	OrderID       *uuid.UUID                `gorm:"column:order_id;type:uuid" json:"orderId,omitempty"`
	Topic         string                    `gorm:"column:topic;not null;default:''" json:"topic"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null" json:"payload"`
	Reason        enums.DeadLetterReason    `gorm:"column:reason;type:dead_letter_reason_enum;not null" json:"reason"`
	ErrorMessage  *string                   `gorm:"column:error_message" json:"errorMessage,omitempty"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0" json:"attemptCount"`
	FailedAt      time.Time                 `gorm:"column:failed_at;not null" json:"failedAt"`
	ReplayedAt    *time.Time                `gorm:"column:replayed_at" json:"replayedAt,omitempty"`
}

func (DeadLetter) TableName() string { return "outbox_dead_letters" }
