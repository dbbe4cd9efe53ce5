package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/payloads"
)

// Request queues an in-app notification inside tx. The worker consuming the
// notification topic stores it once the transaction commits.
func Request(ctx context.Context, tx *gorm.DB, emitter outbox.Emitter, actor *outbox.ActorRef, n payloads.NotificationRequestedEvent) error {
	if emitter == nil {
		return fmt.Errorf("outbox emitter required")
	}
	if n.RecipientID == uuid.Nil {
		return nil
	}
	if n.NotificationID == uuid.Nil {
		n.NotificationID = uuid.New()
	}
	return emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateNotification,
		AggregateID:   n.NotificationID,
		Actor:         actor,
		Data:          n,
	})
}

// OrderLink is the in-app path of an order.
func OrderLink(orderID uuid.UUID) *string {
	link := fmt.Sprintf("/orders/%s", orderID)
	return &link
}
