package notifications

import (
	"context"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/registry"
)

const notificationConsumer = "in-app-notifications"

type repository interface {
	Create(ctx context.Context, notification *models.Notification) (bool, error)
}

type processedTracker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
	ClaimedBy(ctx context.Context, consumer string, eventID uuid.UUID) (string, error)
}

// Consumer stores notification_requested events as in-app notifications.
type Consumer struct {
	repo         repository
	subscription *pubsub.Subscriber
	idempotency  processedTracker
	decoders     *registry.Decoders
	logg         *logger.Logger
}

// NewConsumer builds a notification consumer.
func NewConsumer(repo repository, subscription *pubsub.Subscriber, manager processedTracker, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		idempotency:  manager,
		decoders:     registry.DomainDecoders(),
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg.ID, msg.Attributes["event_type"], msg.Data)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, messageID, eventType string, data []byte) processResult {
	fields := map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	}
	logCtx := c.logg.WithFields(ctx, fields)

	if eventType != string(enums.EventNotificationRequested) {
		c.logg.Info(logCtx, "skipping non-notification event")
		return processResult{ack: true}
	}

	envelope, err := outbox.DecodeEnvelope(data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id":       eventID.String(),
		"schema_version": envelope.Version,
	})

	// Undecodable payloads never get better on redelivery, so they are acked.
	payload, err := registry.DecodeAs[payloads.NotificationRequestedEvent](c.decoders, enums.EventNotificationRequested, envelope)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode notification payload", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, notificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		if owner, err := c.idempotency.ClaimedBy(ctx, notificationConsumer, eventID); err == nil && owner != "" {
			logCtx = c.logg.WithField(logCtx, "claimed_by", owner)
		}
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"user_id":         payload.RecipientID.String(),
		"notification_id": payload.NotificationID.String(),
	})

	created, err := c.repo.Create(ctx, notificationFromPayload(*payload))
	if err != nil {
		c.logg.Error(logCtx, "failed to store notification", err)
		_ = c.idempotency.Delete(ctx, notificationConsumer, eventID)
		return processResult{nack: true}
	}
	if created {
		c.logg.Info(logCtx, "notification stored")
	}
	return processResult{ack: true}
}

func notificationFromPayload(p payloads.NotificationRequestedEvent) *models.Notification {
	notificationType := p.Type
	if !notificationType.IsValid() {
		notificationType = enums.NotificationTypeOrderAlert
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = "Order update"
	}
	return &models.Notification{
		ID:      p.NotificationID,
		UserID:  p.RecipientID,
		OrderID: p.OrderID,
		Type:    notificationType,
		Title:   title,
		Message: p.Message,
		Link:    p.Link,
	}
}
