package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropday-backend/pkg/config"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/payloads"
)

// Route says which aggregate owns an event type and which topic carries it.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is an outbox row ready to publish.
type ResolvedEvent struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  any
	// OrderingKey groups messages that subscribers must see in sequence.
	// Everything about one order shares its order id.
	OrderingKey string
	// OrderID is set when the event concerns exactly one order.
	OrderID *uuid.UUID
}

// NonRetryableError marks a row that will never publish as stored.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps err so the publisher dead-letters the row.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err carries a NonRetryableError.
func IsNonRetryable(err error) bool {
	var target NonRetryableError
	return errors.As(err, &target)
}

var eventAggregates = map[enums.OutboxEventType]enums.OutboxAggregateType{
	enums.EventOrderCreated:          enums.AggregateCheckoutGroup,
	enums.EventOrderPaid:             enums.AggregateOrder,
	enums.EventOrderStatusChanged:    enums.AggregateOrder,
	enums.EventOrderCancelled:        enums.AggregateOrder,
	enums.EventOrderExpired:          enums.AggregateOrder,
	enums.EventDeliveryAssigned:      enums.AggregateDelivery,
	enums.EventDeliveryStatusChanged: enums.AggregateDelivery,
	enums.EventEscrowReleased:        enums.AggregatePayment,
	enums.EventEscrowRefunded:        enums.AggregatePayment,
	enums.EventEscrowDisputed:        enums.AggregatePayment,
	enums.EventDisputeOpened:         enums.AggregateDispute,
	enums.EventDisputeResolved:       enums.AggregateDispute,
	enums.EventDisputeClosed:         enums.AggregateDispute,
	enums.EventNotificationRequested: enums.AggregateNotification,
}

// EventRegistry routes outbox rows to topics and decodes their payloads.
type EventRegistry struct {
	routes   map[enums.OutboxEventType]Route
	decoders *Decoders
}

// NewEventRegistry builds the routing table from the configured topics.
func NewEventRegistry(cfg config.PubSubConfig, decoders *Decoders) (*EventRegistry, error) {
	orders := strings.TrimSpace(cfg.OrdersTopic)
	if orders == "" {
		return nil, fmt.Errorf("%s is required", config.EnvPubSubOrdersTopic)
	}
	notifications := strings.TrimSpace(cfg.NotificationTopic)
	if notifications == "" {
		return nil, fmt.Errorf("%s is required", config.EnvPubSubNotificationTopic)
	}
	if decoders == nil {
		decoders = DomainDecoders()
	}

	topics := map[enums.OutboxAggregateType]string{
		enums.AggregateCheckoutGroup: orders,
		enums.AggregateOrder:         orders,
		enums.AggregatePayment:       orDefault(cfg.PaymentsTopic, orders),
		enums.AggregateDelivery:      orDefault(cfg.DeliveriesTopic, orders),
		enums.AggregateDispute:       orDefault(cfg.DisputesTopic, orders),
		enums.AggregateNotification:  notifications,
	}

	reg := &EventRegistry{routes: make(map[enums.OutboxEventType]Route, len(eventAggregates)), decoders: decoders}
	for eventType, aggregate := range eventAggregates {
		reg.routes[eventType] = Route{EventType: eventType, AggregateType: aggregate, Topic: topics[aggregate]}
	}
	return reg, nil
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

// Route returns the route registered for eventType.
func (r *EventRegistry) Route(eventType enums.OutboxEventType) (Route, bool) {
	route, ok := r.routes[eventType]
	return route, ok
}

// Topics lists the distinct topics in use, sorted.
func (r *EventRegistry) Topics() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, route := range r.routes {
		if _, ok := seen[route.Topic]; ok {
			continue
		}
		seen[route.Topic] = struct{}{}
		out = append(out, route.Topic)
	}
	sort.Strings(out)
	return out
}

// Resolve checks the row against its route and decodes the payload. Every
// error is non-retryable: the stored row cannot change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	route, ok := r.routes[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if route.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("%s belongs to %s, row says %s", event.EventType, route.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	payload, err := r.decoders.Decode(event.EventType, envelope)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}

	return &ResolvedEvent{
		Route:       route,
		Envelope:    envelope,
		Payload:     payload,
		OrderingKey: orderingKey(payload, event.AggregateID),
		OrderID:     orderOf(payload),
	}, nil
}

func orderingKey(payload any, aggregateID uuid.UUID) string {
	switch p := payload.(type) {
	case *payloads.OrderStatusEvent:
		return p.OrderID.String()
	case *payloads.DeliveryEvent:
		return p.OrderID.String()
	case *payloads.EscrowEvent:
		return p.OrderID.String()
	case *payloads.DisputeEvent:
		return p.OrderID.String()
	case *payloads.OrderCreatedEvent:
		return p.CheckoutGroupID.String()
	case *payloads.NotificationRequestedEvent:
		return p.RecipientID.String()
	}
	return aggregateID.String()
}

func orderOf(payload any) *uuid.UUID {
	var id uuid.UUID
	switch p := payload.(type) {
	case *payloads.OrderStatusEvent:
		id = p.OrderID
	case *payloads.DeliveryEvent:
		id = p.OrderID
	case *payloads.EscrowEvent:
		id = p.OrderID
	case *payloads.DisputeEvent:
		id = p.OrderID
	case *payloads.NotificationRequestedEvent:
		return p.OrderID
	}
	if id == uuid.Nil {
		return nil
	}
	return &id
}
