package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/payloads"
)

// CurrentVersion is the envelope version every emitter writes today.
const CurrentVersion = 1

var errEmptyPayload = errors.New("payload is empty")

// Decoder turns envelope data into a typed payload pointer.
type Decoder func(data json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// Decoders maps each event type and envelope version to the schema it was
// written with. Publishers and consumers share one set.
type Decoders struct {
	mu    sync.RWMutex
	byKey map[decoderKey]Decoder
}

// NewDecoders returns an empty set.
func NewDecoders() *Decoders {
	return &Decoders{byKey: make(map[decoderKey]Decoder)}
}

// Register stores decoder for eventType at version, replacing any previous one.
func (d *Decoders) Register(eventType enums.OutboxEventType, version int, decoder Decoder) {
	if decoder == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byKey[decoderKey{eventType: eventType, version: version}] = decoder
}

// Decode reads env.Data with the schema registered for eventType at the
// envelope's version. Unversioned envelopes are read as CurrentVersion.
func (d *Decoders) Decode(eventType enums.OutboxEventType, env outbox.PayloadEnvelope) (any, error) {
	version := env.Version
	if version <= 0 {
		version = CurrentVersion
	}
	d.mu.RLock()
	decoder, ok := d.byKey[decoderKey{eventType: eventType, version: version}]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no decoder for %s@v%d", eventType, version)
	}
	payload, err := decoder(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s@v%d: %w", eventType, version, err)
	}
	return payload, nil
}

// DecodeAs decodes like Decode and asserts the payload type.
func DecodeAs[T any](d *Decoders, eventType enums.OutboxEventType, env outbox.PayloadEnvelope) (*T, error) {
	payload, err := d.Decode(eventType, env)
	if err != nil {
		return nil, err
	}
	typed, ok := payload.(*T)
	if !ok {
		return nil, fmt.Errorf("%s decoded to %T", eventType, payload)
	}
	return typed, nil
}

// JSONDecoder fills a fresh T from the data, then runs check when set.
func JSONDecoder[T any](check func(*T) error) Decoder {
	return func(data json.RawMessage) (any, error) {
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			return nil, errEmptyPayload
		}
		out := new(T)
		if err := json.Unmarshal(trimmed, out); err != nil {
			return nil, err
		}
		if check != nil {
			if err := check(out); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
}

// DomainDecoders registers the v1 schema of every event the services emit.
func DomainDecoders() *Decoders {
	d := NewDecoders()

	d.Register(enums.EventOrderCreated, 1, JSONDecoder(func(p *payloads.OrderCreatedEvent) error {
		if p.CheckoutGroupID == uuid.Nil {
			return errors.New("checkout_group_id required")
		}
		return nil
	}))
	for _, eventType := range []enums.OutboxEventType{
		enums.EventOrderPaid,
		enums.EventOrderStatusChanged,
		enums.EventOrderCancelled,
		enums.EventOrderExpired,
	} {
		d.Register(eventType, 1, JSONDecoder(func(p *payloads.OrderStatusEvent) error {
			return requireIDs("order_id", p.OrderID)
		}))
	}
	for _, eventType := range []enums.OutboxEventType{
		enums.EventDeliveryAssigned,
		enums.EventDeliveryStatusChanged,
	} {
		d.Register(eventType, 1, JSONDecoder(func(p *payloads.DeliveryEvent) error {
			return requireIDs("delivery_id", p.DeliveryID, "order_id", p.OrderID)
		}))
	}
	for _, eventType := range []enums.OutboxEventType{
		enums.EventEscrowReleased,
		enums.EventEscrowRefunded,
		enums.EventEscrowDisputed,
	} {
		d.Register(eventType, 1, JSONDecoder(func(p *payloads.EscrowEvent) error {
			return requireIDs("order_id", p.OrderID, "payment_id", p.PaymentID)
		}))
	}
	for _, eventType := range []enums.OutboxEventType{
		enums.EventDisputeOpened,
		enums.EventDisputeResolved,
		enums.EventDisputeClosed,
	} {
		d.Register(eventType, 1, JSONDecoder(func(p *payloads.DisputeEvent) error {
			return requireIDs("dispute_id", p.DisputeID, "order_id", p.OrderID)
		}))
	}
	d.Register(enums.EventNotificationRequested, 1, JSONDecoder(func(p *payloads.NotificationRequestedEvent) error {
		return requireIDs("notification_id", p.NotificationID, "recipient_id", p.RecipientID)
	}))
	return d
}

// requireIDs takes name/id pairs and reports the first nil id.
func requireIDs(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if id, _ := pairs[i+1].(uuid.UUID); id == uuid.Nil {
			return fmt.Errorf("%s required", pairs[i])
		}
	}
	return nil
}
