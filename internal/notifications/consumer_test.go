package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/registry"
)

type stubStore struct {
	created []models.Notification
	err     error
}

func (s *stubStore) Create(_ context.Context, n *models.Notification) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.created = append(s.created, *n)
	return true, nil
}

type stubTracker struct {
	seen    map[uuid.UUID]bool
	deleted int
	err     error
}

func (s *stubTracker) CheckAndMarkProcessed(_ context.Context, _ string, id uuid.UUID) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.seen == nil {
		s.seen = map[uuid.UUID]bool{}
	}
	if s.seen[id] {
		return true, nil
	}
	s.seen[id] = true
	return false, nil
}

func (s *stubTracker) Delete(_ context.Context, _ string, id uuid.UUID) error {
	s.deleted++
	delete(s.seen, id)
	return nil
}

func (s *stubTracker) ClaimedBy(_ context.Context, _ string, id uuid.UUID) (string, error) {
	if s.seen[id] {
		return "worker.1", nil
	}
	return "", nil
}

func newTestConsumer(store *stubStore, tracker *stubTracker) *Consumer {
	return &Consumer{repo: store, idempotency: tracker, decoders: registry.DomainDecoders(), logg: logger.Nop()}
}

func envelopeBytes(t *testing.T, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	env, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: uuid.NewString(), Data: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return env
}

func TestConsumerStoresNotification(t *testing.T) {
	store := &stubStore{}
	tracker := &stubTracker{}
	c := newTestConsumer(store, tracker)
	orderID := uuid.New()
	payload := payloads.NotificationRequestedEvent{
		NotificationID: uuid.New(),
		RecipientID:    uuid.New(),
		OrderID:        &orderID,
		Type:           enums.NotificationTypeOrderAlert,
		Title:          "New order",
		Message:        "Order DD-1 was placed",
	}
	data := envelopeBytes(t, payload)

	res := c.process(context.Background(), "m1", string(enums.EventNotificationRequested), data)
	if !res.ack {
		t.Fatalf("expected ack")
	}
	if len(store.created) != 1 {
		t.Fatalf("expected one notification, got %d", len(store.created))
	}
	got := store.created[0]
	if got.ID != payload.NotificationID || got.UserID != payload.RecipientID || got.OrderID == nil || *got.OrderID != orderID {
		t.Fatalf("unexpected notification %+v", got)
	}

	res = c.process(context.Background(), "m1", string(enums.EventNotificationRequested), data)
	if !res.ack || len(store.created) != 1 {
		t.Fatalf("redelivery should be acked without a second insert")
	}
}

func TestConsumerSkipsOtherEvents(t *testing.T) {
	store := &stubStore{}
	c := newTestConsumer(store, &stubTracker{})
	res := c.process(context.Background(), "m2", string(enums.EventOrderPaid), []byte(`{}`))
	if !res.ack || len(store.created) != 0 {
		t.Fatalf("expected ack without insert")
	}
}

func TestConsumerNacksOnStoreFailure(t *testing.T) {
	store := &stubStore{err: errors.New("db down")}
	tracker := &stubTracker{}
	c := newTestConsumer(store, tracker)
	data := envelopeBytes(t, payloads.NotificationRequestedEvent{NotificationID: uuid.New(), RecipientID: uuid.New(), Title: "t", Message: "m"})

	res := c.process(context.Background(), "m3", string(enums.EventNotificationRequested), data)
	if !res.nack {
		t.Fatalf("expected nack")
	}
	if tracker.deleted != 1 {
		t.Fatalf("expected processed marker cleared for retry")
	}
}

func TestConsumerNacksWhenIdempotencyUnavailable(t *testing.T) {
	c := newTestConsumer(&stubStore{}, &stubTracker{err: errors.New("redis down")})
	data := envelopeBytes(t, payloads.NotificationRequestedEvent{NotificationID: uuid.New(), RecipientID: uuid.New()})
	if res := c.process(context.Background(), "m4", string(enums.EventNotificationRequested), data); !res.nack {
		t.Fatalf("expected nack")
	}
}

func TestNotificationFromPayloadDefaults(t *testing.T) {
	n := notificationFromPayload(payloads.NotificationRequestedEvent{NotificationID: uuid.New(), RecipientID: uuid.New(), Type: "bogus"})
	if n.Type != enums.NotificationTypeOrderAlert || n.Title != "Order update" {
		t.Fatalf("unexpected defaults %+v", n)
	}
}

func TestConsumerAcksUndecodablePayloads(t *testing.T) {
	valid := payloads.NotificationRequestedEvent{NotificationID: uuid.New(), RecipientID: uuid.New()}
	futureRaw, err := json.Marshal(valid)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	future, err := json.Marshal(outbox.PayloadEnvelope{Version: 2, EventID: uuid.NewString(), Data: futureRaw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	cases := map[string][]byte{
		"missing recipient": envelopeBytes(t, payloads.NotificationRequestedEvent{NotificationID: uuid.New()}),
		"null data":         envelopeBytes(t, nil),
		"unknown version":   future,
		"not json":          []byte("nope"),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			store, tracker := &stubStore{}, &stubTracker{}
			c := newTestConsumer(store, tracker)
			res := c.process(context.Background(), "m5", string(enums.EventNotificationRequested), data)
			if !res.ack || res.nack {
				t.Fatalf("expected ack, got %+v", res)
			}
			if len(store.created) != 0 || len(tracker.seen) != 0 {
				t.Fatalf("undecodable event must not be stored or marked processed")
			}
		})
	}
}
