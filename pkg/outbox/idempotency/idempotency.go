// Package idempotency keeps Pub/Sub consumers from applying the same outbox
// event twice. Pub/Sub delivers at least once, so every consumer claims an
// event id in redis before handling it and releases the claim when handling
// fails and the message is nacked.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/dropday-backend/pkg/instance"
	"github.com/angelmondragon/dropday-backend/pkg/redis"
)

// DefaultTTL outlives the Pub/Sub retention window for redeliveries.
const DefaultTTL = 7 * 24 * time.Hour

// Manager claims event ids per consumer. Claims are stored under
// dd:idempotency:evt:<consumer>:<event_id> with the claiming replica and time.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	owner string
	now   func() time.Time
}

// NewManager builds a claim tracker. A zero ttl uses DefaultTTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, fmt.Errorf("idempotency ttl must not be negative, got %s", ttl)
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl, owner: instance.GetID(), now: time.Now}, nil
}

// CheckAndMarkProcessed claims eventID for consumer. It returns true when a
// previous delivery already holds the claim and the event must be skipped.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, m.marker(), m.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return !claimed, nil
}

// Delete drops the claim so the next delivery of eventID is handled again.
func (m *Manager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

// ClaimedBy reports which replica holds the claim, or "" when nobody does.
func (m *Manager) ClaimedBy(ctx context.Context, consumer string, eventID uuid.UUID) (string, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return "", err
	}
	marker, err := m.store.Get(ctx, key)
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	owner, _, _ := strings.Cut(marker, "@")
	return owner, nil
}

func (m *Manager) marker() string {
	return m.owner + "@" + m.now().UTC().Format(time.RFC3339)
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	consumer = strings.TrimSpace(consumer)
	switch {
	case consumer == "":
		return "", errors.New("consumer name is required")
	case eventID == uuid.Nil:
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
