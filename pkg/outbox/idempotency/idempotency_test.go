package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type claimStore struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newClaimStore() *claimStore {
	return &claimStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *claimStore) Get(_ context.Context, key string) (string, error) {
	v, ok := s.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (s *claimStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value.(string)
	s.ttls[key] = ttl
	return true, nil
}

func (s *claimStore) IdempotencyKey(scope, id string) string {
	return "dd:idempotency:" + scope + ":" + id
}

func (s *claimStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

func newTestManager(t *testing.T, store *claimStore, ttl time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(store, ttl)
	require.NoError(t, err)
	m.owner = "worker.1"
	m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestClaimIsPerConsumer(t *testing.T) {
	ctx := context.Background()
	store := newClaimStore()
	m := newTestManager(t, store, 24*time.Hour)
	eventID := uuid.New()

	already, err := m.CheckAndMarkProcessed(ctx, "in-app-notifications", eventID)
	require.NoError(t, err)
	assert.False(t, already)

	already, err = m.CheckAndMarkProcessed(ctx, "in-app-notifications", eventID)
	require.NoError(t, err)
	assert.True(t, already, "second delivery is skipped")

	already, err = m.CheckAndMarkProcessed(ctx, "payout-exports", eventID)
	require.NoError(t, err)
	assert.False(t, already, "other consumers keep their own claims")

	key := "dd:idempotency:evt:in-app-notifications:" + eventID.String()
	assert.Equal(t, "worker.1@2026-03-01T12:00:00Z", store.values[key])
	assert.Equal(t, 24*time.Hour, store.ttls[key])
}

func TestDeleteAllowsRedelivery(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newClaimStore(), time.Hour)
	eventID := uuid.New()

	_, err := m.CheckAndMarkProcessed(ctx, "in-app-notifications", eventID)
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, "in-app-notifications", eventID))

	already, err := m.CheckAndMarkProcessed(ctx, "in-app-notifications", eventID)
	require.NoError(t, err)
	assert.False(t, already)
}

func TestClaimedBy(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newClaimStore(), time.Hour)
	eventID := uuid.New()

	owner, err := m.ClaimedBy(ctx, "in-app-notifications", eventID)
	require.NoError(t, err)
	assert.Empty(t, owner)

	_, err = m.CheckAndMarkProcessed(ctx, "in-app-notifications", eventID)
	require.NoError(t, err)
	owner, err = m.ClaimedBy(ctx, "in-app-notifications", eventID)
	require.NoError(t, err)
	assert.Equal(t, "worker.1", owner)
}

func TestClaimErrors(t *testing.T) {
	ctx := context.Background()
	store := newClaimStore()
	m := newTestManager(t, store, time.Hour)

	_, err := m.CheckAndMarkProcessed(ctx, " ", uuid.New())
	assert.Error(t, err)
	_, err = m.CheckAndMarkProcessed(ctx, "in-app-notifications", uuid.Nil)
	assert.Error(t, err)

	store.err = errors.New("connection refused")
	_, err = m.CheckAndMarkProcessed(ctx, "in-app-notifications", uuid.New())
	assert.ErrorIs(t, err, store.err)
}

func TestNewManagerDefaults(t *testing.T) {
	_, err := NewManager(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewManager(newClaimStore(), -time.Second)
	assert.Error(t, err)

	m, err := NewManager(newClaimStore(), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, m.ttl)
	assert.NotEmpty(t, m.owner)
}
