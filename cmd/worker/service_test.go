package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/dropday-backend/pkg/logger"
)

type blockingConsumer struct{ started atomic.Bool }

func (c *blockingConsumer) Run(ctx context.Context) error {
	c.started.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

type failingConsumer struct{ err error }

func (c failingConsumer) Run(context.Context) error { return c.err }

func testService(consumers map[string]consumer, deps ...dependency) *Service {
	return &Service{logg: logger.Nop(), deps: deps, consumers: consumers, backoff: time.Millisecond}
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	c := &blockingConsumer{}
	svc := testService(map[string]consumer{"notifications": c})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, c.started.Load, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestRunFailsWhenAConsumerDies(t *testing.T) {
	steady := &blockingConsumer{}
	boom := errors.New("subscription deleted")
	svc := testService(map[string]consumer{
		"notifications": steady,
		"exports":       failingConsumer{err: boom},
	})

	err := svc.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "consumer exports")
}

func TestRunTreatsNilExitAsFailure(t *testing.T) {
	svc := testService(map[string]consumer{"notifications": failingConsumer{}})
	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited without error")
}

func TestAwaitDependenciesRetries(t *testing.T) {
	calls := 0
	flaky := dependency{name: "database", ping: func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}}
	svc := testService(nil, flaky)

	require.NoError(t, svc.awaitDependencies(context.Background()))
	assert.Equal(t, 3, calls)
}

func TestAwaitDependenciesGivesUp(t *testing.T) {
	down := dependency{name: "redis", ping: func(context.Context) error { return errors.New("no route to host") }}
	svc := testService(nil, down)

	err := svc.awaitDependencies(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis not ready")
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.EqualError(t, err, "config is required")
}
