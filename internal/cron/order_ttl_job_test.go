package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/dropday-backend/pkg/logger"
)

type fakeExpirer struct {
	batches []int
	cutoffs []time.Time
	err     error
}

func (f *fakeExpirer) ExpirePending(_ context.Context, cutoff time.Time, limit int) (int, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	if f.err != nil {
		return 0, f.err
	}
	if len(f.batches) == 0 {
		return 0, nil
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	if n > limit {
		n = limit
	}
	return n, nil
}

func newOrderTTLJobForTest(t *testing.T, expirer *fakeExpirer, ttl time.Duration) *orderTTLJob {
	t.Helper()
	jobIface, err := NewOrderTTLJob(OrderTTLJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Orders: expirer,
		TTL:    ttl,
	})
	if err != nil {
		t.Fatalf("NewOrderTTLJob: %v", err)
	}
	job, ok := jobIface.(*orderTTLJob)
	if !ok {
		t.Fatalf("expected orderTTLJob, got %T", jobIface)
	}
	return job
}

func TestOrderTTLJobUsesConfiguredCutoff(t *testing.T) {
	now := time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC)
	expirer := &fakeExpirer{batches: []int{3}}
	job := newOrderTTLJobForTest(t, expirer, 90*time.Minute)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(expirer.cutoffs) != 1 {
		t.Fatalf("expected a single batch, got %d", len(expirer.cutoffs))
	}
	if want := now.Add(-90 * time.Minute); !expirer.cutoffs[0].Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, expirer.cutoffs[0])
	}
}

func TestOrderTTLJobDrainsFullBatches(t *testing.T) {
	expirer := &fakeExpirer{batches: []int{expiryBatchSize, expiryBatchSize, 5}}
	job := newOrderTTLJobForTest(t, expirer, 0)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(expirer.cutoffs) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(expirer.cutoffs))
	}
	if job.ttl != defaultPendingOrderTTL {
		t.Fatalf("expected default ttl, got %s", job.ttl)
	}
}

func TestOrderTTLJobPropagatesError(t *testing.T) {
	job := newOrderTTLJobForTest(t, &fakeExpirer{err: errors.New("db down")}, time.Hour)
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
