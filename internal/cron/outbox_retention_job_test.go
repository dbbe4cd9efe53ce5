package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/dropday-backend/pkg/logger"
)

type pruneRecorder struct {
	cutoffs []time.Time
	err     error
}

func (p *pruneRecorder) prune(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	return 7, p.err
}

type eventsPruner struct{ pruneRecorder }

func (e *eventsPruner) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return e.prune(ctx, cutoff)
}

type deadLetterPruner struct{ pruneRecorder }

func (d *deadLetterPruner) DeleteReplayedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return d.prune(ctx, cutoff)
}

func retentionJob(t *testing.T, params OutboxRetentionJobParams) *outboxRetentionJob {
	t.Helper()
	params.Logger = logger.Nop()
	job, err := NewOutboxRetentionJob(params)
	require.NoError(t, err)
	impl := job.(*outboxRetentionJob)
	impl.now = func() time.Time { return time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC) }
	return impl
}

func TestOutboxRetentionUsesDefaultWindows(t *testing.T) {
	events, letters := &eventsPruner{}, &deadLetterPruner{}
	job := retentionJob(t, OutboxRetentionJobParams{Repository: events, DeadLetters: letters})

	require.NoError(t, job.Run(context.Background()))
	now := job.now()
	assert.Equal(t, []time.Time{now.Add(-outboxRetention)}, events.cutoffs)
	assert.Equal(t, []time.Time{now.Add(-deadLetterRetention)}, letters.cutoffs)
}

func TestOutboxRetentionHonoursConfiguredWindow(t *testing.T) {
	events := &eventsPruner{}
	job := retentionJob(t, OutboxRetentionJobParams{Repository: events, Retention: 48 * time.Hour})

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []time.Time{job.now().Add(-48 * time.Hour)}, events.cutoffs)
	assert.Len(t, job.sweeps, 1)
}

func TestOutboxRetentionRunsEverySweepOnFailure(t *testing.T) {
	events := &eventsPruner{pruneRecorder{err: errors.New("lock timeout")}}
	letters := &deadLetterPruner{}
	job := retentionJob(t, OutboxRetentionJobParams{Repository: events, DeadLetters: letters})

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prune outbox_events")
	assert.Len(t, letters.cutoffs, 1)
}

func TestOutboxRetentionRequiresRepository(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.Nop()})
	assert.Error(t, err)
}
