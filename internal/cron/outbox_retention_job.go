package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/dropday-backend/pkg/logger"
)

const (
	outboxRetention     = 30 * 24 * time.Hour
	deadLetterRetention = 90 * 24 * time.Hour
)

type publishedEvents interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type replayedDeadLetters interface {
	DeleteReplayedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// OutboxRetentionJobParams configures the nightly outbox prune. DeadLetters
// is optional; unreplayed dead letters are never pruned.
type OutboxRetentionJobParams struct {
	Logger              *logger.Logger
	Repository          publishedEvents
	DeadLetters         replayedDeadLetters
	Retention           time.Duration
	DeadLetterRetention time.Duration
}

type sweep struct {
	table  string
	keep   time.Duration
	delete func(ctx context.Context, cutoff time.Time) (int64, error)
}

type outboxRetentionJob struct {
	logg   *logger.Logger
	sweeps []sweep
	now    func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{logg: params.Logger, now: time.Now}
	job.sweeps = append(job.sweeps, sweep{
		table:  "outbox_events",
		keep:   orDefault(params.Retention, outboxRetention),
		delete: params.Repository.DeletePublishedBefore,
	})
	if params.DeadLetters != nil {
		job.sweeps = append(job.sweeps, sweep{
			table:  "outbox_dead_letters",
			keep:   orDefault(params.DeadLetterRetention, deadLetterRetention),
			delete: params.DeadLetters.DeleteReplayedBefore,
		})
	}
	return job, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run attempts every sweep even when an earlier one fails.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var errs error
	for _, s := range j.sweeps {
		cutoff := now.Add(-s.keep)
		deleted, err := s.delete(ctx, cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("prune %s: %w", s.table, err))
			continue
		}
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"table":        s.table,
			"cutoff":       cutoff,
			"rows_deleted": deleted,
		}), "retention sweep complete")
	}
	return errs
}
