package main

import (
	"fmt"

	"github.com/angelmondragon/dropday-backend/internal/cron"
	"github.com/angelmondragon/dropday-backend/internal/engine"
	"github.com/angelmondragon/dropday-backend/pkg/boot"
)

// planned is a job waiting for its schedule. build is skipped when the
// schedule is blank, which is how a deployment turns a job off.
type planned struct {
	name     string
	schedule string
	build    func() (cron.Job, error)
}

func jobsFor(proc *boot.Process, eng *engine.Engine) []planned {
	cfg, logg := proc.Config, proc.Logger
	return []planned{
		{
			name:     "escrow-sweep",
			schedule: cfg.Cron.EscrowSweepSchedule,
			build: func() (cron.Job, error) {
				return cron.NewEscrowSweepJob(cron.EscrowSweepJobParams{Logger: logg, Orders: eng.OrdersRepo, Escrow: eng.Escrow})
			},
		},
		{
			name:     "order-ttl",
			schedule: cfg.Cron.PendingExpirySchedule,
			build: func() (cron.Job, error) {
				return cron.NewOrderTTLJob(cron.OrderTTLJobParams{Logger: logg, Orders: eng.Orders, TTL: cfg.Cron.PendingOrderTTL})
			},
		},
		{
			name:     "outbox-retention",
			schedule: cfg.Cron.OutboxRetentionSchedule,
			build: func() (cron.Job, error) {
				return cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
					Logger:              logg,
					Repository:          eng.OutboxRepo,
					DeadLetters:         eng.DeadLetters,
					Retention:           cfg.Outbox.Retention,
					DeadLetterRetention: cfg.Outbox.DeadLetterRetention,
				})
			},
		},
	}
}

func schedule(jobs ...planned) ([]cron.Entry, error) {
	entries := make([]cron.Entry, 0, len(jobs))
	for _, p := range jobs {
		if p.schedule == "" {
			continue
		}
		job, err := p.build()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
		entries = append(entries, cron.Entry{Schedule: p.schedule, Job: job})
	}
	return entries, nil
}
