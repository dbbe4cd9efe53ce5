package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/metrics"
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locks    LockFactory
	Metrics  *metrics.JobMetrics
}

// Service runs each registered job on its own schedule. A job only runs on
// the replica that wins its lock, and never overlaps itself locally.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locks    LockFactory
	metrics  *metrics.JobMetrics

	mu      sync.Mutex
	running map[string]bool
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock factory required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		locks:    params.Locks,
		metrics:  params.Metrics,
		running:  make(map[string]bool),
	}, nil
}

// Run schedules every job and blocks until the context is canceled, then
// waits for in-flight jobs to finish.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	scheduler := robfig.New(robfig.WithSeconds())
	for _, entry := range s.registry.Entries() {
		job := entry.Job
		if _, err := scheduler.AddFunc(entry.Schedule, func() { s.runOnce(ctx, job) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.Name(), entry.Schedule, err)
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"job":      job.Name(),
			"schedule": entry.Schedule,
		}), "cron job scheduled")
	}

	scheduler.Start()
	<-ctx.Done()
	s.logg.Info(ctx, "cron service context canceled")
	<-scheduler.Stop().Done()
	return ctx.Err()
}

// runOnce executes job under its distributed lock.
func (s *Service) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	name := job.Name()
	if !s.claim(name) {
		s.logg.Warn(s.logg.WithField(ctx, "job", name), "previous run still in progress; skipping")
		s.metrics.Skipped(name, metrics.SkipOverlap)
		return
	}
	defer s.unclaim(name)

	lock, err := s.locks(name)
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "job", name), "build cron lock", err)
		s.metrics.Skipped(name, metrics.SkipLockErr)
		return
	}
	locked, err := lock.Acquire(ctx)
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "job", name), "lock acquire", err)
		s.metrics.Skipped(name, metrics.SkipLockErr)
		return
	}
	if !locked {
		s.logg.Info(s.logg.WithField(ctx, "job", name), "another cron instance is running this job; skipping")
		s.metrics.Skipped(name, metrics.SkipLockHeld)
		return
	}
	defer func() {
		if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	s.runJob(ctx, job)
}

func (s *Service) claim(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Service) unclaim(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, name)
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")
	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := job.Run(jobCtx)
	s.metrics.Finished(job.Name(), start, err)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}
