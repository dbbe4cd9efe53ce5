package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/dropday-backend/pkg/config"
	"github.com/angelmondragon/dropday-backend/pkg/db"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/pubsub"
	"github.com/angelmondragon/dropday-backend/pkg/redis"
)

const (
	readinessAttempts = 5
	readinessBackoff  = time.Second
)

// consumer is a long-running subscription handler.
type consumer interface {
	Run(ctx context.Context) error
}

type dependency struct {
	name string
	ping func(context.Context) error
}

type ServiceParams struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.Client
	Redis     *redis.Client
	PubSub    *pubsub.Client
	Consumers map[string]consumer
}

// Service runs every registered consumer until one fails or ctx ends.
type Service struct {
	logg      *logger.Logger
	deps      []dependency
	consumers map[string]consumer
	backoff   time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Redis == nil:
		return nil, errors.New("redis client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case len(params.Consumers) == 0:
		return nil, errors.New("at least one consumer is required")
	}
	return &Service{
		logg: params.Logger,
		deps: []dependency{
			{name: "database", ping: params.DB.Ping},
			{name: "redis", ping: params.Redis.Ping},
			{name: "pubsub", ping: params.PubSub.Ping},
		},
		consumers: params.Consumers,
		backoff:   readinessBackoff,
	}, nil
}

// awaitDependencies retries each ping with doubling backoff so a worker that
// boots alongside its database does not crash-loop.
func (s *Service) awaitDependencies(ctx context.Context) error {
	for _, dep := range s.deps {
		wait := s.backoff
		for attempt := 1; ; attempt++ {
			err := dep.ping(ctx)
			if err == nil {
				break
			}
			depCtx := s.logg.WithFields(ctx, map[string]any{"dependency": dep.name, "attempt": attempt})
			if attempt == readinessAttempts {
				s.logg.Error(depCtx, "dependency not ready", err)
				return fmt.Errorf("%s not ready: %w", dep.name, err)
			}
			s.logg.Warn(depCtx, "dependency not ready, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}
	}
	s.logg.Info(ctx, "worker dependencies ready")
	return nil
}

// Run blocks until ctx is canceled or a consumer stops on its own.
func (s *Service) Run(ctx context.Context) error {
	if err := s.awaitDependencies(ctx); err != nil {
		return err
	}

	names := make([]string, 0, len(s.consumers))
	for name := range s.consumers {
		names = append(names, name)
	}
	sort.Strings(names)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, name := range names {
		c := s.consumers[name]
		consumerCtx := s.logg.WithField(groupCtx, "consumer", name)
		group.Go(func() error {
			s.logg.Info(consumerCtx, "consumer started")
			err := c.Run(consumerCtx)
			if groupCtx.Err() != nil {
				return nil
			}
			if err == nil {
				err = errors.New("exited without error")
			}
			s.logg.Error(consumerCtx, "consumer stopped unexpectedly", err)
			return fmt.Errorf("consumer %s: %w", name, err)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
