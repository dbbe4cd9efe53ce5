package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropday-backend/pkg/config"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/metrics"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxAttempts  = 10
	publishTimeout      = 15 * time.Second
	maxIdleBackoff      = 10 * time.Second
	jitterWindow        = 250 * time.Millisecond
)

type store interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type broker interface {
	Ping(context.Context) error
	Publisher(topic string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterSink interface {
	InsertTx(tx *gorm.DB, entry models.DeadLetter) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          store
	PubSub      broker
	Repository  outboxRepository
	Registry    resolver
	DeadLetters deadLetterSink
	Metrics     *metrics.OutboxMetrics
	// Publishers overrides how a topic's publisher is opened.
	Publishers func(topic string) publisher
}

// Service drains outbox_events onto Pub/Sub. Rows are routed by aggregate to
// their topic and keyed by order, so when ordered delivery is on a
// subscriber sees one order's events in the sequence they were written.
type Service struct {
	logg        *logger.Logger
	db          store
	pubsub      broker
	repo        outboxRepository
	registry    resolver
	deadLetters deadLetterSink
	metrics     *metrics.OutboxMetrics
	publishers  func(topic string) publisher

	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	ordered      bool
	jitter       *rand.Rand
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DeadLetters == nil:
		return nil, errors.New("dead letter repository is required")
	}

	publishers := params.Publishers
	if publishers == nil {
		publishers = func(topic string) publisher {
			return wrapPublisher(params.PubSub.Publisher(topic))
		}
	}

	cfg := params.Config.Outbox
	s := &Service{
		logg:         params.Logger,
		db:           params.DB,
		pubsub:       params.PubSub,
		repo:         params.Repository,
		registry:     params.Registry,
		deadLetters:  params.DeadLetters,
		metrics:      params.Metrics,
		publishers:   publishers,
		batchSize:    cfg.BatchSize,
		maxAttempts:  cfg.MaxAttempts,
		pollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		ordered:      params.Config.PubSub.OrderedDelivery,
		jitter:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	return s, nil
}

// Run sweeps until ctx is canceled. A full batch that made progress is
// followed immediately by the next; an idle or failing one waits, backing
// off while the broker keeps rejecting.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		s.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		s.logg.Error(ctx, "pubsub ping failed", err)
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	wait := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		res, err := s.sweep(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox sweep failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case res.retried > 0 && res.published == 0:
			wait = min(wait*2, maxIdleBackoff)
		case res.published > 0 && res.fetched >= s.batchSize:
			wait = s.pollInterval
			continue
		default:
			wait = s.pollInterval
		}

		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

type sweepResult struct {
	fetched   int
	published int
	retried   int
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeDeferred
	outcomeDeadLetter
)

// attempt is one row's trip through a sweep.
type attempt struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	outcome  outcome
	reason   enums.DeadLetterReason
	err      error
}

func (a attempt) topic() string {
	if a.resolved == nil {
		return ""
	}
	return a.resolved.Route.Topic
}

// sweep publishes one locked batch. Once a publish fails for an ordering key,
// later rows with that key are left untouched for the next sweep so they
// never overtake it, whichever topic they route to.
func (s *Service) sweep(ctx context.Context) (sweepResult, error) {
	var res sweepResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		res.fetched = len(events)

		stalled := make(map[string]struct{})
		for _, event := range events {
			a := s.attempt(ctx, event, stalled)
			if err := s.settle(ctx, tx, a); err != nil {
				return err
			}
			switch a.outcome {
			case outcomePublished:
				res.published++
			case outcomeRetry:
				res.retried++
			}
		}
		return nil
	})
	return res, err
}

func (s *Service) attempt(ctx context.Context, event models.OutboxEvent, stalled map[string]struct{}) attempt {
	a := attempt{event: event}
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		a.outcome, a.reason, a.err = outcomeDeadLetter, enums.DeadLetterNonRetryable, err
		return a
	}
	a.resolved = resolved

	key := resolved.OrderingKey
	if _, blocked := stalled[key]; blocked && s.ordered && key != "" {
		a.outcome = outcomeDeferred
		return a
	}

	pub := s.publishers(resolved.Route.Topic)
	if pub == nil {
		a.outcome, a.reason = outcomeDeadLetter, enums.DeadLetterUnroutable
		a.err = fmt.Errorf("no publisher for topic %s", resolved.Route.Topic)
		return a
	}

	err = s.publish(ctx, pub, event, resolved)
	switch {
	case err == nil:
		a.outcome = outcomePublished
		return a
	case registry.IsNonRetryable(err):
		a.outcome, a.reason, a.err = outcomeDeadLetter, enums.DeadLetterNonRetryable, err
	case event.AttemptCount+1 >= s.maxAttempts:
		a.outcome, a.reason = outcomeDeadLetter, enums.DeadLetterMaxAttempts
		a.err = fmt.Errorf("gave up after %d attempts: %w", event.AttemptCount+1, err)
	default:
		a.outcome, a.err = outcomeRetry, err
	}

	if s.ordered && key != "" {
		// A failed key stays paused in the client until resumed.
		pub.ResumePublish(key)
		if a.outcome == outcomeRetry {
			stalled[key] = struct{}{}
		}
	}
	return a
}

func (s *Service) publish(ctx context.Context, pub publisher, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	env := resolved.Envelope
	attrs := map[string]string{
		"event_id":       env.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"schema_version": strconv.Itoa(max(env.Version, registry.CurrentVersion)),
		"occurred_at":    env.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if resolved.OrderID != nil {
		attrs["order_id"] = resolved.OrderID.String()
	}
	msg := &gcppubsub.Message{Data: event.Payload, Attributes: attrs}
	if s.ordered {
		msg.OrderingKey = resolved.OrderingKey
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher for %s returned no result", resolved.Route.Topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, a attempt) error {
	eventType, topic := string(a.event.EventType), a.topic()
	logCtx := s.logg.WithFields(ctx, s.fields(a))

	switch a.outcome {
	case outcomePublished:
		if err := s.repo.MarkPublishedTx(tx, a.event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", a.event.ID, err)
		}
		s.metrics.Published(eventType, topic)
		s.logg.Info(logCtx, "outbox event published")
	case outcomeRetry:
		if err := s.repo.MarkFailedTx(tx, a.event.ID, a.err); err != nil {
			return fmt.Errorf("mark failed %s: %w", a.event.ID, err)
		}
		s.metrics.Failed(eventType, topic)
		s.logg.Warn(s.logg.WithField(logCtx, "error", a.err.Error()), "outbox publish failed; will retry")
	case outcomeDeferred:
		s.metrics.Deferred(topic)
		s.logg.Debug(logCtx, "outbox event deferred behind a failed ordering key")
	case outcomeDeadLetter:
		return s.park(logCtx, tx, a)
	}
	return nil
}

// park moves a row to the dead letter table and takes it out of rotation.
func (s *Service) park(ctx context.Context, tx *gorm.DB, a attempt) error {
	msg := a.err.Error()
	entry := models.DeadLetter{
		ID:            uuid.New(),
		EventID:       a.event.ID,
		EventType:     a.event.EventType,
		AggregateType: a.event.AggregateType,
		AggregateID:   a.event.AggregateID,
		Topic:         a.topic(),
		Payload:       a.event.Payload,
		Reason:        a.reason,
		ErrorMessage:  &msg,
		AttemptCount:  a.event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if a.resolved != nil {
		entry.OrderID = a.resolved.OrderID
	}
	if a.reason == enums.DeadLetterMaxAttempts {
		entry.AttemptCount++
	}
	if err := s.deadLetters.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dead letter %s: %w", a.event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, a.event.ID, a.err, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", a.event.ID, err)
	}
	s.metrics.DeadLettered(string(a.event.EventType), string(a.reason))
	ctx = s.logg.WithFields(ctx, map[string]any{"reason": a.reason, "error": msg})
	s.logg.Warn(ctx, "outbox event dead-lettered")
	return nil
}

func (s *Service) fields(a attempt) map[string]any {
	fields := map[string]any{
		"outbox_id":     a.event.ID.String(),
		"event_type":    a.event.EventType,
		"aggregate_id":  a.event.AggregateID.String(),
		"attempt_count": a.event.AttemptCount,
	}
	if a.resolved != nil {
		fields["topic"] = a.resolved.Route.Topic
		fields["ordering_key"] = a.resolved.OrderingKey
		fields["event_id"] = a.resolved.Envelope.EventID
		if a.resolved.OrderID != nil {
			fields["order_id"] = a.resolved.OrderID.String()
		}
	}
	return fields
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	d += time.Duration(s.jitter.Int63n(int64(jitterWindow)))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
