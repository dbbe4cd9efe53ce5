package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/dropday-backend/pkg/logger"
)

const (
	defaultPendingOrderTTL = 2 * time.Hour
	expiryBatchSize        = 200
)

// OrderTTLJobParams configure the pending order expiry job.
type OrderTTLJobParams struct {
	Logger  *logger.Logger
	Orders  pendingOrderExpirer
	TTL     time.Duration
	MaxRuns int
}

type pendingOrderExpirer interface {
	ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// NewOrderTTLJob builds the cron job that cancels orders left unpaid past the TTL.
func NewOrderTTLJob(params OrderTTLJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingOrderTTL
	}
	maxRuns := params.MaxRuns
	if maxRuns <= 0 {
		maxRuns = 10
	}
	return &orderTTLJob{
		logg:    params.Logger,
		orders:  params.Orders,
		ttl:     ttl,
		maxRuns: maxRuns,
		now:     time.Now,
	}, nil
}

type orderTTLJob struct {
	logg    *logger.Logger
	orders  pendingOrderExpirer
	ttl     time.Duration
	maxRuns int
	now     func() time.Time
}

func (j *orderTTLJob) Name() string { return "order-ttl" }

// Run drains expired orders batch by batch, bounded by maxRuns per tick.
func (j *orderTTLJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	total := 0
	for i := 0; i < j.maxRuns; i++ {
		n, err := j.orders.ExpirePending(ctx, cutoff, expiryBatchSize)
		total += n
		if err != nil {
			return fmt.Errorf("expire pending orders: %w", err)
		}
		if n < expiryBatchSize {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"expired": total,
	})
	j.logg.Info(logCtx, "order expiration loop complete")
	return nil
}
