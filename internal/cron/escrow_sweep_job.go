package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
)

const defaultSweepBatch = 100

// EscrowSweepJobParams configure the escrow release sweep.
type EscrowSweepJobParams struct {
	Logger    *logger.Logger
	Orders    releasableReader
	Escrow    autoReleaser
	BatchSize int
}

type releasableReader interface {
	FindReleasableOrderIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type autoReleaser interface {
	AutoRelease(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
}

// NewEscrowSweepJob builds the job that pays out delivered orders whose
// escrow is still held, e.g. when payment confirmed after delivery.
func NewEscrowSweepJob(params EscrowSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Escrow == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &escrowSweepJob{
		logg:   params.Logger,
		orders: params.Orders,
		escrow: params.Escrow,
		batch:  batch,
	}, nil
}

type escrowSweepJob struct {
	logg   *logger.Logger
	orders releasableReader
	escrow autoReleaser
	batch  int
}

func (j *escrowSweepJob) Name() string { return "escrow-sweep" }

func (j *escrowSweepJob) Run(ctx context.Context) error {
	ids, err := j.orders.FindReleasableOrderIDs(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("query releasable orders: %w", err)
	}
	var (
		errs     []error
		released int
		skipped  int
	)
	for _, id := range ids {
		if _, err := j.escrow.AutoRelease(ctx, id); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) || pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
				skipped++
				j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
					"order_id": id.String(),
					"reason":   string(pkgerrors.ReasonOf(err)),
				}), "escrow sweep skipped order")
				continue
			}
			errs = append(errs, fmt.Errorf("release %s: %w", id, err))
			continue
		}
		released++
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(ids),
		"released":   released,
		"skipped":    skipped,
		"failed":     len(errs),
	}), "escrow sweep complete")
	return multierr.Combine(errs...)
}
