package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/metrics"
)

const (
	maxDeadLetterMessage  = 1024
	defaultDeadLetterPage = 50
	maxDeadLetterPage     = 200
)

// DeadLetterFilter narrows List. Replayed entries are hidden unless asked for.
type DeadLetterFilter struct {
	OrderID         *uuid.UUID
	EventType       enums.OutboxEventType
	IncludeReplayed bool
	Limit           int
}

// DeadLetterRepository parks outbox rows the publisher gave up on and puts
// them back in the queue on request.
type DeadLetterRepository struct {
	db      *gorm.DB
	metrics *metrics.OutboxMetrics
}

func NewDeadLetterRepository(db *gorm.DB, m *metrics.OutboxMetrics) *DeadLetterRepository {
	return &DeadLetterRepository{db: db, metrics: m}
}

func (r *DeadLetterRepository) InsertTx(tx *gorm.DB, entry models.DeadLetter) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	if entry.ErrorMessage != nil && len(*entry.ErrorMessage) > maxDeadLetterMessage {
		msg := (*entry.ErrorMessage)[:maxDeadLetterMessage]
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// List returns the newest dead letters first.
func (r *DeadLetterRepository) List(ctx context.Context, filter DeadLetterFilter) ([]models.DeadLetter, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultDeadLetterPage
	}
	if limit > maxDeadLetterPage {
		limit = maxDeadLetterPage
	}
	q := r.db.WithContext(ctx).Model(&models.DeadLetter{})
	if filter.OrderID != nil {
		q = q.Where("order_id = ?", *filter.OrderID)
	}
	if filter.EventType != "" {
		q = q.Where("event_type = ?", filter.EventType)
	}
	if !filter.IncludeReplayed {
		q = q.Where("replayed_at IS NULL")
	}
	var rows []models.DeadLetter
	err := q.Order("failed_at DESC").Order("id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Replay resets the source outbox row so the publisher picks it up again and
// stamps the dead letter as replayed. A dead letter replays at most once; a
// second failure parks a fresh entry.
func (r *DeadLetterRepository) Replay(ctx context.Context, id uuid.UUID) (*models.DeadLetter, error) {
	var entry models.DeadLetter
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load dead letter")
		}
		if entry.ReplayedAt != nil {
			return pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonAlreadyReplayed, "dead letter already replayed")
		}

		res := tx.Model(&models.OutboxEvent{}).
			Where("id = ?", entry.EventID).
			Updates(map[string]any{
				"attempt_count": 0,
				"last_error":    nil,
				"published_at":  nil,
			})
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "reset outbox event")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "outbox event no longer exists")
		}

		now := time.Now().UTC()
		if err := tx.Model(&models.DeadLetter{}).Where("id = ?", entry.ID).Update("replayed_at", now).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark dead letter replayed")
		}
		entry.ReplayedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.metrics.Replayed(string(entry.EventType))
	return &entry, nil
}

// DeleteReplayedBefore prunes dead letters replayed before cutoff.
func (r *DeadLetterRepository) DeleteReplayedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("replayed_at IS NOT NULL AND replayed_at < ?", cutoff).
		Delete(&models.DeadLetter{})
	return res.RowsAffected, res.Error
}
