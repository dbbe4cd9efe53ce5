package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
)

// Repository persists in-app notifications. Every read and write is scoped
// to the recipient.
type Repository interface {
	Create(ctx context.Context, notification *models.Notification) (bool, error)
	List(ctx context.Context, inbox inboxQuery) ([]models.Notification, string, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID, at time.Time) (readOutcome, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// inboxQuery selects one page of a user's inbox.
type inboxQuery struct {
	UserID     uuid.UUID
	UnreadOnly bool
	Page       pagination.Params
}

type readOutcome int

const (
	readMissing readOutcome = iota
	readAlready
	readNow
)

func (r *gormRepository) inbox(ctx context.Context, userID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
}

// Create ignores a row that already exists with the same id and reports
// whether anything was written.
func (r *gormRepository) Create(ctx context.Context, notification *models.Notification) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(notification)
	return res.RowsAffected > 0, res.Error
}

func (r *gormRepository) List(ctx context.Context, inbox inboxQuery) ([]models.Notification, string, error) {
	query := r.inbox(ctx, inbox.UserID)
	if inbox.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}
	query, limit, err := pagination.Newest(query, "", inbox.Page)
	if err != nil {
		return nil, "", err
	}

	var rows []models.Notification
	if err := query.Find(&rows).Error; err != nil {
		return nil, "", err
	}
	page, next := pagination.Cut(rows, limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return page, next, nil
}

func (r *gormRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	var unread int64
	err := r.inbox(ctx, userID).Where("read_at IS NULL").Count(&unread).Error
	return unread, err
}

func (r *gormRepository) MarkRead(ctx context.Context, userID, notificationID uuid.UUID, at time.Time) (readOutcome, error) {
	res := r.inbox(ctx, userID).
		Where("id = ? AND read_at IS NULL", notificationID).
		UpdateColumn("read_at", at)
	if res.Error != nil {
		return readMissing, res.Error
	}
	if res.RowsAffected > 0 {
		return readNow, nil
	}

	var found int64
	if err := r.inbox(ctx, userID).Where("id = ?", notificationID).Count(&found).Error; err != nil {
		return readMissing, err
	}
	if found == 0 {
		return readMissing, nil
	}
	return readAlready, nil
}

func (r *gormRepository) MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	res := r.inbox(ctx, userID).Where("read_at IS NULL").UpdateColumn("read_at", at)
	return res.RowsAffected, res.Error
}
