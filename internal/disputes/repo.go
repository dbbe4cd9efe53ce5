package disputes

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
)

// Repository persists disputes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, dispute *models.Dispute) error
	Find(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	Lock(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error)
	Update(ctx context.Context, id uuid.UUID, from []enums.DisputeStatus, updates map[string]any) (int64, error)
	ListOpen(ctx context.Context, params pagination.Params) (*Page, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*Page, error)
}

// Page is a page of disputes plus the next cursor.
type Page struct {
	Disputes   []models.Dispute `json:"disputes"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a dispute repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, dispute *models.Dispute) error {
	return r.db.WithContext(ctx).Create(dispute).Error
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repository) Lock(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repository) FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// Update applies updates while the dispute is still in one of the from states.
func (r *repository) Update(ctx context.Context, id uuid.UUID, from []enums.DisputeStatus, updates map[string]any) (int64, error) {
	values := map[string]any{"updated_at": time.Now().UTC()}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	return res.RowsAffected, res.Error
}

func (r *repository) ListOpen(ctx context.Context, params pagination.Params) (*Page, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("status IN ?", []enums.DisputeStatus{enums.DisputeStatusOpen, enums.DisputeStatusInReview})
	return r.page(query, params)
}

func (r *repository) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*Page, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("buyer_id = ? OR seller_id = ?", userID, userID)
	return r.page(query, params)
}

func (r *repository) page(query *gorm.DB, params pagination.Params) (*Page, error) {
	query, limit, err := pagination.Newest(query, "", params)
	if err != nil {
		return nil, err
	}
	var rows []models.Dispute
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	page := &Page{}
	page.Disputes, page.NextCursor = pagination.Cut(rows, limit, func(d models.Dispute) pagination.Cursor {
		return pagination.Cursor{CreatedAt: d.CreatedAt, ID: d.ID}
	})
	return page, nil
}
