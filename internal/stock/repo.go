package stock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
)

// Repository persists pricing unit balances and their change log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ApplyDelta(ctx context.Context, unitID uuid.UUID, delta int) (int64, error)
	FindUnit(ctx context.Context, unitID uuid.UUID) (*models.PricingUnit, error)
	LockUnit(ctx context.Context, unitID uuid.UUID) (*models.PricingUnit, error)
	SetStock(ctx context.Context, unitID uuid.UUID, stock *int) error
	InsertHistory(ctx context.Context, entry *models.StockHistory) error
	ListHistory(ctx context.Context, unitID uuid.UUID, params pagination.Params) ([]models.StockHistory, string, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a stock repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// ApplyDelta moves a tracked balance by delta in one conditional statement so
// concurrent writers can never push it below zero. Untracked units match
// without changing. Zero rows affected means the unit is missing or short.
func (r *repository) ApplyDelta(ctx context.Context, unitID uuid.UUID, delta int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PricingUnit{}).
		Where("id = ? AND (stock IS NULL OR stock + ? >= 0)", unitID, delta).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock + ?", delta),
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *repository) FindUnit(ctx context.Context, unitID uuid.UUID) (*models.PricingUnit, error) {
	var unit models.PricingUnit
	if err := r.db.WithContext(ctx).Where("id = ?", unitID).First(&unit).Error; err != nil {
		return nil, err
	}
	return &unit, nil
}

func (r *repository) LockUnit(ctx context.Context, unitID uuid.UUID) (*models.PricingUnit, error) {
	var unit models.PricingUnit
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", unitID).
		First(&unit).Error
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

func (r *repository) SetStock(ctx context.Context, unitID uuid.UUID, stock *int) error {
	return r.db.WithContext(ctx).
		Model(&models.PricingUnit{}).
		Where("id = ?", unitID).
		Updates(map[string]any{
			"stock":      stock,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) InsertHistory(ctx context.Context, entry *models.StockHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListHistory(ctx context.Context, unitID uuid.UUID, params pagination.Params) ([]models.StockHistory, string, error) {
	query, limit, err := pagination.Newest(r.db.WithContext(ctx).Where("pricing_unit_id = ?", unitID), "", params)
	if err != nil {
		return nil, "", err
	}
	var rows []models.StockHistory
	if err := query.Find(&rows).Error; err != nil {
		return nil, "", err
	}
	rows, next := pagination.Cut(rows, limit, func(h models.StockHistory) pagination.Cursor {
		return pagination.Cursor{CreatedAt: h.CreatedAt, ID: h.ID}
	})
	return rows, next, nil
}
