package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropday-backend/pkg/db/models"
)

// UnitRecord pairs a pricing unit with its owning product.
type UnitRecord struct {
	Unit    models.PricingUnit
	Product models.Product
}

// Repository reads shops, products and pricing units.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindShop(ctx context.Context, id uuid.UUID) (*models.Shop, error)
	FindShopsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Shop, error)
	FindUnit(ctx context.Context, id uuid.UUID) (*UnitRecord, error)
	FindUnits(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]UnitRecord, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a catalog repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindShop(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&shop).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

func (r *repository) FindShopsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Shop, error) {
	out := make(map[uuid.UUID]models.Shop, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var shops []models.Shop
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&shops).Error; err != nil {
		return nil, err
	}
	for _, shop := range shops {
		out[shop.ID] = shop
	}
	return out, nil
}

func (r *repository) FindUnit(ctx context.Context, id uuid.UUID) (*UnitRecord, error) {
	units, err := r.FindUnits(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	rec, ok := units[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &rec, nil
}

func (r *repository) FindUnits(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]UnitRecord, error) {
	out := make(map[uuid.UUID]UnitRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var units []models.PricingUnit
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&units).Error; err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return out, nil
	}

	productIDs := make([]uuid.UUID, 0, len(units))
	seen := map[uuid.UUID]struct{}{}
	for _, unit := range units {
		if _, ok := seen[unit.ProductID]; ok {
			continue
		}
		seen[unit.ProductID] = struct{}{}
		productIDs = append(productIDs, unit.ProductID)
	}
	var products []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", productIDs).Find(&products).Error; err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	for _, unit := range units {
		product, ok := byID[unit.ProductID]
		if !ok {
			continue
		}
		out[unit.ID] = UnitRecord{Unit: unit, Product: product}
	}
	return out, nil
}
