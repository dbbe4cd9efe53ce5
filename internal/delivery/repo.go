package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
	"github.com/angelmondragon/dropday-backend/pkg/types"
)

// Repository persists delivery hand-offs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, id uuid.UUID) (*models.Delivery, error)
	Lock(ctx context.Context, id uuid.UUID) (*models.Delivery, error)
	Assign(ctx context.Context, id, riderID uuid.UUID, at time.Time) (int64, error)
	Advance(ctx context.Context, id, riderID uuid.UUID, from, to enums.DeliveryStatus, extra map[string]any) (int64, error)
	UpdateLocation(ctx context.Context, id, riderID uuid.UUID, lat, lng float64, at time.Time) (int64, error)
	ListAvailable(ctx context.Context, params pagination.Params) (*Page, error)
	ListAssigned(ctx context.Context, riderID uuid.UUID, params pagination.Params) (*Page, error)
}

// Assignment is a delivery joined with the order fields a rider needs.
type Assignment struct {
	models.Delivery
	OrderNumber     string                `gorm:"column:order_number" json:"order_number"`
	ShopID          uuid.UUID             `gorm:"column:shop_id" json:"shop_id"`
	OrderStatus     enums.OrderStatus     `gorm:"column:order_status" json:"order_status"`
	DeliveryAddress types.DeliveryAddress `gorm:"column:delivery_address" json:"delivery_address"`
	DeliveryFee     decimal.Decimal       `gorm:"column:delivery_fee" json:"delivery_fee"`
}

// Page is a page of assignments plus the next cursor.
type Page struct {
	Deliveries []Assignment `json:"deliveries"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a delivery repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	var d models.Delivery
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repository) Lock(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	var d models.Delivery
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Assign claims an unassigned PENDING delivery for riderID. Exactly one
// concurrent claimer sees a row affected.
func (r *repository) Assign(ctx context.Context, id, riderID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("id = ? AND status = ? AND rider_id IS NULL", id, enums.DeliveryStatusPending).
		Updates(map[string]any{
			"rider_id":    riderID,
			"status":      enums.DeliveryStatusAssigned,
			"assigned_at": at,
			"updated_at":  at,
		})
	return res.RowsAffected, res.Error
}

// Advance moves the delivery from one status to the next, guarded on the
// holding rider and the expected current status.
func (r *repository) Advance(ctx context.Context, id, riderID uuid.UUID, from, to enums.DeliveryStatus, extra map[string]any) (int64, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("id = ? AND rider_id = ? AND status = ?", id, riderID, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// UpdateLocation records the rider position while the rider still holds the
// delivery. Last write wins.
func (r *repository) UpdateLocation(ctx context.Context, id, riderID uuid.UUID, lat, lng float64, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("id = ? AND rider_id = ? AND status IN ?", id, riderID, []enums.DeliveryStatus{
			enums.DeliveryStatusAssigned,
			enums.DeliveryStatusPickedUp,
			enums.DeliveryStatusInTransit,
		}).
		Updates(map[string]any{
			"rider_latitude":      lat,
			"rider_longitude":     lng,
			"location_updated_at": at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ListAvailable(ctx context.Context, params pagination.Params) (*Page, error) {
	query := r.assignments(ctx).
		Where("deliveries.status = ? AND deliveries.rider_id IS NULL", enums.DeliveryStatusPending).
		Where("orders.status IN ?", []enums.OrderStatus{
			enums.OrderStatusPaid,
			enums.OrderStatusPreparing,
			enums.OrderStatusReadyForPickup,
		})
	return r.page(query, params)
}

func (r *repository) ListAssigned(ctx context.Context, riderID uuid.UUID, params pagination.Params) (*Page, error) {
	query := r.assignments(ctx).Where("deliveries.rider_id = ?", riderID)
	return r.page(query, params)
}

func (r *repository) assignments(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("deliveries").
		Select("deliveries.*, orders.order_number, orders.shop_id, orders.status AS order_status, orders.delivery_address, orders.delivery_fee").
		Joins("JOIN orders ON orders.id = deliveries.order_id")
}

func (r *repository) page(query *gorm.DB, params pagination.Params) (*Page, error) {
	query, limit, err := pagination.Newest(query, "deliveries", params)
	if err != nil {
		return nil, err
	}
	var rows []Assignment
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	page := &Page{}
	page.Deliveries, page.NextCursor = pagination.Cut(rows, limit, func(a Assignment) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	})
	return page, nil
}
