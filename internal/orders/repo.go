package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
)

// Repository defines persistence operations for checkout groups, orders and
// the payment and delivery rows created with them.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateCheckoutGroup(ctx context.Context, group *models.CheckoutGroup) error
	FindCheckoutGroupByKey(ctx context.Context, buyerID uuid.UUID, key string) (*models.CheckoutGroup, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItems(ctx context.Context, items []models.OrderItem) error
	CreatePayment(ctx context.Context, payment *models.Payment) error
	CreateDelivery(ctx context.Context, delivery *models.Delivery) error
	FindOrdersByCheckoutGroup(ctx context.Context, groupID uuid.UUID) ([]models.Order, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindOrderDetail(ctx context.Context, orderID uuid.UUID) (*OrderDetail, error)
	FindPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindDelivery(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error)
	FindItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	TransitionStatus(ctx context.Context, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, extra map[string]any) (int64, error)
	FailDelivery(ctx context.Context, orderID uuid.UUID, reason string) (*models.Delivery, error)
	ListBuyerOrders(ctx context.Context, buyerID uuid.UUID, params pagination.Params, filters ListFilters) (*OrderList, error)
	ListSellerOrders(ctx context.Context, ownerID uuid.UUID, params pagination.Params, filters ListFilters) (*OrderList, error)
	FindPendingOrdersBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	FindReleasableOrderIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// ListFilters narrows the order lists.
type ListFilters struct {
	Status *enums.OrderStatus
	ShopID *uuid.UUID
}

// OrderList is a page of orders plus the next cursor.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// OrderDetail is an order with its items, payment, delivery and dispute.
type OrderDetail struct {
	models.Order
	Dispute *models.Dispute `json:"dispute,omitempty"`
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateCheckoutGroup(ctx context.Context, group *models.CheckoutGroup) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(group).Error
}

func (r *repository) FindCheckoutGroupByKey(ctx context.Context, buyerID uuid.UUID, key string) (*models.CheckoutGroup, error) {
	var group models.CheckoutGroup
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND idempotency_key = ?", buyerID, key).
		First(&group).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error
}

func (r *repository) CreateOrderItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) CreateDelivery(ctx context.Context, delivery *models.Delivery) error {
	return r.db.WithContext(ctx).Create(delivery).Error
}

func (r *repository) FindOrdersByCheckoutGroup(ctx context.Context, groupID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Payment").
		Preload("Delivery").
		Where("checkout_group_id = ?", groupID).
		Order("order_number ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// LockOrder reads the order under a row lock so concurrent transitions
// serialise on it.
func (r *repository) LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderDetail(ctx context.Context, orderID uuid.UUID) (*OrderDetail, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("Payment").
		Preload("Delivery").
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	detail := &OrderDetail{Order: order}

	var dispute models.Dispute
	err = r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&dispute).Error
	switch {
	case err == nil:
		detail.Dispute = &dispute
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	return detail, nil
}

func (r *repository) FindPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindDelivery(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error) {
	var delivery models.Delivery
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&delivery).Error; err != nil {
		return nil, err
	}
	return &delivery, nil
}

func (r *repository) FindItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// TransitionStatus moves the order to `to` only while it is in one of `from`.
// The affected row count tells the caller whether it won.
func (r *repository) TransitionStatus(ctx context.Context, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, extra map[string]any) (int64, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status IN ?", orderID, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// FailDelivery marks a delivery that has not finished as FAILED. It returns
// nil when the delivery was already terminal.
func (r *repository) FailDelivery(ctx context.Context, orderID uuid.UUID, reason string) (*models.Delivery, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("order_id = ? AND status NOT IN ?", orderID,
			[]enums.DeliveryStatus{enums.DeliveryStatusDelivered, enums.DeliveryStatusFailed}).
		Updates(map[string]any{
			"status":         enums.DeliveryStatusFailed,
			"failure_reason": reason,
			"failed_at":      now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.FindDelivery(ctx, orderID)
}

func (r *repository) ListBuyerOrders(ctx context.Context, buyerID uuid.UUID, params pagination.Params, filters ListFilters) (*OrderList, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("orders.buyer_id = ?", buyerID)
	return r.listOrders(query, params, filters)
}

func (r *repository) ListSellerOrders(ctx context.Context, ownerID uuid.UUID, params pagination.Params, filters ListFilters) (*OrderList, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Joins("JOIN shops ON shops.id = orders.shop_id").
		Where("shops.owner_id = ?", ownerID)
	return r.listOrders(query, params, filters)
}

func (r *repository) listOrders(query *gorm.DB, params pagination.Params, filters ListFilters) (*OrderList, error) {
	if filters.Status != nil {
		query = query.Where("orders.status = ?", *filters.Status)
	}
	if filters.ShopID != nil {
		query = query.Where("orders.shop_id = ?", *filters.ShopID)
	}
	query, limit, err := pagination.Newest(query, "orders", params)
	if err != nil {
		return nil, err
	}

	var rows []models.Order
	if err := query.Select("orders.*").Preload("Payment").Preload("Delivery").Find(&rows).Error; err != nil {
		return nil, err
	}
	list := &OrderList{}
	list.Orders, list.NextCursor = pagination.Cut(rows, limit, orderCursor)
	return list, nil
}

func orderCursor(o models.Order) pagination.Cursor {
	return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
}

// FindPendingOrdersBefore returns unpaid orders created before cutoff, oldest
// first.
func (r *repository) FindPendingOrdersBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// FindReleasableOrderIDs lists delivered orders whose paid escrow is still
// held.
func (r *repository) FindReleasableOrderIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Joins("JOIN payments ON payments.order_id = orders.id").
		Joins("JOIN deliveries ON deliveries.order_id = orders.id").
		Where("deliveries.status = ?", enums.DeliveryStatusDelivered).
		Where("payments.status = ? AND payments.escrow_status = ?", enums.PaymentStatusCompleted, enums.EscrowStatusHeld).
		Order("orders.delivered_at ASC").
		Limit(limit).
		Pluck("orders.id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
