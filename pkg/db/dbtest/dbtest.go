// Package dbtest provides an in-memory SQLite schema mirroring the Postgres
// migrations for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/types"
)

var schema = []string{
	`CREATE TABLE shops (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  name TEXT NOT NULL,
  latitude REAL,
  longitude REAL,
  opens_at TEXT,
  closes_at TEXT,
  timezone TEXT NOT NULL DEFAULT 'UTC',
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE products (
  id TEXT PRIMARY KEY,
  shop_id TEXT NOT NULL,
  name TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE pricing_units (
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL,
  label TEXT NOT NULL,
  price TEXT NOT NULL,
  stock INTEGER,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE stock_history (
  id TEXT PRIMARY KEY,
  pricing_unit_id TEXT NOT NULL,
  delta INTEGER NOT NULL,
  change_type TEXT NOT NULL,
  stock_after INTEGER,
  related_order_id TEXT,
  actor_user_id TEXT,
  note TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE checkout_groups (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  idempotency_key TEXT,
  created_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_checkout_groups_buyer_key ON checkout_groups (buyer_id, idempotency_key);`,
	`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL UNIQUE,
  checkout_group_id TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  shop_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'PENDING',
  subtotal TEXT NOT NULL,
  platform_fee TEXT NOT NULL,
  delivery_fee TEXT NOT NULL,
  total TEXT NOT NULL,
  delivery_address TEXT NOT NULL,
  cancel_reason TEXT,
  delivered_at DATETIME,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  pricing_unit_id TEXT NOT NULL,
  product_name TEXT NOT NULL,
  unit_label TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  unit_price TEXT NOT NULL,
  line_total TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE payments (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  amount TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'PENDING',
  escrow_status TEXT NOT NULL DEFAULT 'HELD',
  refund_amount TEXT,
  completed_at DATETIME,
  released_at DATETIME,
  refunded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE deliveries (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  rider_id TEXT,
  status TEXT NOT NULL DEFAULT 'PENDING',
  rider_latitude REAL,
  rider_longitude REAL,
  location_updated_at DATETIME,
  failure_reason TEXT,
  assigned_at DATETIME,
  picked_up_at DATETIME,
  delivered_at DATETIME,
  failed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE disputes (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  buyer_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'OPEN',
  reason TEXT NOT NULL,
  buyer_notes TEXT,
  seller_notes TEXT,
  admin_notes TEXT,
  resolution TEXT,
  refund_amount TEXT,
  resolved_by TEXT,
  resolved_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE escrow_events (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  payment_id TEXT NOT NULL,
  actor_user_id TEXT,
  type TEXT NOT NULL,
  reason TEXT NOT NULL,
  amount TEXT NOT NULL,
  metadata TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE notifications (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  order_id TEXT,
  type TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  link TEXT,
  read_at DATETIME,
  created_at DATETIME
);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE outbox_dead_letters (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  order_id TEXT,
  topic TEXT NOT NULL DEFAULT '',
  payload TEXT NOT NULL,
  reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME NOT NULL,
  replayed_at DATETIME
);`,
}

// Open returns a fresh in-memory database with the full schema applied.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:dropday_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// ShopOpts customises a seeded shop.
type ShopOpts struct {
	OwnerID   uuid.UUID
	Latitude  *float64
	Longitude *float64
	OpensAt   *string
	ClosesAt  *string
}

// SeedShop inserts a shop owned by opts.OwnerID, generating an owner when unset.
func SeedShop(t testing.TB, db *gorm.DB, opts ShopOpts) *models.Shop {
	t.Helper()
	owner := opts.OwnerID
	if owner == uuid.Nil {
		owner = uuid.New()
	}
	shop := &models.Shop{
		ID:        uuid.New(),
		OwnerID:   owner,
		Name:      "shop-" + uuid.NewString()[:8],
		Latitude:  opts.Latitude,
		Longitude: opts.Longitude,
		OpensAt:   opts.OpensAt,
		ClosesAt:  opts.ClosesAt,
		Timezone:  "UTC",
	}
	require.NoError(t, db.Create(shop).Error)
	return shop
}

// SeedUnit inserts an active product with a single pricing unit. A nil stock
// seeds an untracked unit.
func SeedUnit(t testing.TB, db *gorm.DB, shopID uuid.UUID, price string, stock *int) (*models.Product, *models.PricingUnit) {
	t.Helper()
	product := &models.Product{
		ID:       uuid.New(),
		ShopID:   shopID,
		Name:     "product-" + uuid.NewString()[:8],
		IsActive: true,
	}
	require.NoError(t, db.Create(product).Error)
	unit := &models.PricingUnit{
		ID:        uuid.New(),
		ProductID: product.ID,
		Label:     "each",
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
	}
	require.NoError(t, db.Create(unit).Error)
	return product, unit
}

// OrderOpts describes the lifecycle state of a seeded order.
type OrderOpts struct {
	BuyerID        uuid.UUID
	ShopID         uuid.UUID
	Total          string
	Status         enums.OrderStatus
	PaymentStatus  enums.PaymentStatus
	EscrowStatus   enums.EscrowStatus
	DeliveryStatus enums.DeliveryStatus
	RiderID        *uuid.UUID
	DeliveredAt    *time.Time
}

// SeededOrder bundles the rows created by SeedOrder.
type SeededOrder struct {
	Order    *models.Order
	Payment  *models.Payment
	Delivery *models.Delivery
}

// SeedOrder inserts an order with its payment and delivery rows. Zero values
// default to a fresh PENDING order with a HELD escrow.
func SeedOrder(t testing.TB, db *gorm.DB, opts OrderOpts) SeededOrder {
	t.Helper()
	if opts.BuyerID == uuid.Nil {
		opts.BuyerID = uuid.New()
	}
	if opts.ShopID == uuid.Nil {
		opts.ShopID = uuid.New()
	}
	if opts.Total == "" {
		opts.Total = "100.00"
	}
	if opts.Status == "" {
		opts.Status = enums.OrderStatusPending
	}
	if opts.PaymentStatus == "" {
		opts.PaymentStatus = enums.PaymentStatusPending
	}
	if opts.EscrowStatus == "" {
		opts.EscrowStatus = enums.EscrowStatusHeld
	}
	if opts.DeliveryStatus == "" {
		opts.DeliveryStatus = enums.DeliveryStatusPending
	}

	total := decimal.RequireFromString(opts.Total)
	now := time.Now().UTC()
	order := &models.Order{
		ID:              uuid.New(),
		OrderNumber:     "DD-" + uuid.NewString()[:12],
		CheckoutGroupID: uuid.New(),
		BuyerID:         opts.BuyerID,
		ShopID:          opts.ShopID,
		Status:          opts.Status,
		Subtotal:        total,
		PlatformFee:     decimal.Zero,
		DeliveryFee:     decimal.Zero,
		Total:           total,
		DeliveryAddress: types.DeliveryAddress{Address: "1 Main St", City: "Lagos", State: "LA", Phone: "0800"},
		DeliveredAt:     opts.DeliveredAt,
	}
	require.NoError(t, db.Create(order).Error)

	payment := &models.Payment{
		ID:           uuid.New(),
		OrderID:      order.ID,
		Amount:       total,
		Status:       opts.PaymentStatus,
		EscrowStatus: opts.EscrowStatus,
	}
	if opts.PaymentStatus != enums.PaymentStatusPending {
		payment.CompletedAt = &now
	}
	require.NoError(t, db.Create(payment).Error)

	delivery := &models.Delivery{
		ID:          uuid.New(),
		OrderID:     order.ID,
		RiderID:     opts.RiderID,
		Status:      opts.DeliveryStatus,
		DeliveredAt: opts.DeliveredAt,
	}
	if opts.RiderID != nil {
		delivery.AssignedAt = &now
	}
	require.NoError(t, db.Create(delivery).Error)

	return SeededOrder{Order: order, Payment: payment, Delivery: delivery}
}

// IntPtr is a small helper for stock values.
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }
