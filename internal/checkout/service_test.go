package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropday-backend/internal/catalog"
	"github.com/angelmondragon/dropday-backend/internal/checkout/helpers"
	"github.com/angelmondragon/dropday-backend/internal/live"
	"github.com/angelmondragon/dropday-backend/internal/orders"
	"github.com/angelmondragon/dropday-backend/internal/pricing"
	"github.com/angelmondragon/dropday-backend/internal/stock"
	"github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/config"
	"github.com/angelmondragon/dropday-backend/pkg/db"
	"github.com/angelmondragon/dropday-backend/pkg/db/dbtest"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
	"github.com/angelmondragon/dropday-backend/pkg/types"
)

var address = types.DeliveryAddress{Address: "12 Allen Ave", City: "Ikeja", State: "LA", Phone: "08030000000"}

type fixture struct {
	db  *gorm.DB
	svc Service
	hub *live.Hub
}

type fixtureOpts struct {
	conn      *gorm.DB
	clock     func() time.Time
	wrapStock func(stockAdjuster) stockAdjuster
}

// competingAdjuster drains a unit right before the real movement, as a
// concurrent buyer committing first would.
type competingAdjuster struct {
	inner  stockAdjuster
	unitID uuid.UUID
}

func (c competingAdjuster) Adjust(ctx context.Context, tx *gorm.DB, input stock.AdjustInput) (*stock.AdjustResult, error) {
	if input.PricingUnitID == c.unitID {
		if err := tx.Model(&models.PricingUnit{}).Where("id = ?", c.unitID).Update("stock", 0).Error; err != nil {
			return nil, err
		}
	}
	return c.inner.Adjust(ctx, tx, input)
}

func newFixture(t *testing.T, opts fixtureOpts) fixture {
	t.Helper()
	conn := opts.conn
	if conn == nil {
		conn = dbtest.Open(t)
	}
	client := db.Wrap(conn)
	catalogRepo := catalog.NewRepository(conn)

	calc, err := pricing.NewCalculator(config.PricingConfig{PlatformFeeBrackets: "*:5:0", DefaultDeliveryFee: "500"}, nil)
	require.NoError(t, err)
	stockSvc, err := stock.NewService(stock.NewRepository(conn), catalogRepo, client, logger.Nop())
	require.NoError(t, err)

	var adjuster stockAdjuster = stockSvc
	if opts.wrapStock != nil {
		adjuster = opts.wrapStock(adjuster)
	}

	hub := live.NewHub()
	svc, err := NewService(ServiceParams{
		Orders:     orders.NewRepository(conn),
		Groups:     NewRepository(conn),
		Catalog:    catalogRepo,
		Stock:      adjuster,
		Calculator: calc,
		Tx:         client,
		Outbox:     outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Live:       hub,
		Logger:     logger.Nop(),
		Clock:      opts.clock,
	})
	require.NoError(t, err)
	return fixture{db: conn, svc: svc, hub: hub}
}

func buyer() auth.Principal {
	return auth.Principal{UserID: uuid.New(), Roles: []enums.Role{enums.RoleBuyer}}
}

func (f fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func (f fixture) stock(t *testing.T, unitID uuid.UUID) *int {
	t.Helper()
	var unit models.PricingUnit
	require.NoError(t, f.db.Where("id = ?", unitID).First(&unit).Error)
	return unit.Stock
}

func TestCreateOrdersSingleShopTotals(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	shop := dbtest.SeedShop(t, f.db, dbtest.ShopOpts{})
	_, unit := dbtest.SeedUnit(t, f.db, shop.ID, "1000", dbtest.IntPtr(10))

	result, err := f.svc.CreateOrders(ctx, buyer(), CreateOrdersInput{
		Items:    []helpers.ItemInput{{PricingUnitID: unit.ID, Quantity: 2}},
		Delivery: address,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.OrderCount)

	order := result.Orders[0]
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, "2000", order.Subtotal.String())
	assert.Equal(t, "100", order.PlatformFee.String())
	assert.Equal(t, "500", order.DeliveryFee.String())
	assert.Equal(t, "2600", order.Total.String())
	assert.True(t, order.Total.Equal(order.Subtotal.Add(order.PlatformFee).Add(order.DeliveryFee)))

	require.NotNil(t, order.Payment)
	assert.Equal(t, enums.PaymentStatusPending, order.Payment.Status)
	assert.Equal(t, enums.EscrowStatusHeld, order.Payment.EscrowStatus)
	assert.True(t, order.Payment.Amount.Equal(order.Total))
	require.NotNil(t, order.Delivery)
	assert.Equal(t, enums.DeliveryStatusPending, order.Delivery.Status)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "2000", order.Items[0].LineTotal.String())

	require.NotNil(t, f.stock(t, unit.ID))
	assert.Equal(t, 8, *f.stock(t, unit.ID))

	var history []models.StockHistory
	require.NoError(t, f.db.Where("pricing_unit_id = ?", unit.ID).Find(&history).Error)
	require.Len(t, history, 1)
	assert.Equal(t, enums.StockChangeOrderPlaced, history[0].ChangeType)
	assert.Equal(t, -2, history[0].Delta)

	var events []models.OutboxEvent
	require.NoError(t, f.db.Find(&events).Error)
	types := map[enums.OutboxEventType]int{}
	for _, e := range events {
		types[e.EventType]++
	}
	assert.Equal(t, 1, types[enums.EventOrderCreated])
	assert.Equal(t, 1, types[enums.EventNotificationRequested])
}

func TestCreateOrdersSplitsByShop(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	shopA := dbtest.SeedShop(t, f.db, dbtest.ShopOpts{})
	shopB := dbtest.SeedShop(t, f.db, dbtest.ShopOpts{})
	_, unitA := dbtest.SeedUnit(t, f.db, shopA.ID, "250.50", nil)
	_, unitB := dbtest.SeedUnit(t, f.db, shopB.ID, "99.99", dbtest.IntPtr(1))

	stream, stop, err := f.hub.Subscribe(ctx, live.Filter{})
	require.NoError(t, err)
	defer stop()

	result, err := f.svc.CreateOrders(ctx, buyer(), CreateOrdersInput{
		Items: []helpers.ItemInput{
			{PricingUnitID: unitA.ID, Quantity: 1},
			{PricingUnitID: unitB.ID, Quantity: 1},
			{PricingUnitID: unitA.ID, Quantity: 1},
		},
		Delivery: address,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.OrderCount)

	byShop := map[uuid.UUID]models.Order{}
	for _, o := range result.Orders {
		byShop[o.ShopID] = o
		assert.Equal(t, result.GroupID, o.CheckoutGroupID)
	}
	assert.Equal(t, "501", byShop[shopA.ID].Subtotal.String())
	require.Len(t, byShop[shopA.ID].Items, 1)
	assert.Equal(t, 2, byShop[shopA.ID].Items[0].Quantity)
	assert.Nil(t, f.stock(t, unitA.ID))
	assert.Equal(t, 0, *f.stock(t, unitB.ID))

	for i := 0; i < 2; i++ {
		select {
		case evt := <-stream:
			assert.Equal(t, live.EventOrderCreated, evt.Type)
		case <-time.After(time.Second):
			t.Fatalf("expected order.created event %d", i)
		}
	}
}

func TestCreateOrdersIsAtomicAcrossShops(t *testing.T) {
	conn := dbtest.Open(t)
	shopA := dbtest.SeedShop(t, conn, dbtest.ShopOpts{})
	shopB := dbtest.SeedShop(t, conn, dbtest.ShopOpts{})
	_, unitA := dbtest.SeedUnit(t, conn, shopA.ID, "10", dbtest.IntPtr(5))
	_, unitB := dbtest.SeedUnit(t, conn, shopB.ID, "10", dbtest.IntPtr(1))

	f := newFixture(t, fixtureOpts{conn: conn, wrapStock: func(inner stockAdjuster) stockAdjuster {
		return competingAdjuster{inner: inner, unitID: unitB.ID}
	}})

	_, err := f.svc.CreateOrders(context.Background(), buyer(), CreateOrdersInput{
		Items: []helpers.ItemInput{
			{PricingUnitID: unitA.ID, Quantity: 2},
			{PricingUnitID: unitB.ID, Quantity: 1},
		},
		Delivery: address,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.CodeConflict, pkgerrors.ReasonInsufficientStock))

	assert.Zero(t, f.count(t, &models.Order{}))
	assert.Zero(t, f.count(t, &models.CheckoutGroup{}))
	assert.Zero(t, f.count(t, &models.OutboxEvent{}))
	assert.Zero(t, f.count(t, &models.StockHistory{}))
	assert.Equal(t, 5, *f.stock(t, unitA.ID))
	assert.Equal(t, 1, *f.stock(t, unitB.ID))
}

func TestCreateOrdersRejectsShortStockBeforeWriting(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	shop := dbtest.SeedShop(t, f.db, dbtest.ShopOpts{})
	_, unit := dbtest.SeedUnit(t, f.db, shop.ID, "10", dbtest.IntPtr(1))

	_, err := f.svc.CreateOrders(context.Background(), buyer(), CreateOrdersInput{
		Items:    []helpers.ItemInput{{PricingUnitID: unit.ID, Quantity: 2}},
		Delivery: address,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.CodeConflict, pkgerrors.ReasonInsufficientStock))
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, details["available"])
	assert.Equal(t, 2, details["requested"])
	assert.Zero(t, f.count(t, &models.Order{}))
}

func TestCreateOrdersReplaysIdempotencyKey(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	shop := dbtest.SeedShop(t, f.db, dbtest.ShopOpts{})
	_, unit := dbtest.SeedUnit(t, f.db, shop.ID, "10", dbtest.IntPtr(5))
	principal := buyer()
	input := CreateOrdersInput{
		Items:          []helpers.ItemInput{{PricingUnitID: unit.ID, Quantity: 1}},
		Delivery:       address,
		IdempotencyKey: "cart-123",
	}

	first, err := f.svc.CreateOrders(ctx, principal, input)
	require.NoError(t, err)
	second, err := f.svc.CreateOrders(ctx, principal, input)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.GroupID, second.GroupID)
	require.Len(t, second.Orders, 1)
	assert.Equal(t, first.Orders[0].ID, second.Orders[0].ID)
	assert.Equal(t, 4, *f.stock(t, unit.ID))
	assert.EqualValues(t, 1, f.count(t, &models.Order{}))
}

func TestCreateOrdersRejectsClosedShop(t *testing.T) {
	late := func() time.Time { return time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC) }
	f := newFixture(t, fixtureOpts{clock: late})
	shop := dbtest.SeedShop(t, f.db, dbtest.ShopOpts{OpensAt: dbtest.StringPtr("08:00"), ClosesAt: dbtest.StringPtr("20:00")})
	_, unit := dbtest.SeedUnit(t, f.db, shop.ID, "10", nil)

	_, err := f.svc.CreateOrders(context.Background(), buyer(), CreateOrdersInput{
		Items:    []helpers.ItemInput{{PricingUnitID: unit.ID, Quantity: 1}},
		Delivery: address,
	})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.CodeStateConflict, pkgerrors.ReasonShopClosed))
	assert.Zero(t, f.count(t, &models.Order{}))
}

func TestCreateOrdersValidation(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	_, err := f.svc.CreateOrders(ctx, buyer(), CreateOrdersInput{Delivery: address})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.CreateOrders(ctx, buyer(), CreateOrdersInput{
		Items: []helpers.ItemInput{{PricingUnitID: uuid.New(), Quantity: 1}},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.CreateOrders(ctx, buyer(), CreateOrdersInput{
		Items:    []helpers.ItemInput{{PricingUnitID: uuid.New(), Quantity: 1}},
		Delivery: address,
	})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.CodeValidation, pkgerrors.ReasonInvalidProduct))

	rider := auth.Principal{UserID: uuid.New(), Roles: []enums.Role{enums.RoleRider}}
	_, err = f.svc.CreateOrders(ctx, rider, CreateOrdersInput{Delivery: address})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestGetGroupScopesToBuyer(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	shop := dbtest.SeedShop(t, f.db, dbtest.ShopOpts{})
	_, unit := dbtest.SeedUnit(t, f.db, shop.ID, "10", nil)
	principal := buyer()

	created, err := f.svc.CreateOrders(ctx, principal, CreateOrdersInput{
		Items:    []helpers.ItemInput{{PricingUnitID: unit.ID, Quantity: 3}},
		Delivery: address,
	})
	require.NoError(t, err)

	got, err := f.svc.GetGroup(ctx, principal, created.GroupID)
	require.NoError(t, err)
	require.Equal(t, 1, got.OrderCount)
	assert.Len(t, got.Orders[0].Items, 1)
	assert.NotNil(t, got.Orders[0].Payment)

	_, err = f.svc.GetGroup(ctx, buyer(), created.GroupID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
