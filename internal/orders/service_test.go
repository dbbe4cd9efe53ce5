package orders_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropday-backend/internal/catalog"
	"github.com/angelmondragon/dropday-backend/internal/escrow"
	"github.com/angelmondragon/dropday-backend/internal/live"
	"github.com/angelmondragon/dropday-backend/internal/orders"
	"github.com/angelmondragon/dropday-backend/internal/stock"
	"github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/db"
	"github.com/angelmondragon/dropday-backend/pkg/db/dbtest"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
)

var admin = auth.Principal{UserID: uuid.New(), Roles: []enums.Role{enums.RoleAdmin}}

type fixture struct {
	db  *gorm.DB
	svc orders.Service
	hub *live.Hub
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	client := db.Wrap(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	catalogRepo := catalog.NewRepository(conn)

	ledger, err := escrow.NewLedger(escrow.NewRepository(conn), emitter, nil, logger.Nop())
	require.NoError(t, err)
	stockSvc, err := stock.NewService(stock.NewRepository(conn), catalogRepo, client, logger.Nop())
	require.NoError(t, err)

	hub := live.NewHub()
	svc, err := orders.NewService(orders.ServiceParams{
		Repo:    orders.NewRepository(conn),
		Catalog: catalogRepo,
		Ledger:  ledger,
		Stock:   stockSvc,
		Tx:      client,
		Outbox:  emitter,
		Live:    hub,
		Logger:  logger.Nop(),
	})
	require.NoError(t, err)
	return fixture{db: conn, svc: svc, hub: hub}
}

func (f fixture) order(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, f.db.Where("id = ?", id).First(&o).Error)
	return o
}

func (f fixture) payment(t *testing.T, orderID uuid.UUID) models.Payment {
	t.Helper()
	var p models.Payment
	require.NoError(t, f.db.Where("order_id = ?", orderID).First(&p).Error)
	return p
}

func (f fixture) delivery(t *testing.T, orderID uuid.UUID) models.Delivery {
	t.Helper()
	var d models.Delivery
	require.NoError(t, f.db.Where("order_id = ?", orderID).First(&d).Error)
	return d
}

func (f fixture) outboxTypes(t *testing.T) map[enums.OutboxEventType]int {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, f.db.Find(&rows).Error)
	out := map[enums.OutboxEventType]int{}
	for _, row := range rows {
		out[row.EventType]++
	}
	return out
}

func (f fixture) addItem(t *testing.T, order *models.Order, unit *models.PricingUnit, qty int) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.OrderItem{
		ID:            uuid.New(),
		OrderID:       order.ID,
		ProductID:     unit.ProductID,
		PricingUnitID: unit.ID,
		ProductName:   "item",
		UnitLabel:     unit.Label,
		Quantity:      qty,
		UnitPrice:     unit.Price,
		LineTotal:     unit.Price.Mul(decimal.NewFromInt(int64(qty))),
	}).Error)
}

func buyerOf(id uuid.UUID) auth.Principal {
	return auth.Principal{UserID: id, Roles: []enums.Role{enums.RoleBuyer}}
}

func sellerOf(shop *models.Shop) auth.Principal {
	return auth.Principal{UserID: shop.OwnerID, Roles: []enums.Role{enums.RoleSeller}}
}

func TestConfirmPaymentMovesOrderToPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shop := dbtest.SeedShop(t, f.db, dbtest.ShopOpts{})
	seeded := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{ShopID: shop.ID})

	stream, stop, err := f.hub.Subscribe(ctx, live.Filter{OrderID: &seeded.Order.ID})
	require.NoError(t, err)
	defer stop()

	order, err := f.svc.ConfirmPayment(ctx, admin, seeded.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, order.Status)

	payment := f.payment(t, seeded.Order.ID)
	assert.Equal(t, enums.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, enums.EscrowStatusHeld, payment.EscrowStatus)

	types := f.outboxTypes(t)
	assert.Equal(t, 1, types[enums.EventOrderPaid])
	assert.Equal(t, 2, types[enums.EventNotificationRequested])

	select {
	case evt := <-stream:
		assert.Equal(t, live.EventOrderStatus, evt.Type)
		assert.Equal(t, string(enums.OrderStatusPaid), evt.Status)
	case <-time.After(time.Second):
		t.Fatalf("expected live order event")
	}

	_, err = f.svc.ConfirmPayment(ctx, admin, seeded.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.outboxTypes(t)[enums.EventOrderPaid])
}

func TestConfirmPaymentRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	seeded := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{})
	_, err := f.svc.ConfirmPayment(context.Background(), buyerOf(seeded.Order.BuyerID), seeded.Order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestConfirmPaymentRejectsCancelledOrder(t *testing.T) {
	f := newFixture(t)
	seeded := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{Status: enums.OrderStatusCancelled})
	_, err := f.svc.ConfirmPayment(context.Background(), admin, seeded.Order.ID)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.CodeStateConflict, pkgerrors.ReasonInvalidTransition))
}

func TestSellerUpdateStatusAdvancesForward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shop := dbtest.SeedShop(t, f.db, dbtest.ShopOpts{})
	seeded := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{
		ShopID:        shop.ID,
		Status:        enums.OrderStatusPaid,
		PaymentStatus: enums.PaymentStatusCompleted,
	})
	seller := sellerOf(shop)

	order, err := f.svc.SellerUpdateStatus(ctx, seller, seeded.Order.ID, enums.OrderStatusPreparing)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPreparing, order.Status)

	order, err = f.svc.SellerUpdateStatus(ctx, seller, seeded.Order.ID, enums.OrderStatusReadyForPickup)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusReadyForPickup, order.Status)

	_, err = f.svc.SellerUpdateStatus(ctx, seller, seeded.Order.ID, enums.OrderStatusPreparing)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.CodeStateConflict, pkgerrors.ReasonInvalidTransition))

	_, err = f.svc.SellerUpdateStatus(ctx, seller, seeded.Order.ID, enums.OrderStatusReadyForPickup)
	require.NoError(t, err)
	assert.Equal(t, 2, f.outboxTypes(t)[enums.EventOrderStatusChanged])
}

func TestSellerUpdateStatusRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shop := dbtest.SeedShop(t, f.db, dbtest.ShopOpts{})
	pending := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{ShopID: shop.ID})

	_, err := f.svc.SellerUpdateStatus(ctx, sellerOf(shop), pending.Order.ID, enums.OrderStatusPreparing)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.CodeStateConflict, pkgerrors.ReasonInvalidTransition))

	_, err = f.svc.SellerUpdateStatus(ctx, sellerOf(shop), pending.Order.ID, enums.OrderStatusDelivered)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	other := dbtest.SeedShop(t, f.db, dbtest.ShopOpts{})
	paid := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{ShopID: shop.ID, Status: enums.OrderStatusPaid})
	_, err = f.svc.SellerUpdateStatus(ctx, sellerOf(other), paid.Order.ID, enums.OrderStatusPreparing)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestBuyerCancelRefundsAndRestocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shop := dbtest.SeedShop(t, f.db, dbtest.ShopOpts{})
	_, unit := dbtest.SeedUnit(t, f.db, shop.ID, "10.00", dbtest.IntPtr(3))
	seeded := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{
		ShopID:        shop.ID,
		Status:        enums.OrderStatusPaid,
		PaymentStatus: enums.PaymentStatusCompleted,
	})
	f.addItem(t, seeded.Order, unit, 2)

	order, err := f.svc.Cancel(ctx, buyerOf(seeded.Order.BuyerID), seeded.Order.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, order.Status)

	stored := f.order(t, seeded.Order.ID)
	require.NotNil(t, stored.CancelReason)
	assert.Equal(t, "changed my mind", *stored.CancelReason)
	assert.NotNil(t, stored.CancelledAt)

	payment := f.payment(t, seeded.Order.ID)
	assert.Equal(t, enums.EscrowStatusRefunded, payment.EscrowStatus)
	require.NotNil(t, payment.RefundAmount)
	assert.True(t, payment.RefundAmount.Equal(payment.Amount))

	assert.Equal(t, enums.DeliveryStatusFailed, f.delivery(t, seeded.Order.ID).Status)

	var refreshed models.PricingUnit
	require.NoError(t, f.db.Where("id = ?", unit.ID).First(&refreshed).Error)
	require.NotNil(t, refreshed.Stock)
	assert.Equal(t, 5, *refreshed.Stock)

	var history []models.StockHistory
	require.NoError(t, f.db.Where("pricing_unit_id = ?", unit.ID).Find(&history).Error)
	require.Len(t, history, 1)
	assert.Equal(t, enums.StockChangeOrderCancelled, history[0].ChangeType)

	types := f.outboxTypes(t)
	assert.Equal(t, 1, types[enums.EventOrderCancelled])
	assert.Equal(t, 1, types[enums.EventEscrowRefunded])
	assert.Equal(t, 1, types[enums.EventNotificationRequested])
}

func TestBuyerCannotCancelPreparingOrder(t *testing.T) {
	f := newFixture(t)
	seeded := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{
		Status:        enums.OrderStatusPreparing,
		PaymentStatus: enums.PaymentStatusCompleted,
	})
	_, err := f.svc.Cancel(context.Background(), buyerOf(seeded.Order.BuyerID), seeded.Order.ID, "")
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.CodeStateConflict, pkgerrors.ReasonInvalidTransition))
	assert.Equal(t, enums.EscrowStatusHeld, f.payment(t, seeded.Order.ID).EscrowStatus)
}

func TestCancelRejectsStrangers(t *testing.T) {
	f := newFixture(t)
	seeded := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{})
	_, err := f.svc.Cancel(context.Background(), buyerOf(uuid.New()), seeded.Order.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestAdminCannotCancelAfterPickup(t *testing.T) {
	f := newFixture(t)
	rider := uuid.New()
	seeded := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{
		Status:         enums.OrderStatusOutForDelivery,
		PaymentStatus:  enums.PaymentStatusCompleted,
		DeliveryStatus: enums.DeliveryStatusPickedUp,
		RiderID:        &rider,
	})
	_, err := f.svc.Cancel(context.Background(), admin, seeded.Order.ID, "fraud")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestAdminCancelSettlesFailedDelivery(t *testing.T) {
	for _, status := range []enums.OrderStatus{enums.OrderStatusPaid, enums.OrderStatusOutForDelivery} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			rider := uuid.New()
			shop := dbtest.SeedShop(t, f.db, dbtest.ShopOpts{})
			_, unit := dbtest.SeedUnit(t, f.db, shop.ID, "10.00", dbtest.IntPtr(1))
			seeded := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{
				ShopID:         shop.ID,
				Status:         status,
				PaymentStatus:  enums.PaymentStatusCompleted,
				DeliveryStatus: enums.DeliveryStatusFailed,
				RiderID:        &rider,
			})
			f.addItem(t, seeded.Order, unit, 1)

			order, err := f.svc.Cancel(ctx, admin, seeded.Order.ID, "delivery failed")
			require.NoError(t, err)
			assert.Equal(t, enums.OrderStatusCancelled, order.Status)
			assert.Equal(t, enums.OrderStatusCancelled, f.order(t, seeded.Order.ID).Status)
			assert.Equal(t, enums.EscrowStatusRefunded, f.payment(t, seeded.Order.ID).EscrowStatus)
			assert.Equal(t, enums.DeliveryStatusFailed, f.delivery(t, seeded.Order.ID).Status)

			var refreshed models.PricingUnit
			require.NoError(t, f.db.Where("id = ?", unit.ID).First(&refreshed).Error)
			require.NotNil(t, refreshed.Stock)
			assert.Equal(t, 2, *refreshed.Stock)
		})
	}
}

func TestBuyerCannotCancelFailedDelivery(t *testing.T) {
	f := newFixture(t)
	rider := uuid.New()
	seeded := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{
		Status:         enums.OrderStatusPaid,
		PaymentStatus:  enums.PaymentStatusCompleted,
		DeliveryStatus: enums.DeliveryStatusFailed,
		RiderID:        &rider,
	})
	_, err := f.svc.Cancel(context.Background(), buyerOf(seeded.Order.BuyerID), seeded.Order.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, enums.EscrowStatusHeld, f.payment(t, seeded.Order.ID).EscrowStatus)
}

func TestExpirePendingCancelsStaleOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{})
	require.NoError(t, f.db.Model(&models.Order{}).
		Where("id = ?", stale.Order.ID).
		Update("created_at", time.Now().UTC().Add(-3*time.Hour)).Error)
	fresh := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{})

	count, err := f.svc.ExpirePending(ctx, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t, enums.OrderStatusCancelled, f.order(t, stale.Order.ID).Status)
	assert.Equal(t, enums.OrderStatusPending, f.order(t, fresh.Order.ID).Status)
	payment := f.payment(t, stale.Order.ID)
	assert.Equal(t, enums.PaymentStatusRefunded, payment.Status)
	assert.Equal(t, 1, f.outboxTypes(t)[enums.EventOrderExpired])

	count, err = f.svc.ExpirePending(ctx, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDetailAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shop := dbtest.SeedShop(t, f.db, dbtest.ShopOpts{})
	rider := uuid.New()
	seeded := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{
		ShopID:         shop.ID,
		Status:         enums.OrderStatusPaid,
		DeliveryStatus: enums.DeliveryStatusAssigned,
		RiderID:        &rider,
	})

	for name, principal := range map[string]auth.Principal{
		"buyer":  buyerOf(seeded.Order.BuyerID),
		"seller": sellerOf(shop),
		"rider":  {UserID: rider, Roles: []enums.Role{enums.RoleRider}},
		"admin":  admin,
	} {
		detail, err := f.svc.Detail(ctx, principal, seeded.Order.ID)
		require.NoError(t, err, name)
		assert.Equal(t, seeded.Order.ID, detail.ID, name)
	}

	_, err := f.svc.Detail(ctx, buyerOf(uuid.New()), seeded.Order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestListForSellerRequiresRole(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListForSeller(context.Background(), buyerOf(uuid.New()), pagination.Params{}, orders.ListFilters{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestListForBuyerRejectsBadCursor(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListForBuyer(context.Background(), buyerOf(uuid.New()), pagination.Params{Cursor: "not-a-cursor"}, orders.ListFilters{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
