package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/dropday-backend/pkg/db/dbtest"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
)

func TestTransitionStatusGuardsFromStates(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	seeded := dbtest.SeedOrder(t, conn, dbtest.OrderOpts{Status: enums.OrderStatusPaid})

	affected, err := repo.TransitionStatus(ctx, seeded.Order.ID, []enums.OrderStatus{enums.OrderStatusPending}, enums.OrderStatusCancelled, nil)
	require.NoError(t, err)
	assert.Zero(t, affected)

	affected, err = repo.TransitionStatus(ctx, seeded.Order.ID, []enums.OrderStatus{enums.OrderStatusPaid}, enums.OrderStatusPreparing, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	order, err := repo.FindOrder(ctx, seeded.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPreparing, order.Status)
}

func TestFailDeliverySkipsTerminalDeliveries(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)

	open := dbtest.SeedOrder(t, conn, dbtest.OrderOpts{DeliveryStatus: enums.DeliveryStatusAssigned})
	delivery, err := repo.FailDelivery(ctx, open.Order.ID, "cancelled")
	require.NoError(t, err)
	require.NotNil(t, delivery)
	assert.Equal(t, enums.DeliveryStatusFailed, delivery.Status)
	require.NotNil(t, delivery.FailureReason)
	assert.Equal(t, "cancelled", *delivery.FailureReason)

	done := dbtest.SeedOrder(t, conn, dbtest.OrderOpts{DeliveryStatus: enums.DeliveryStatusDelivered})
	delivery, err = repo.FailDelivery(ctx, done.Order.ID, "late")
	require.NoError(t, err)
	assert.Nil(t, delivery)
}

func TestListBuyerOrdersPaginates(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	buyer := uuid.New()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		seeded := dbtest.SeedOrder(t, conn, dbtest.OrderOpts{BuyerID: buyer})
		require.NoError(t, conn.Model(&models.Order{}).
			Where("id = ?", seeded.Order.ID).
			Update("created_at", base.Add(time.Duration(i)*time.Minute)).Error)
	}
	dbtest.SeedOrder(t, conn, dbtest.OrderOpts{})

	first, err := repo.ListBuyerOrders(ctx, buyer, pagination.Params{Limit: 3}, ListFilters{})
	require.NoError(t, err)
	require.Len(t, first.Orders, 3)
	require.NotEmpty(t, first.NextCursor)
	assert.True(t, first.Orders[0].CreatedAt.After(first.Orders[1].CreatedAt))
	require.NotNil(t, first.Orders[0].Payment)

	second, err := repo.ListBuyerOrders(ctx, buyer, pagination.Params{Limit: 3, Cursor: first.NextCursor}, ListFilters{})
	require.NoError(t, err)
	assert.Len(t, second.Orders, 2)
	assert.Empty(t, second.NextCursor)

	seen := map[uuid.UUID]bool{}
	for _, o := range append(first.Orders, second.Orders...) {
		assert.False(t, seen[o.ID], "order listed twice")
		seen[o.ID] = true
	}
}

func TestListSellerOrdersScopesByShopOwner(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)

	mine := dbtest.SeedShop(t, conn, dbtest.ShopOpts{})
	theirs := dbtest.SeedShop(t, conn, dbtest.ShopOpts{})
	dbtest.SeedOrder(t, conn, dbtest.OrderOpts{ShopID: mine.ID, Status: enums.OrderStatusPaid})
	dbtest.SeedOrder(t, conn, dbtest.OrderOpts{ShopID: mine.ID})
	dbtest.SeedOrder(t, conn, dbtest.OrderOpts{ShopID: theirs.ID, Status: enums.OrderStatusPaid})

	list, err := repo.ListSellerOrders(ctx, mine.OwnerID, pagination.Params{}, ListFilters{})
	require.NoError(t, err)
	assert.Len(t, list.Orders, 2)

	paid := enums.OrderStatusPaid
	list, err = repo.ListSellerOrders(ctx, mine.OwnerID, pagination.Params{}, ListFilters{Status: &paid})
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, mine.ID, list.Orders[0].ShopID)
}

func TestListRejectsBadCursor(t *testing.T) {
	conn := dbtest.Open(t)
	_, err := NewRepository(conn).ListBuyerOrders(context.Background(), uuid.New(), pagination.Params{Cursor: "%%%"}, ListFilters{})
	assert.Error(t, err)
}

func TestFindReleasableOrderIDs(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	delivered := time.Now().UTC()

	ready := dbtest.SeedOrder(t, conn, dbtest.OrderOpts{
		Status:         enums.OrderStatusDelivered,
		PaymentStatus:  enums.PaymentStatusCompleted,
		DeliveryStatus: enums.DeliveryStatusDelivered,
		DeliveredAt:    &delivered,
	})
	dbtest.SeedOrder(t, conn, dbtest.OrderOpts{
		Status:         enums.OrderStatusDisputed,
		PaymentStatus:  enums.PaymentStatusCompleted,
		EscrowStatus:   enums.EscrowStatusDisputed,
		DeliveryStatus: enums.DeliveryStatusDelivered,
		DeliveredAt:    &delivered,
	})
	dbtest.SeedOrder(t, conn, dbtest.OrderOpts{
		Status:         enums.OrderStatusOutForDelivery,
		PaymentStatus:  enums.PaymentStatusCompleted,
		DeliveryStatus: enums.DeliveryStatusInTransit,
	})

	ids, err := repo.FindReleasableOrderIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ready.Order.ID}, ids)
}

func TestFindPendingOrdersBefore(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)

	stale := dbtest.SeedOrder(t, conn, dbtest.OrderOpts{})
	require.NoError(t, conn.Model(&models.Order{}).
		Where("id = ?", stale.Order.ID).
		Update("created_at", time.Now().UTC().Add(-3*time.Hour)).Error)
	dbtest.SeedOrder(t, conn, dbtest.OrderOpts{})
	dbtest.SeedOrder(t, conn, dbtest.OrderOpts{Status: enums.OrderStatusPaid})

	orders, err := repo.FindPendingOrdersBefore(ctx, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, stale.Order.ID, orders[0].ID)
}

func TestFindOrderDetailIncludesAssociations(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	seeded := dbtest.SeedOrder(t, conn, dbtest.OrderOpts{})
	require.NoError(t, repo.CreateOrderItems(ctx, []models.OrderItem{{
		ID:            uuid.New(),
		OrderID:       seeded.Order.ID,
		ProductID:     uuid.New(),
		PricingUnitID: uuid.New(),
		ProductName:   "Jollof",
		UnitLabel:     "plate",
		Quantity:      2,
		UnitPrice:     seeded.Order.Total.Div(decimal.NewFromInt(2)),
		LineTotal:     seeded.Order.Total,
	}}))

	detail, err := repo.FindOrderDetail(ctx, seeded.Order.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Items, 1)
	require.NotNil(t, detail.Payment)
	require.NotNil(t, detail.Delivery)
	assert.Nil(t, detail.Dispute)
}
