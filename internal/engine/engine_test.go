package engine_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/dropday-backend/internal/checkout"
	"github.com/angelmondragon/dropday-backend/internal/checkout/helpers"
	"github.com/angelmondragon/dropday-backend/internal/delivery"
	"github.com/angelmondragon/dropday-backend/internal/engine"
	"github.com/angelmondragon/dropday-backend/internal/live"
	"github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/config"
	"github.com/angelmondragon/dropday-backend/pkg/db"
	"github.com/angelmondragon/dropday-backend/pkg/db/dbtest"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/types"
)

func testConfig() *config.Config {
	return &config.Config{Pricing: config.PricingConfig{
		PlatformFeeBrackets: "*:5:0",
		DefaultDeliveryFee:  "500",
		DeliveryBaseFee:     "300",
		DeliveryPerKm:       "100",
		DeliveryFloor:       "300",
		DeliveryCap:         "3000",
	}}
}

func principal(role enums.Role, id uuid.UUID) auth.Principal {
	return auth.Principal{UserID: id, Roles: []enums.Role{role}}
}

func TestNewRequiresConfigAndDB(t *testing.T) {
	_, err := engine.New(engine.Params{})
	require.Error(t, err)

	_, err = engine.New(engine.Params{Config: testConfig()})
	require.Error(t, err)
}

func TestOrderLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	hub := live.NewHub()

	e, err := engine.New(engine.Params{
		Config:     testConfig(),
		DB:         db.Wrap(conn),
		Live:       hub,
		Registerer: prometheus.NewRegistry(),
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)

	sellerID, buyerID, riderID := uuid.New(), uuid.New(), uuid.New()
	seller := principal(enums.RoleSeller, sellerID)
	buyer := principal(enums.RoleBuyer, buyerID)
	rider := principal(enums.RoleRider, riderID)
	admin := principal(enums.RoleAdmin, uuid.New())

	shop := dbtest.SeedShop(t, conn, dbtest.ShopOpts{OwnerID: sellerID})
	_, unit := dbtest.SeedUnit(t, conn, shop.ID, "1000", dbtest.IntPtr(5))

	result, err := e.Checkout.CreateOrders(ctx, buyer, checkout.CreateOrdersInput{
		Items:    []helpers.ItemInput{{PricingUnitID: unit.ID, Quantity: 2}},
		Delivery: types.DeliveryAddress{Address: "12 Allen Ave", City: "Ikeja", State: "LA", Phone: "08030000000"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.OrderCount)
	orderID := result.Orders[0].ID

	var reloaded models.PricingUnit
	require.NoError(t, conn.Where("id = ?", unit.ID).First(&reloaded).Error)
	require.NotNil(t, reloaded.Stock)
	assert.Equal(t, 3, *reloaded.Stock)

	_, err = e.Orders.ConfirmPayment(ctx, admin, orderID)
	require.NoError(t, err)
	_, err = e.Orders.SellerUpdateStatus(ctx, seller, orderID, enums.OrderStatusPreparing)
	require.NoError(t, err)
	_, err = e.Orders.SellerUpdateStatus(ctx, seller, orderID, enums.OrderStatusReadyForPickup)
	require.NoError(t, err)

	detail, err := e.Orders.Detail(ctx, buyer, orderID)
	require.NoError(t, err)
	require.NotNil(t, detail.Delivery)
	deliveryID := detail.Delivery.ID

	_, err = e.Delivery.Assign(ctx, rider, deliveryID)
	require.NoError(t, err)
	for _, status := range []enums.DeliveryStatus{
		enums.DeliveryStatusPickedUp,
		enums.DeliveryStatusInTransit,
		enums.DeliveryStatusDelivered,
	} {
		_, err = e.Delivery.Advance(ctx, rider, deliveryID, delivery.AdvanceInput{Status: status})
		require.NoError(t, err, "advance to %s", status)
	}

	detail, err = e.Orders.Detail(ctx, buyer, orderID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, detail.Status)
	require.NotNil(t, detail.Payment)
	assert.Equal(t, enums.PaymentStatusReleased, detail.Payment.Status)
	assert.Equal(t, enums.EscrowStatusReleased, detail.Payment.EscrowStatus)

	payment, err := e.Escrow.AutoRelease(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowStatusReleased, payment.EscrowStatus)

	history, err := e.Escrow.History(ctx, buyer, orderID)
	require.NoError(t, err)
	assert.NotEmpty(t, history)

	var outboxRows int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&outboxRows).Error)
	assert.Positive(t, outboxRows)
}
