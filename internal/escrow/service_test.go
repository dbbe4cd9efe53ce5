package escrow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/dropday-backend/internal/catalog"
	"github.com/angelmondragon/dropday-backend/internal/live"
	"github.com/angelmondragon/dropday-backend/internal/orders"
	"github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/db/dbtest"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/payloads"
)

func newServiceFixture(t *testing.T) (ledgerFixture, Service, *live.Hub) {
	t.Helper()
	f := newLedgerFixture(t)
	hub := live.NewHub()
	svc, err := NewService(ServiceParams{
		Ledger:  f.ledger,
		Repo:    NewRepository(f.db),
		Orders:  orders.NewRepository(f.db),
		Catalog: catalog.NewRepository(f.db),
		Tx:      f.client,
		Outbox:  outbox.NewService(outbox.NewRepository(f.db), logger.Nop()),
		Live:    hub,
		Logger:  logger.Nop(),
	})
	require.NoError(t, err)
	return f, svc, hub
}

func TestAdminReleaseRequiresDelivery(t *testing.T) {
	f, svc, _ := newServiceFixture(t)
	shop := dbtest.SeedShop(t, f.db, dbtest.ShopOpts{})
	seeded := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{
		ShopID:         shop.ID,
		Status:         enums.OrderStatusOutForDelivery,
		PaymentStatus:  enums.PaymentStatusCompleted,
		DeliveryStatus: enums.DeliveryStatusInTransit,
	})

	_, err := svc.AdminRelease(context.Background(), admin, seeded.Order.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.CodeStateConflict, pkgerrors.ReasonNotDelivered))
	assert.Equal(t, enums.EscrowStatusHeld, f.payment(t, seeded.Order.ID).EscrowStatus)
}

func TestAdminReleaseForbiddenForNonAdmin(t *testing.T) {
	_, svc, _ := newServiceFixture(t)
	buyer := auth.Principal{UserID: uuid.New(), Roles: []enums.Role{enums.RoleBuyer}}
	_, err := svc.AdminRelease(context.Background(), buyer, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestAdminReleasePaysSellerAndSettlesOrder(t *testing.T) {
	f, svc, hub := newServiceFixture(t)
	ctx := context.Background()
	shop := dbtest.SeedShop(t, f.db, dbtest.ShopOpts{})
	delivered := time.Now().UTC().Add(-time.Hour)
	seeded := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{
		ShopID:         shop.ID,
		Status:         enums.OrderStatusOutForDelivery,
		PaymentStatus:  enums.PaymentStatusCompleted,
		DeliveryStatus: enums.DeliveryStatusDelivered,
		DeliveredAt:    &delivered,
	})
	stream, stop, _ := hub.Subscribe(ctx, live.Filter{OrderID: &seeded.Order.ID})
	defer stop()

	payment, err := svc.AdminRelease(ctx, admin, seeded.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowStatusReleased, payment.EscrowStatus)
	assert.Equal(t, enums.PaymentStatusReleased, payment.Status)

	var order models.Order
	require.NoError(t, f.db.Where("id = ?", seeded.Order.ID).First(&order).Error)
	assert.Equal(t, enums.OrderStatusDelivered, order.Status)
	require.NotNil(t, order.DeliveredAt)

	types := f.outboxTypes(t)
	assert.Contains(t, types, enums.EventEscrowReleased)
	assert.Contains(t, types, enums.EventOrderStatusChanged)
	assert.Contains(t, types, enums.EventNotificationRequested)

	var row models.OutboxEvent
	require.NoError(t, f.db.Where("event_type = ?", enums.EventNotificationRequested).First(&row).Error)
	env, err := outbox.DecodeEnvelope(row.Payload)
	require.NoError(t, err)
	var note payloads.NotificationRequestedEvent
	require.NoError(t, json.Unmarshal(env.Data, &note))
	assert.Equal(t, shop.OwnerID, note.RecipientID)
	assert.Equal(t, row.AggregateID, note.NotificationID)

	select {
	case event := <-stream:
		assert.Equal(t, live.EventEscrowStatus, event.Type)
		assert.Equal(t, string(enums.EscrowStatusReleased), event.Status)
	case <-time.After(time.Second):
		t.Fatalf("expected live escrow event")
	}

	_, err = svc.AdminRelease(ctx, admin, seeded.Order.ID)
	require.NoError(t, err)
	assert.Len(t, f.escrowEvents(t, seeded.Order.ID), 1)
}

func TestAdminReleaseRefusesDisputedEscrow(t *testing.T) {
	f, svc, _ := newServiceFixture(t)
	seeded := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{
		Status:         enums.OrderStatusDisputed,
		PaymentStatus:  enums.PaymentStatusCompleted,
		EscrowStatus:   enums.EscrowStatusDisputed,
		DeliveryStatus: enums.DeliveryStatusDelivered,
	})
	_, err := svc.AdminRelease(context.Background(), admin, seeded.Order.ID)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.CodeStateConflict, pkgerrors.ReasonEscrowDisputed))
}

func TestHistoryListsEscrowTrail(t *testing.T) {
	f, svc, _ := newServiceFixture(t)
	seeded := dbtest.SeedOrder(t, f.db, dbtest.OrderOpts{
		PaymentStatus:  enums.PaymentStatusCompleted,
		DeliveryStatus: enums.DeliveryStatusDelivered,
		Status:         enums.OrderStatusDelivered,
	})
	_, err := svc.AutoRelease(context.Background(), seeded.Order.ID)
	require.NoError(t, err)

	events, err := svc.History(context.Background(), admin, seeded.Order.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EscrowReasonAutoSweep, events[0].Reason)
}
