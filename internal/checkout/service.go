package checkout

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropday-backend/internal/catalog"
	"github.com/angelmondragon/dropday-backend/internal/checkout/helpers"
	"github.com/angelmondragon/dropday-backend/internal/live"
	"github.com/angelmondragon/dropday-backend/internal/notifications"
	"github.com/angelmondragon/dropday-backend/internal/orders"
	"github.com/angelmondragon/dropday-backend/internal/pricing"
	"github.com/angelmondragon/dropday-backend/internal/stock"
	"github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/db"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/geo"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/metrics"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
	"github.com/angelmondragon/dropday-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/dropday-backend/pkg/types"
)

const orderNumberPrefix = "DD"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockAdjuster interface {
	Adjust(ctx context.Context, tx *gorm.DB, input stock.AdjustInput) (*stock.AdjustResult, error)
}

// Service turns a buyer's cart into one order per shop.
type Service interface {
	CreateOrders(ctx context.Context, principal auth.Principal, input CreateOrdersInput) (*CheckoutResult, error)
	GetGroup(ctx context.Context, principal auth.Principal, groupID uuid.UUID) (*CheckoutResult, error)
}

// CreateOrdersInput is a cart submission.
type CreateOrdersInput struct {
	Items          []helpers.ItemInput
	Delivery       types.DeliveryAddress
	IdempotencyKey string
}

// CheckoutResult lists the orders a submission produced. Each order is paid
// separately.
type CheckoutResult struct {
	GroupID    uuid.UUID      `json:"checkout_group_id"`
	Orders     []models.Order `json:"orders"`
	OrderCount int            `json:"order_count"`
	Replayed   bool           `json:"-"`
}

// ServiceParams wires the checkout service.
type ServiceParams struct {
	Orders     orders.Repository
	Groups     Repository
	Catalog    catalog.Repository
	Stock      stockAdjuster
	Calculator *pricing.Calculator
	Tx         txRunner
	Outbox     outbox.Emitter
	Live       live.Publisher
	Metrics    *metrics.LifecycleMetrics
	Logger     *logger.Logger
	Clock      func() time.Time
}

type service struct {
	orders     orders.Repository
	groups     Repository
	catalog    catalog.Repository
	stock      stockAdjuster
	calculator *pricing.Calculator
	tx         txRunner
	outbox     outbox.Emitter
	live       live.Publisher
	metrics    *metrics.LifecycleMetrics
	logg       *logger.Logger
	now        func() time.Time
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Groups == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock adjuster required")
	}
	if params.Calculator == nil {
		return nil, fmt.Errorf("pricing calculator required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		orders:     params.Orders,
		groups:     params.Groups,
		catalog:    params.Catalog,
		stock:      params.Stock,
		calculator: params.Calculator,
		tx:         params.Tx,
		outbox:     params.Outbox,
		live:       params.Live,
		metrics:    params.Metrics,
		logg:       logg,
		now:        clock,
	}, nil
}

type plannedOrder struct {
	shop   models.Shop
	lines  []helpers.Line
	totals pricing.Totals
}

// CreateOrders validates the cart, prices each shop's share and writes every
// order, payment, delivery and stock movement in one transaction.
func (s *service) CreateOrders(ctx context.Context, principal auth.Principal, input CreateOrdersInput) (*CheckoutResult, error) {
	if principal.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer identity missing")
	}
	if !principal.Has(enums.RoleBuyer) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "buyer role required")
	}
	if err := helpers.ValidateItems(input.Items); err != nil {
		return nil, err
	}
	deliveryPoint, err := helpers.ValidateDelivery(input.Delivery)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	ctx = s.logg.WithField(ctx, "buyer_id", principal.UserID.String())

	if key != "" {
		if existing, err := s.replay(ctx, principal.UserID, key); err != nil || existing != nil {
			return existing, err
		}
	}

	plan, err := s.plan(ctx, helpers.MergeItems(input.Items), deliveryPoint)
	if err != nil {
		return nil, err
	}

	var result *CheckoutResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.persist(ctx, tx, principal, input.Delivery, key, plan)
		return err
	})
	if err != nil {
		if key != "" && db.IsUniqueViolation(err, "") {
			if existing, replayErr := s.replay(ctx, principal.UserID, key); replayErr == nil && existing != nil {
				return existing, nil
			}
		}
		if pkgerrors.HasReason(err, pkgerrors.CodeConflict, pkgerrors.ReasonInsufficientStock) {
			s.metrics.Conflict(string(pkgerrors.ReasonInsufficientStock))
		}
		return nil, err
	}

	events := make([]live.Event, 0, len(result.Orders))
	for _, order := range result.Orders {
		s.metrics.OrderTransition(string(enums.OrderStatusPending))
		events = append(events, live.OrderEvent(live.EventOrderCreated, order.ID, string(order.Status)))
	}
	live.Notify(ctx, s.live, s.logg, events...)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"checkout_group_id": result.GroupID.String(),
		"order_count":       result.OrderCount,
	}), "checkout completed")
	return result, nil
}

// GetGroup returns a buyer's previous checkout.
func (s *service) GetGroup(ctx context.Context, principal auth.Principal, groupID uuid.UUID) (*CheckoutResult, error) {
	group, err := s.groups.FindGroup(ctx, principal.UserID, groupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout group not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout group")
	}
	return &CheckoutResult{GroupID: group.ID, Orders: group.Orders, OrderCount: len(group.Orders)}, nil
}

func (s *service) replay(ctx context.Context, buyerID uuid.UUID, key string) (*CheckoutResult, error) {
	group, err := s.orders.FindCheckoutGroupByKey(ctx, buyerID, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout group")
	}
	existing, err := s.orders.FindOrdersByCheckoutGroup(ctx, group.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout orders")
	}
	s.logg.Info(s.logg.WithField(ctx, "checkout_group_id", group.ID.String()), "checkout replayed")
	return &CheckoutResult{GroupID: group.ID, Orders: existing, OrderCount: len(existing), Replayed: true}, nil
}

// plan resolves units, checks shops and stock, and prices each shop's order
// before any write happens.
func (s *service) plan(ctx context.Context, items []helpers.ItemInput, deliveryPoint *geo.Point) ([]plannedOrder, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.PricingUnitID)
	}
	units, err := s.catalog.FindUnits(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pricing units")
	}

	lines := make([]helpers.Line, 0, len(items))
	for _, item := range items {
		rec, ok := units[item.PricingUnitID]
		if !ok {
			return nil, pkgerrors.NewReason(pkgerrors.CodeValidation, pkgerrors.ReasonInvalidProduct, "pricing unit not found",
				map[string]any{"pricing_unit_id": item.PricingUnitID.String()})
		}
		line := helpers.Line{Quantity: item.Quantity, Record: rec}
		if err := helpers.ValidateLine(line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	groups := helpers.GroupLinesByShop(lines)
	shopIDs := make([]uuid.UUID, 0, len(groups))
	for _, g := range groups {
		shopIDs = append(shopIDs, g.ShopID)
	}
	shops, err := s.catalog.FindShopsByIDs(ctx, shopIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shops")
	}

	now := s.now()
	plan := make([]plannedOrder, 0, len(groups))
	for _, g := range groups {
		shop, ok := shops[g.ShopID]
		var shopPtr *models.Shop
		if ok {
			shopPtr = &shop
		}
		if err := helpers.ValidateShop(shopPtr, now); err != nil {
			return nil, err
		}

		priced := make([]pricing.LineInput, 0, len(g.Lines))
		for _, line := range g.Lines {
			priced = append(priced, pricing.LineInput{UnitPrice: line.Record.Unit.Price, Quantity: line.Quantity})
		}
		totals := s.calculator.ComputeOrderTotals(priced, geo.NewPoint(shop.Latitude, shop.Longitude), deliveryPoint)
		plan = append(plan, plannedOrder{shop: shop, lines: g.Lines, totals: totals})
	}
	return plan, nil
}

func (s *service) persist(ctx context.Context, tx *gorm.DB, principal auth.Principal, address types.DeliveryAddress, key string, plan []plannedOrder) (*CheckoutResult, error) {
	repo := s.orders.WithTx(tx)

	group := &models.CheckoutGroup{ID: uuid.New(), BuyerID: principal.UserID}
	if key != "" {
		group.IdempotencyKey = &key
	}
	if err := repo.CreateCheckoutGroup(ctx, group); err != nil {
		return nil, err
	}

	result := &CheckoutResult{GroupID: group.ID}
	orderIDs := make([]uuid.UUID, 0, len(plan))
	shopIDs := make([]uuid.UUID, 0, len(plan))

	for _, planned := range plan {
		order := models.Order{
			ID:              uuid.New(),
			OrderNumber:     newOrderNumber(s.now()),
			CheckoutGroupID: group.ID,
			BuyerID:         principal.UserID,
			ShopID:          planned.shop.ID,
			Status:          enums.OrderStatusPending,
			Subtotal:        planned.totals.Subtotal,
			PlatformFee:     planned.totals.PlatformFee,
			DeliveryFee:     planned.totals.DeliveryFee,
			Total:           planned.totals.Total,
			DeliveryAddress: address,
		}
		if err := repo.CreateOrder(ctx, &order); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		items := make([]models.OrderItem, 0, len(planned.lines))
		note := "order " + order.OrderNumber
		for _, line := range planned.lines {
			rec := line.Record
			if _, err := s.stock.Adjust(ctx, tx, stock.AdjustInput{
				PricingUnitID:  rec.Unit.ID,
				Delta:          -line.Quantity,
				ChangeType:     enums.StockChangeOrderPlaced,
				RelatedOrderID: &order.ID,
				Note:           &note,
				ActorUserID:    principal.ActorID(),
			}); err != nil {
				return nil, err
			}
			items = append(items, models.OrderItem{
				ID:            uuid.New(),
				OrderID:       order.ID,
				ProductID:     rec.Product.ID,
				PricingUnitID: rec.Unit.ID,
				ProductName:   rec.Product.Name,
				UnitLabel:     rec.Unit.Label,
				Quantity:      line.Quantity,
				UnitPrice:     rec.Unit.Price,
				LineTotal:     pricing.LineTotal(rec.Unit.Price, line.Quantity),
			})
		}
		if err := repo.CreateOrderItems(ctx, items); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
		}

		payment := models.Payment{
			ID:           uuid.New(),
			OrderID:      order.ID,
			Amount:       order.Total,
			Status:       enums.PaymentStatusPending,
			EscrowStatus: enums.EscrowStatusHeld,
		}
		if err := repo.CreatePayment(ctx, &payment); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		delivery := models.Delivery{
			ID:      uuid.New(),
			OrderID: order.ID,
			Status:  enums.DeliveryStatusPending,
		}
		if err := repo.CreateDelivery(ctx, &delivery); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create delivery")
		}

		err := notifications.Request(ctx, tx, s.outbox, principal.Actor(), payloads.NotificationRequestedEvent{
			RecipientID: planned.shop.OwnerID,
			OrderID:     &order.ID,
			Type:        enums.NotificationTypeOrderAlert,
			Title:       "New order",
			Message:     fmt.Sprintf("Order %s for %s is awaiting payment.", order.OrderNumber, order.Total.StringFixed(2)),
			Link:        notifications.OrderLink(order.ID),
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue notification")
		}

		order.Items = items
		order.Payment = &payment
		order.Delivery = &delivery
		result.Orders = append(result.Orders, order)
		orderIDs = append(orderIDs, order.ID)
		shopIDs = append(shopIDs, order.ShopID)
	}

	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateCheckoutGroup,
		AggregateID:   group.ID,
		Actor:         principal.Actor(),
		Data: payloads.OrderCreatedEvent{
			CheckoutGroupID: group.ID,
			BuyerID:         principal.UserID,
			OrderIDs:        orderIDs,
			ShopIDs:         shopIDs,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order created")
	}

	result.OrderCount = len(result.Orders)
	return result, nil
}

// newOrderNumber renders DD-YYMMDD-XXXXXXXX.
func newOrderNumber(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("%s-%s-%s", orderNumberPrefix, now.UTC().Format("060102"), strings.ToUpper(hex.EncodeToString(id[:4])))
}
