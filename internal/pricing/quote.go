package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropday-backend/internal/catalog"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/geo"
)

// QuoteItem is one requested cart line.
type QuoteItem struct {
	PricingUnitID uuid.UUID
	Quantity      int
}

// ShopQuote is the preview of a single shop's order.
type ShopQuote struct {
	ShopID uuid.UUID `json:"shop_id"`
	Totals
}

// Quote previews the per-shop orders a cart would produce.
type Quote struct {
	Shops      []ShopQuote     `json:"shops"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// Quoter prices carts against the live catalog without reserving stock.
type Quoter struct {
	catalog    catalog.Repository
	calculator *Calculator
}

// NewQuoter builds a cart quoter.
func NewQuoter(repo catalog.Repository, calculator *Calculator) (*Quoter, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if calculator == nil {
		return nil, fmt.Errorf("calculator required")
	}
	return &Quoter{catalog: repo, calculator: calculator}, nil
}

// Quote groups items by shop and prices each group.
func (q *Quoter) Quote(ctx context.Context, items []QuoteItem, delivery *geo.Point) (*Quote, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
		ids = append(ids, item.PricingUnitID)
	}

	units, err := q.catalog.FindUnits(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pricing units")
	}

	lines := map[uuid.UUID][]LineInput{}
	for _, item := range items {
		rec, ok := units[item.PricingUnitID]
		if !ok || !rec.Product.IsActive {
			return nil, pkgerrors.NewReason(pkgerrors.CodeValidation, pkgerrors.ReasonInvalidProduct, "pricing unit unavailable",
				map[string]any{"pricing_unit_id": item.PricingUnitID.String()})
		}
		lines[rec.Product.ShopID] = append(lines[rec.Product.ShopID], LineInput{UnitPrice: rec.Unit.Price, Quantity: item.Quantity})
	}

	shopIDs := make([]uuid.UUID, 0, len(lines))
	for id := range lines {
		shopIDs = append(shopIDs, id)
	}
	sort.Slice(shopIDs, func(i, j int) bool { return shopIDs[i].String() < shopIDs[j].String() })

	shops, err := q.catalog.FindShopsByIDs(ctx, shopIDs)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shops")
	}

	out := &Quote{GrandTotal: decimal.Zero}
	for _, shopID := range shopIDs {
		var origin *geo.Point
		if shop, ok := shops[shopID]; ok {
			origin = geo.NewPoint(shop.Latitude, shop.Longitude)
		}
		totals := q.calculator.ComputeOrderTotals(lines[shopID], origin, delivery)
		out.Shops = append(out.Shops, ShopQuote{ShopID: shopID, Totals: totals})
		out.GrandTotal = out.GrandTotal.Add(totals.Total)
	}
	return out, nil
}
