package helpers

import (
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/dropday-backend/internal/catalog"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/geo"
	"github.com/angelmondragon/dropday-backend/pkg/types"
)

// ValidateItems rejects empty carts and non-positive quantities.
func ValidateItems(items []ItemInput) error {
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart contains no items")
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"pricing_unit_id": item.PricingUnitID.String()})
		}
	}
	return nil
}

// ValidateDelivery checks the drop-off snapshot and returns its coordinates
// when both are present.
func ValidateDelivery(addr types.DeliveryAddress) (*geo.Point, error) {
	if missing := addr.Missing(); len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("delivery %s required", strings.Join(missing, ", "))).
			WithDetails(map[string]any{"missing": missing})
	}
	point := geo.NewPoint(addr.Latitude, addr.Longitude)
	if point != nil {
		if err := point.Validate(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery coordinates")
		}
	}
	return point, nil
}

// ValidateShop confirms the shop exists and is taking orders at now.
func ValidateShop(shop *models.Shop, now time.Time) error {
	if shop == nil {
		return pkgerrors.NewReason(pkgerrors.CodeValidation, pkgerrors.ReasonInvalidProduct, "shop not found")
	}
	if !catalog.IsOpen(*shop, now) {
		return pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonShopClosed,
			fmt.Sprintf("%s is closed", shop.Name),
			map[string]any{"shop_id": shop.ID.String()})
	}
	return nil
}

// ValidateLine checks that a resolved unit is sellable in the requested
// quantity.
func ValidateLine(line Line) error {
	rec := line.Record
	if !rec.Product.IsActive {
		return pkgerrors.NewReason(pkgerrors.CodeValidation, pkgerrors.ReasonInvalidProduct,
			fmt.Sprintf("%s is not available", rec.Product.Name),
			map[string]any{"pricing_unit_id": rec.Unit.ID.String()})
	}
	if rec.Unit.Stock != nil && *rec.Unit.Stock < line.Quantity {
		return pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonInsufficientStock,
			fmt.Sprintf("insufficient stock for %s", rec.Product.Name),
			map[string]any{
				"pricing_unit_id": rec.Unit.ID.String(),
				"product_id":      rec.Product.ID.String(),
				"product_name":    rec.Product.Name,
				"available":       *rec.Unit.Stock,
				"requested":       line.Quantity,
			})
	}
	return nil
}
