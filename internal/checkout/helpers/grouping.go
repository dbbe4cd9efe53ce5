package helpers

import (
	"sort"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropday-backend/internal/catalog"
)

// ItemInput is one requested cart line.
type ItemInput struct {
	PricingUnitID uuid.UUID `json:"pricing_unit_id" validate:"required"`
	Quantity      int       `json:"quantity" validate:"required,gt=0"`
}

// Line is a cart line resolved against the catalog.
type Line struct {
	Quantity int
	Record   catalog.UnitRecord
}

// ShopGroup holds the lines one shop will fulfil.
type ShopGroup struct {
	ShopID uuid.UUID
	Lines  []Line
}

// MergeItems sums quantities of repeated pricing units, keeping first-seen
// order.
func MergeItems(items []ItemInput) []ItemInput {
	index := make(map[uuid.UUID]int, len(items))
	merged := make([]ItemInput, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.PricingUnitID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.PricingUnitID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

// GroupLinesByShop groups lines by the shop that owns them. Groups are sorted
// by shop id so multi-shop checkouts lock rows in a stable order.
func GroupLinesByShop(lines []Line) []ShopGroup {
	byShop := make(map[uuid.UUID][]Line, len(lines))
	for _, line := range lines {
		shopID := line.Record.Product.ShopID
		byShop[shopID] = append(byShop[shopID], line)
	}
	groups := make([]ShopGroup, 0, len(byShop))
	for shopID, shopLines := range byShop {
		groups = append(groups, ShopGroup{ShopID: shopID, Lines: shopLines})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].ShopID.String() < groups[j].ShopID.String()
	})
	return groups
}
