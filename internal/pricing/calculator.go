package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dropday-backend/pkg/config"
	"github.com/angelmondragon/dropday-backend/pkg/geo"
)

const moneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// LineInput is one priced cart line.
type LineInput struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Totals is the fee breakdown for one order. Total always equals
// Subtotal + PlatformFee + DeliveryFee.
type Totals struct {
	Subtotal    decimal.Decimal  `json:"subtotal"`
	PlatformFee decimal.Decimal  `json:"platform_fee"`
	DeliveryFee decimal.Decimal  `json:"delivery_fee"`
	Total       decimal.Decimal  `json:"total"`
	DistanceKm  *decimal.Decimal `json:"distance_km,omitempty"`
}

// Calculator computes order totals from configured fee policy. It is pure and
// safe for concurrent use.
type Calculator struct {
	brackets   []config.FeeBracket
	defaultFee decimal.Decimal
	baseFee    decimal.Decimal
	perKm      decimal.Decimal
	floor      decimal.Decimal
	cap        decimal.Decimal
	distance   geo.DistanceFunc
}

// NewCalculator builds a calculator. A nil distance func uses haversine.
func NewCalculator(cfg config.PricingConfig, distance geo.DistanceFunc) (*Calculator, error) {
	brackets, err := cfg.Brackets()
	if err != nil {
		return nil, err
	}
	if distance == nil {
		distance = geo.Haversine
	}
	c := &Calculator{
		brackets:   brackets,
		defaultFee: config.Amount(cfg.DefaultDeliveryFee, decimal.NewFromInt(500)),
		baseFee:    config.Amount(cfg.DeliveryBaseFee, decimal.NewFromInt(300)),
		perKm:      config.Amount(cfg.DeliveryPerKm, decimal.NewFromInt(100)),
		floor:      config.Amount(cfg.DeliveryFloor, decimal.NewFromInt(300)),
		cap:        config.Amount(cfg.DeliveryCap, decimal.NewFromInt(3000)),
		distance:   distance,
	}
	if c.cap.LessThan(c.floor) {
		return nil, fmt.Errorf("delivery fee cap %s is below floor %s", c.cap, c.floor)
	}
	return c, nil
}

// Round rounds a money amount half-up to two decimal places.
func Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(moneyPlaces)
}

// LineTotal is round2(unitPrice × quantity).
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return Round(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}

// ComputeOrderTotals prices one order. Missing coordinates fall back to the
// default delivery fee.
func (c *Calculator) ComputeOrderTotals(items []LineInput, shop, delivery *geo.Point) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(LineTotal(item.UnitPrice, item.Quantity))
	}
	platformFee := c.PlatformFee(subtotal)
	deliveryFee, km := c.DeliveryFee(shop, delivery)
	return Totals{
		Subtotal:    subtotal,
		PlatformFee: platformFee,
		DeliveryFee: deliveryFee,
		Total:       subtotal.Add(platformFee).Add(deliveryFee),
		DistanceKm:  km,
	}
}

// PlatformFee applies the first bracket covering subtotal.
func (c *Calculator) PlatformFee(subtotal decimal.Decimal) decimal.Decimal {
	for _, b := range c.brackets {
		if b.UpTo == nil || subtotal.LessThanOrEqual(*b.UpTo) {
			return Round(subtotal.Mul(b.Percent).Div(hundred).Add(b.Flat))
		}
	}
	return decimal.Zero
}

// DeliveryFee returns the distance-based fee and the distance used, or the
// default fee when either point is missing or the distance is unusable.
func (c *Calculator) DeliveryFee(shop, delivery *geo.Point) (decimal.Decimal, *decimal.Decimal) {
	if shop == nil || delivery == nil {
		return Round(c.defaultFee), nil
	}
	meters, err := c.distance(*shop, *delivery)
	if err != nil || math.IsNaN(meters) || math.IsInf(meters, 0) || meters < 0 {
		return Round(c.defaultFee), nil
	}
	km := decimal.NewFromFloat(meters).Div(decimal.NewFromInt(1000))
	fee := c.baseFee.Add(c.perKm.Mul(km))
	if fee.LessThan(c.floor) {
		fee = c.floor
	}
	if fee.GreaterThan(c.cap) {
		fee = c.cap
	}
	rounded := km.Round(3)
	return Round(fee), &rounded
}
