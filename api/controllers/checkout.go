package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/dropday-backend/api/middleware"
	"github.com/angelmondragon/dropday-backend/api/responses"
	"github.com/angelmondragon/dropday-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/dropday-backend/internal/checkout"
	"github.com/angelmondragon/dropday-backend/internal/checkout/helpers"
	"github.com/angelmondragon/dropday-backend/internal/pricing"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/geo"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/types"
)

// CartQuoter previews the orders a cart would produce.
type CartQuoter interface {
	Quote(ctx context.Context, items []pricing.QuoteItem, delivery *geo.Point) (*pricing.Quote, error)
}

type cartQuoteRequest struct {
	Items     []helpers.ItemInput `json:"items" validate:"required,min=1,dive"`
	Latitude  *float64            `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude *float64            `json:"longitude,omitempty" validate:"omitempty,longitude"`
}

type checkoutRequest struct {
	Items    []helpers.ItemInput   `json:"items" validate:"required,min=1,dive"`
	Delivery types.DeliveryAddress `json:"delivery"`
}

// CartQuote prices a cart per shop without touching stock.
func CartQuote(quoter CartQuoter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if quoter == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "quote service unavailable"))
			return
		}

		var payload cartQuoteRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]pricing.QuoteItem, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, pricing.QuoteItem{PricingUnitID: item.PricingUnitID, Quantity: item.Quantity})
		}

		quote, err := quoter.Quote(r.Context(), items, geo.NewPoint(payload.Latitude, payload.Longitude))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}

// Checkout turns the buyer's cart into one order per shop.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateOrders(r.Context(), principal, checkoutsvc.CreateOrdersInput{
			Items:          payload.Items,
			Delivery:       payload.Delivery,
			IdempotencyKey: strings.TrimSpace(r.Header.Get(middleware.IdempotencyKeyHeader)),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if result.Replayed {
			responses.WriteSuccess(w, result)
			return
		}
		responses.WriteCreated(w, result)
	}
}

// CheckoutGroup returns the orders created by an earlier checkout.
func CheckoutGroup(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		groupID, err := validators.URLParamUUID(r, "groupId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.GetGroup(r.Context(), principal, groupID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
