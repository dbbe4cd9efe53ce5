// Package orders exposes the order lifecycle over HTTP for buyers, sellers
// and admins. Authorization beyond the route role lives in the service.
package orders

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropday-backend/api/middleware"
	"github.com/angelmondragon/dropday-backend/api/responses"
	"github.com/angelmondragon/dropday-backend/api/validators"
	internalorders "github.com/angelmondragon/dropday-backend/internal/orders"
	"github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
)

const maxCancelReasonLength = 500

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=PREPARING READY_FOR_PICKUP"`
}

// orderAction handles a request addressed to /orders/{orderId}.
type orderAction func(r *http.Request, principal auth.Principal, orderID uuid.UUID) (any, error)

// listAction handles a paginated, status-filtered order listing.
type listAction func(r *http.Request, principal auth.Principal, params pagination.Params, filters internalorders.ListFilters) (any, error)

func onOrder(svc internalorders.Service, logg *logger.Logger, action orderAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := func() (any, error) {
			if svc == nil {
				return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable")
			}
			principal, err := middleware.RequirePrincipal(r.Context())
			if err != nil {
				return nil, err
			}
			orderID, err := validators.URLParamUUID(r, "orderId")
			if err != nil {
				return nil, err
			}
			return action(r, principal, orderID)
		}()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func onList(svc internalorders.Service, logg *logger.Logger, action listAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := func() (any, error) {
			if svc == nil {
				return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable")
			}
			principal, err := middleware.RequirePrincipal(r.Context())
			if err != nil {
				return nil, err
			}
			params, err := validators.ParsePagination(r)
			if err != nil {
				return nil, err
			}
			filters, err := statusFilter(r)
			if err != nil {
				return nil, err
			}
			return action(r, principal, params, filters)
		}()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// BuyerList returns the caller's orders, newest first.
func BuyerList(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return onList(svc, logg, func(r *http.Request, p auth.Principal, params pagination.Params, filters internalorders.ListFilters) (any, error) {
		return svc.ListForBuyer(r.Context(), p, params, filters)
	})
}

// SellerList returns orders placed against the caller's shops, optionally
// narrowed to one shop with ?shopId=.
func SellerList(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return onList(svc, logg, func(r *http.Request, p auth.Principal, params pagination.Params, filters internalorders.ListFilters) (any, error) {
		shopID, err := validators.ParseQueryUUID(r, "shopId")
		if err != nil {
			return nil, err
		}
		filters.ShopID = shopID
		return svc.ListForSeller(r.Context(), p, params, filters)
	})
}

// Detail returns the order with items, payment, delivery and dispute.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return onOrder(svc, logg, func(r *http.Request, p auth.Principal, orderID uuid.UUID) (any, error) {
		return svc.Detail(r.Context(), p, orderID)
	})
}

// Cancel cancels an order before pickup, refunding escrow and restocking.
// The body is optional.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return onOrder(svc, logg, func(r *http.Request, p auth.Principal, orderID uuid.UUID) (any, error) {
		var payload cancelRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				return nil, err
			}
		}
		reason := validators.SanitizeString(payload.Reason, maxCancelReasonLength)
		return svc.Cancel(r.Context(), p, orderID, reason)
	})
}

// SellerUpdateStatus moves a paid order through preparation.
func SellerUpdateStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return onOrder(svc, logg, func(r *http.Request, p auth.Principal, orderID uuid.UUID) (any, error) {
		var payload statusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		status, err := enums.ParseOrderStatus(payload.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status")
		}
		return svc.SellerUpdateStatus(r.Context(), p, orderID, status)
	})
}

// AdminConfirmPayment records the gateway confirmation for an order.
func AdminConfirmPayment(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return onOrder(svc, logg, func(r *http.Request, p auth.Principal, orderID uuid.UUID) (any, error) {
		return svc.ConfirmPayment(r.Context(), p, orderID)
	})
}

func statusFilter(r *http.Request) (internalorders.ListFilters, error) {
	var filters internalorders.ListFilters
	raw := strings.TrimSpace(r.URL.Query().Get("status"))
	if raw == "" {
		return filters, nil
	}
	status, err := enums.ParseOrderStatus(strings.ToUpper(raw))
	if err != nil {
		return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter").WithDetails(map[string]any{"field": "status"})
	}
	filters.Status = &status
	return filters, nil
}
