package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/dropday-backend/api/middleware"
	"github.com/angelmondragon/dropday-backend/api/responses"
	"github.com/angelmondragon/dropday-backend/api/validators"
	"github.com/angelmondragon/dropday-backend/internal/delivery"
	"github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/geo"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
)

const maxFailureReasonLength = 500

type deliveryStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=PICKED_UP IN_TRANSIT DELIVERED FAILED"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

type deliveryListFunc func(ctx context.Context, principal auth.Principal, params pagination.Params) (*delivery.Page, error)

func listDeliveries(svc delivery.Service, logg *logger.Logger, pick func(delivery.Service) deliveryListFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := pick(svc)(r.Context(), principal, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// RiderAvailable lists unassigned deliveries whose orders are ready for pickup.
func RiderAvailable(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return listDeliveries(svc, logg, func(svc delivery.Service) deliveryListFunc { return svc.ListAvailable })
}

// RiderAssigned lists the caller's active deliveries.
func RiderAssigned(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return listDeliveries(svc, logg, func(svc delivery.Service) deliveryListFunc { return svc.ListAssigned })
}

// RiderAssign claims a delivery. Exactly one concurrent claim wins.
func RiderAssign(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		deliveryID, err := validators.URLParamUUID(r, "deliveryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		d, err := svc.Assign(r.Context(), principal, deliveryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, d)
	}
}

// RiderAdvance moves an assigned delivery to its next status.
func RiderAdvance(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		deliveryID, err := validators.URLParamUUID(r, "deliveryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload deliveryStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseDeliveryStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		d, err := svc.Advance(r.Context(), principal, deliveryID, delivery.AdvanceInput{
			Status: status,
			Reason: validators.SanitizeString(payload.Reason, maxFailureReasonLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, d)
	}
}

// RiderLocation records the rider's position and fans it out to live subscribers.
func RiderLocation(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		deliveryID, err := validators.URLParamUUID(r, "deliveryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload locationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		d, err := svc.UpdateLocation(r.Context(), principal, deliveryID, geo.Point{Lat: *payload.Latitude, Lng: *payload.Longitude})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, d)
	}
}
