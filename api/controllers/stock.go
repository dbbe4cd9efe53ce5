package controllers

import (
	"net/http"

	"github.com/angelmondragon/dropday-backend/api/middleware"
	"github.com/angelmondragon/dropday-backend/api/responses"
	"github.com/angelmondragon/dropday-backend/api/validators"
	"github.com/angelmondragon/dropday-backend/internal/stock"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
)

const maxStockNoteLength = 500

type stockUpdateRequest struct {
	Delta      *int    `json:"delta,omitempty"`
	SetTo      *int    `json:"set_to,omitempty" validate:"omitempty,gte=0"`
	Untrack    bool    `json:"untrack,omitempty"`
	ChangeType string  `json:"change_type,omitempty" validate:"omitempty,oneof=RESTOCK MANUAL_ADJUSTMENT"`
	Note       *string `json:"note,omitempty" validate:"omitempty,max=500"`
}

// StockUpdate edits the stock of a pricing unit the seller owns.
func StockUpdate(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		unitID, err := validators.URLParamUUID(r, "pricingUnitId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload stockUpdateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		changeType := enums.StockChangeManualAdjustment
		if payload.ChangeType != "" {
			changeType, err = enums.ParseStockChangeType(payload.ChangeType)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid change_type"))
				return
			}
		}

		result, err := svc.Update(r.Context(), principal, stock.UpdateInput{
			PricingUnitID: unitID,
			Delta:         payload.Delta,
			SetTo:         payload.SetTo,
			Untrack:       payload.Untrack,
			ChangeType:    changeType,
			Note:          validators.SanitizeOptional(payload.Note, maxStockNoteLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// StockHistory pages through the movement ledger of a pricing unit.
func StockHistory(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		unitID, err := validators.URLParamUUID(r, "pricingUnitId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.History(r.Context(), principal, unitID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}
