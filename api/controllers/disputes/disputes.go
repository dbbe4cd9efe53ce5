package disputes

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dropday-backend/api/middleware"
	"github.com/angelmondragon/dropday-backend/api/responses"
	"github.com/angelmondragon/dropday-backend/api/validators"
	internaldisputes "github.com/angelmondragon/dropday-backend/internal/disputes"
	"github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
)

const (
	maxReasonLength = 500
	maxNotesLength  = 2000
)

type openRequest struct {
	Reason     string  `json:"reason" validate:"required,notblank,max=500"`
	BuyerNotes *string `json:"buyer_notes,omitempty" validate:"omitempty,max=2000"`
}

type notesRequest struct {
	Notes string `json:"notes" validate:"required,notblank,max=2000"`
}

type resolveRequest struct {
	Resolution   string  `json:"resolution" validate:"required,oneof=BUYER_WINS SELLER_WINS PARTIAL"`
	AdminNotes   *string `json:"admin_notes,omitempty" validate:"omitempty,max=2000"`
	RefundAmount *string `json:"refund_amount,omitempty"`
}

type closeRequest struct {
	Notes *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

func unavailable(r *http.Request, w http.ResponseWriter, logg *logger.Logger) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
}

// withDispute resolves the principal and the disputeId path parameter.
func withDispute(svc internaldisputes.Service, logg *logger.Logger, next func(w http.ResponseWriter, r *http.Request, principal auth.Principal, disputeID uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r, w, logg)
			return
		}
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		disputeID, err := validators.URLParamUUID(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		next(w, r, principal, disputeID)
	}
}

// Open files a dispute against a delivered or in-flight order.
func Open(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r, w, logg)
			return
		}
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.URLParamUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload openRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := validators.SanitizeString(payload.Reason, maxReasonLength)
		if reason == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "reason is required").WithDetails(map[string]any{"field": "reason"}))
			return
		}

		dispute, err := svc.Create(r.Context(), principal, internaldisputes.CreateInput{
			OrderID:    orderID,
			Reason:     reason,
			BuyerNotes: validators.SanitizeOptional(payload.BuyerNotes, maxNotesLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, dispute)
	}
}

// Get returns a dispute to a party of its order or an admin.
func Get(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return withDispute(svc, logg, func(w http.ResponseWriter, r *http.Request, principal auth.Principal, disputeID uuid.UUID) {
		dispute, err := svc.Get(r.Context(), principal, disputeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	})
}

// ListMine returns disputes the caller opened or that concern their shops.
func ListMine(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return list(svc, logg, func(svc internaldisputes.Service) listFunc { return svc.ListForUser })
}

// AdminQueue returns disputes awaiting an admin, oldest first.
func AdminQueue(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return list(svc, logg, func(svc internaldisputes.Service) listFunc { return svc.ListOpen })
}

// AddNotes records the caller's notes on an open dispute, in the column for
// their side of it.
func AddNotes(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return withDispute(svc, logg, func(w http.ResponseWriter, r *http.Request, principal auth.Principal, disputeID uuid.UUID) {
		var payload notesRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		notes := validators.SanitizeString(payload.Notes, maxNotesLength)
		if notes == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "notes are required").WithDetails(map[string]any{"field": "notes"}))
			return
		}

		dispute, err := svc.AddNotes(r.Context(), principal, disputeID, notes)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	})
}

// AdminReview moves an open dispute under review.
func AdminReview(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return withDispute(svc, logg, func(w http.ResponseWriter, r *http.Request, principal auth.Principal, disputeID uuid.UUID) {
		dispute, err := svc.StartReview(r.Context(), principal, disputeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	})
}

// AdminResolve rules on a dispute and settles its escrow.
func AdminResolve(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return withDispute(svc, logg, func(w http.ResponseWriter, r *http.Request, principal auth.Principal, disputeID uuid.UUID) {
		var payload resolveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resolution, err := enums.ParseDisputeResolution(payload.Resolution)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid resolution"))
			return
		}
		refund, err := parseRefund(payload.RefundAmount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.Resolve(r.Context(), principal, internaldisputes.ResolveInput{
			DisputeID:    disputeID,
			Resolution:   resolution,
			AdminNotes:   validators.SanitizeOptional(payload.AdminNotes, maxNotesLength),
			RefundAmount: refund,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	})
}

// AdminClose closes a dispute without a ruling and releases escrow.
func AdminClose(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return withDispute(svc, logg, func(w http.ResponseWriter, r *http.Request, principal auth.Principal, disputeID uuid.UUID) {
		var payload closeRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		dispute, err := svc.Close(r.Context(), principal, disputeID, validators.SanitizeOptional(payload.Notes, maxNotesLength))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	})
}

type listFunc func(ctx context.Context, principal auth.Principal, params pagination.Params) (*internaldisputes.Page, error)

func list(svc internaldisputes.Service, logg *logger.Logger, pick func(internaldisputes.Service) listFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r, w, logg)
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

// parseRefund accepts the amount as a decimal string to avoid float rounding.
func parseRefund(raw *string) (*decimal.Decimal, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(*raw))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "refund_amount must be a decimal string").WithDetails(map[string]any{"field": "refund_amount"})
	}
	if amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund_amount must not be negative").WithDetails(map[string]any{"field": "refund_amount"})
	}
	return &amount, nil
}
