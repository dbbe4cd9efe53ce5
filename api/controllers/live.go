package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropday-backend/api/middleware"
	"github.com/angelmondragon/dropday-backend/api/responses"
	"github.com/angelmondragon/dropday-backend/api/validators"
	"github.com/angelmondragon/dropday-backend/internal/live"
	internalorders "github.com/angelmondragon/dropday-backend/internal/orders"
	"github.com/angelmondragon/dropday-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
)

var liveHeartbeat = 15 * time.Second

// OrderAccess resolves an order only when the caller is a party to it.
type OrderAccess interface {
	Detail(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*internalorders.OrderDetail, error)
}

// LiveStream streams live updates as Server-Sent Events. Non-admin callers
// must scope the stream to an order they can see.
func LiveStream(broker live.Broker, access OrderAccess, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if broker == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "live updates unavailable"))
			return
		}
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := validators.ParseQueryUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		deliveryID, err := validators.ParseQueryUUID(r, "deliveryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if !principal.IsAdmin() {
			if orderID == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "orderId is required").WithDetails(map[string]any{"field": "orderId"}))
				return
			}
			if access == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
				return
			}
			detail, err := access.Detail(r.Context(), principal, *orderID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if deliveryID != nil && (detail.Delivery == nil || detail.Delivery.ID != *deliveryID) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found"))
				return
			}
		}

		events, cancel, err := broker.Subscribe(r.Context(), live.Filter{OrderID: orderID, DeliveryID: deliveryID})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe to live updates"))
			return
		}
		defer cancel()

		rc := http.NewResponseController(w)
		_ = rc.SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "live.stream.flush_unsupported")
			}
			return
		}

		ticker := time.NewTicker(liveHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := writeLiveEvent(w, event); err != nil {
					return
				}
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeLiveEvent(w http.ResponseWriter, event live.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
