package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropday-backend/api/responses"
	"github.com/angelmondragon/dropday-backend/api/validators"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
)

// DeadLetterStore lists and replays events the publisher gave up on.
type DeadLetterStore interface {
	List(ctx context.Context, filter outbox.DeadLetterFilter) ([]models.DeadLetter, error)
	Replay(ctx context.Context, id uuid.UUID) (*models.DeadLetter, error)
}

// AdminDeadLetters lists parked outbox events, newest first, optionally for
// one order or event type.
func AdminDeadLetters(store DeadLetterStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letters unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseQueryUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		includeReplayed, err := validators.ParseQueryBool(r, "includeReplayed")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter := outbox.DeadLetterFilter{OrderID: orderID, IncludeReplayed: includeReplayed, Limit: limit}
		if raw := r.URL.Query().Get("eventType"); raw != "" {
			eventType := enums.OutboxEventType(raw)
			if !eventType.IsValid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown eventType"))
				return
			}
			filter.EventType = eventType
		}

		rows, err := store.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"deadLetters": rows})
	}
}

// AdminReplayDeadLetter puts a parked event back in the publish queue.
func AdminReplayDeadLetter(store DeadLetterStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letters unavailable"))
			return
		}
		id, err := validators.URLParamUUID(r, "deadLetterId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := store.Replay(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := logg.WithFields(r.Context(), map[string]any{
			"dead_letter_id": entry.ID.String(),
			"outbox_id":      entry.EventID.String(),
			"event_type":     entry.EventType,
		})
		logg.Info(ctx, "dead letter replayed")
		responses.WriteSuccess(w, entry)
	}
}
