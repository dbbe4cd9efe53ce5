package controllers

import (
	"net/http"

	"github.com/angelmondragon/dropday-backend/api/middleware"
	"github.com/angelmondragon/dropday-backend/api/responses"
	"github.com/angelmondragon/dropday-backend/api/validators"
	"github.com/angelmondragon/dropday-backend/internal/notifications"
	"github.com/angelmondragon/dropday-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
)

// inboxAction runs against the caller's own inbox.
type inboxAction func(r *http.Request, principal auth.Principal) (any, error)

func onInbox(svc notifications.Service, logg *logger.Logger, action inboxAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notifications service unavailable"))
			return
		}
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := action(r, principal)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ListNotifications pages through the caller's inbox, newest first.
func ListNotifications(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return onInbox(svc, logg, func(r *http.Request, principal auth.Principal) (any, error) {
		page, err := validators.ParsePagination(r)
		if err != nil {
			return nil, err
		}
		unreadOnly, err := validators.ParseQueryBool(r, "unreadOnly")
		if err != nil {
			return nil, err
		}
		return svc.List(r.Context(), notifications.ListParams{
			UserID:     principal.UserID,
			Limit:      page.Limit,
			Cursor:     page.Cursor,
			UnreadOnly: unreadOnly,
		})
	})
}

func MarkNotificationRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return onInbox(svc, logg, func(r *http.Request, principal auth.Principal) (any, error) {
		id, err := validators.URLParamUUID(r, "notificationId")
		if err != nil {
			return nil, err
		}
		if err := svc.MarkRead(r.Context(), principal.UserID, id); err != nil {
			return nil, err
		}
		return map[string]any{"read": true}, nil
	})
}

func MarkAllNotificationsRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return onInbox(svc, logg, func(r *http.Request, principal auth.Principal) (any, error) {
		updated, err := svc.MarkAllRead(r.Context(), principal.UserID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"updated": updated}, nil
	})
}
