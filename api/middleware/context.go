package middleware

import (
	"context"

	"github.com/angelmondragon/dropday-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
)

// UserIDFromContext returns the authenticated user id as a string, or "".
func UserIDFromContext(ctx context.Context) string {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok || p.ActorID() == nil {
		return ""
	}
	return p.UserID.String()
}

// RoleFromContext returns the principal's primary role, or "".
func RoleFromContext(ctx context.Context) string {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return ""
	}
	return p.PrimaryRole()
}

// RequirePrincipal returns the caller set by Auth or an UNAUTHORIZED error.
func RequirePrincipal(ctx context.Context) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok || p.ActorID() == nil {
		return auth.Principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return p, nil
}
