package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
)

// Principal is the caller an operation runs on behalf of. System principals
// are used by workers and scheduled jobs.
type Principal struct {
	UserID uuid.UUID
	Roles  []enums.Role
	System bool
}

// SystemPrincipal identifies background jobs.
func SystemPrincipal() Principal {
	return Principal{System: true}
}

// Has reports whether the principal carries role.
func (p Principal) Has(role enums.Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal may act as an administrator.
func (p Principal) IsAdmin() bool {
	return p.System || p.Has(enums.RoleAdmin)
}

// ActorID returns the user id, nil for system principals.
func (p Principal) ActorID() *uuid.UUID {
	if p.System || p.UserID == uuid.Nil {
		return nil
	}
	id := p.UserID
	return &id
}

// PrimaryRole returns the role recorded on audit rows.
func (p Principal) PrimaryRole() string {
	if p.System {
		return "SYSTEM"
	}
	for _, role := range []enums.Role{enums.RoleAdmin, enums.RoleSeller, enums.RoleRider, enums.RoleBuyer} {
		if p.Has(role) {
			return string(role)
		}
	}
	return ""
}

// Actor converts p into the actor recorded on outbox events.
func (p Principal) Actor() *outbox.ActorRef {
	if p.System {
		return outbox.SystemActor()
	}
	return &outbox.ActorRef{UserID: p.ActorID(), Role: p.PrimaryRole()}
}

type principalKey struct{}

// WithPrincipal stores p on the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal set by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
