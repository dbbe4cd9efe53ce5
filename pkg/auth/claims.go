package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/dropday-backend/pkg/enums"
)

// AccessTokenClaims represents the JWT minted by the identity provider.
type AccessTokenClaims struct {
	UserID uuid.UUID    `json:"user_id"`
	Roles  []enums.Role `json:"roles"`
	jwt.RegisteredClaims
}

// Principal returns the authenticated caller described by the claims.
func (c AccessTokenClaims) Principal() Principal {
	return Principal{UserID: c.UserID, Roles: append([]enums.Role(nil), c.Roles...)}
}
