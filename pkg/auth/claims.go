package auth

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role separates customers from staff operating the music stage.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

var roles = []Role{RoleCustomer, RoleAdmin}

func (r Role) IsValid() bool { return slices.Contains(roles, r) }

// AccessTokenPayload is what MintAccessToken needs. JTI defaults to a new uuid.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   Role
	JTI    string
}

// AccessTokenClaims are the claims the storefront signs. Subject repeats UserID.
type AccessTokenClaims struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
	jwt.RegisteredClaims
}
