package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/homabaysouq/souq-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.UserRole
	Email  string
	Phone  string
	JTI    string
}

// AccessTokenClaims represents the typed JWT presented by clients.
type AccessTokenClaims struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   enums.UserRole `json:"role"`
	Email  string         `json:"email,omitempty"`
	Phone  string         `json:"phone,omitempty"`
	jwt.RegisteredClaims
}

// IsStaff reports whether the token grants staff privileges.
func (c *AccessTokenClaims) IsStaff() bool {
	return c != nil && c.Role == enums.UserRoleStaff
}
