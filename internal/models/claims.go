package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserClaims are the JWT claims issued by the external identity service. The
// engine validates the signature and consumes UserID and Role; it never
// issues tokens itself.
type UserClaims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the claims carry the admin role.
func (c *UserClaims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// IsMediator reports whether the claims may act on dispute workflows.
func (c *UserClaims) IsMediator() bool {
	return c.Role == RoleMediator || c.Role == RoleAdmin
}
