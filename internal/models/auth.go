package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the caller holds the admin role.
func (c *JWTClaims) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}

// IsLecturer reports whether the caller holds the lecturer role.
func (c *JWTClaims) IsLecturer() bool {
	return c != nil && c.Role == RoleLecturer
}

// IsStudent reports whether the caller holds the student role.
func (c *JWTClaims) IsStudent() bool {
	return c != nil && c.Role == RoleStudent
}
