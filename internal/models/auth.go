package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the roles recognised by the API.
type UserRole string

const (
	RoleAdmin          UserRole = "ADMIN"
	RoleSupportOfficer UserRole = "SUPPORT_OFFICER"
	RoleAPIClient      UserRole = "API_CLIENT"
)

// JWTClaims represents the JWT payload for access tokens. API callers carry
// their caller id in UserID.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email,omitempty"`
	FullName string   `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}
