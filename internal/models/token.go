package models

import "github.com/golang-jwt/jwt/v5"

// Roles accepted by the API. Tokens are issued by the surrounding
// exercise-management system; this service only verifies them.
const (
	RoleAdmin    = "admin"
	RoleObserver = "observer"
)

// JWTClaims are the claims carried by access tokens.
type JWTClaims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}
