package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for admin access tokens.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}

// PretermClaims binds a priority signup token to one mail address.
type PretermClaims struct {
	Mail string `json:"mail"`
	jwt.RegisteredClaims
}
