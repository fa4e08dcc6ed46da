package dto

import "time"

// PretermTokenRequest captures POST /admin/preterm-tokens payload.
type PretermTokenRequest struct {
	Mail string `json:"mail" binding:"required,email"`
}

// PretermTokenResponse is returned after issuing a token.
type PretermTokenResponse struct {
	Mail      string    `json:"mail"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
