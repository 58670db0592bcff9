package auth

import (
	"context"
	"time"
)

// JWTService issues and validates the bearer tokens that guard the dispatch
// trigger and the operator endpoints.
type JWTService interface {
	// GenerateToken creates a signed token for subject, usually the name of
	// the caller ("scheduler", "operator").
	GenerateToken(ctx context.Context, subject string) (string, error)

	// ValidateToken validates the provided token string and extracts the claims.
	// Returns an error if validation fails (expired, invalid signature, wrong issuer).
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims represents the validated claims of a token.
type Claims struct {
	Subject   string    `json:"sub,omitempty"`
	Issuer    string    `json:"iss,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
