package auth

import "github.com/golang-jwt/jwt/v5"

// TokenType separates short-lived access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the token body. Subject mirrors UserID.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Role      string    `json:"role,omitempty"`
	TokenType TokenType `json:"token_type"`
}

// Identity is the caller the token authenticates.
func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Role: c.Role}
}

// check validates the custom claims once the registered ones have passed.
// Refresh tokens carry no role and never authorize a request.
func (c Claims) check(expected TokenType) error {
	if c.TokenType != expected {
		return ErrTokenType
	}
	if c.UserID == "" {
		return ErrIdentityMissing
	}
	if expected == TokenTypeAccess && c.Role == "" {
		return ErrIdentityMissing
	}
	return nil
}
