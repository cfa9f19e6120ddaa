package auth

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType tells access tokens from refresh tokens
type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

// JWTClaims are the claims signed into access and refresh tokens.
// The subject is the user's email.
type JWTClaims struct {
	jwt.RegisteredClaims
	UID      int64          `json:"uid,omitempty"`
	Roles    []string       `json:"roles,omitempty"`
	Type     TokenType      `json:"typ,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"` // extension payload
}

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *JWTClaims) UserID() int64 {
	return c.UID
}

// TokenType returns the token type claim
func (c *JWTClaims) TokenType() TokenType {
	return c.Type
}

// HasRole checks the role names carried by an access token
func (c *JWTClaims) HasRole(role RoleName) bool {
	return slices.Contains(c.Roles, string(role))
}

// ClaimsMetadata exposes metadata extensions
func (c *JWTClaims) ClaimsMetadata() map[string]any {
	return c.Metadata
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
