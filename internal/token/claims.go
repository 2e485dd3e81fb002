// Package token owns the lifecycle of the signed identity token: decoding
// its claims, scheduling proactive refresh ahead of expiry, and performing
// the refresh itself.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"crewdesk.app/internal/session"
)

// ErrMalformedToken indicates the raw token could not be decoded or lacks
// the claims this core relies on.
var ErrMalformedToken = errors.New("token: malformed token")

// Claims are the fields decoded from the identity token. The token is
// otherwise opaque; claims are used only for refresh timing and role
// display, never as an authorization decision — that stays server-side.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Decode parses the token without verifying its signature. The client has
// no verification key and does not need one; the backend validates every
// request independently.
func Decode(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformedToken
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, ErrMalformedToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrMalformedToken
	}
	if claims.ExpiresAt == nil {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

// Expiry returns the expiration as a wall-clock time.
func (c *Claims) Expiry() time.Time {
	return c.ExpiresAt.Time
}

// ExpiryMillis returns the expiration in epoch milliseconds, matching how
// the session state records it.
func (c *Claims) ExpiryMillis() int64 {
	return c.ExpiresAt.Time.UnixMilli()
}

// ExpiredAt reports whether the token is stale at the given instant.
func (c *Claims) ExpiredAt(now time.Time) bool {
	return !c.ExpiresAt.Time.After(now)
}

// UserRole maps the role claim into the closed role set.
func (c *Claims) UserRole() session.Role {
	return session.ParseRole(c.Role)
}
