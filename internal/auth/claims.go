// Package auth authenticates callers by their identity provider session token.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "bearer "

var (
	ErrMissingToken = errors.New("auth: session token required")
	ErrInvalidToken = errors.New("auth: invalid session token")
	ErrExpiredToken = errors.New("auth: session token expired")
)

// Claims identifies the authenticated caller.
type Claims struct {
	// Subject is the external identity id.
	Subject   string
	Email     string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// sessionClaims is the JWT payload of a provider session token.
type sessionClaims struct {
	SessionID string `json:"sid,omitempty"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (c *sessionClaims) toClaims() Claims {
	claims := Claims{
		Subject:   strings.TrimSpace(c.Subject),
		Email:     strings.TrimSpace(c.Email),
		SessionID: c.SessionID,
	}
	if c.IssuedAt != nil {
		claims.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		claims.ExpiresAt = c.ExpiresAt.Time
	}
	return claims
}

// tokenFromRequest prefers the Authorization bearer header and falls back to the cookie.
func tokenFromRequest(r *http.Request, cookieName string) string {
	if r == nil {
		return ""
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):])
	}
	if cookieName == "" {
		return ""
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie == nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func classifyParseError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrExpiredToken
	}
	return errors.Join(ErrInvalidToken, err)
}
