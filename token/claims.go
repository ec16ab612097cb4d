package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-habit-client/internal/errors"
)

// Claims are the parts of an access token the client reads. The signature is not
// checked here; the server is the authority on validity.
type Claims struct {
	jwt.RegisteredClaims
	MemberID int64  `json:"memberId,omitempty"`
	Role     string `json:"role,omitempty"`
}

// ParseClaims decodes the claims of a (possibly bearer-prefixed) JWT access token.
func ParseClaims(token string) (*Claims, error) {
	raw := Raw(token)
	if raw == "" {
		return nil, apperrors.ErrInvalidToken
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrNotJWT, "%v", err)
	}
	return claims, nil
}

// ExpiresAt returns the exp claim or the zero time.
func (c *Claims) ExpiresAt() time.Time {
	if c == nil || c.RegisteredClaims.ExpiresAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.ExpiresAt.Time
}

// ExpiredAt reports whether the token is expired at now. Tokens without exp never expire.
func (c *Claims) ExpiredAt(now time.Time) bool {
	exp := c.ExpiresAt()
	return !exp.IsZero() && !now.Before(exp)
}
