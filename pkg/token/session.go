package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is a verified session identity: a site member's UUID bound
// to the site it was established on.
type Session struct {
	UserUUID string
	SiteID   string
}

// SessionCodec issues and verifies session tokens carried in a
// cookie. A session is bound to a single site; presenting it to
// another site fails verification rather than leaking the identity.
type SessionCodec struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionCodec creates a session codec signing with the process
// wide session secret.
func NewSessionCodec(secret []byte, ttl time.Duration) *SessionCodec {
	return &SessionCodec{secret: secret, ttl: ttl}
}

// TTL returns the configured session lifetime, used for cookie expiry.
func (c *SessionCodec) TTL() time.Duration {
	return c.ttl
}

type sessionClaims struct {
	Site string `json:"site"`
	jwt.RegisteredClaims
}

// Issue mints a session token for a site member.
func (c *SessionCodec) Issue(siteID, userUUID string) (string, error) {
	now := time.Now()

	claims := sessionClaims{
		Site: siteID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userUUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}

	return signed, nil
}

// Verify checks a session token for the given site.
func (c *SessionCodec) Verify(siteID, raw string) (*Session, error) {
	claims := &sessionClaims{}

	_, err := jwt.ParseWithClaims(
		raw,
		claims,
		func(*jwt.Token) (interface{}, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Site != siteID || claims.Subject == "" {
		return nil, fmt.Errorf("%w: issued for a different site", ErrInvalidToken)
	}

	return &Session{UserUUID: claims.Subject, SiteID: claims.Site}, nil
}
