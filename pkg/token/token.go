// Package token signs and verifies the two short credentials the
// service hands out: single-site login tokens delivered by email and
// session tokens carried in a cookie.
package token

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// ErrInvalidToken indicates a token that failed verification for any
// reason: bad signature, expiry, or a claim bound to a different site.
var ErrInvalidToken = errors.New("token: invalid")

// LoginCodec issues and verifies login tokens. The signing key is
// derived per site URL, so a token minted for one site URL never
// verifies against another even within the same site. This mirrors
// re-keying on site URL changes: moving a site to a new URL retires
// all outstanding login links at once.
type LoginCodec struct {
	secret []byte
	ttl    time.Duration
}

// NewLoginCodec creates a login token codec. secret is the process
// wide token secret, ttl bounds how long an emailed link stays valid.
func NewLoginCodec(secret []byte, ttl time.Duration) *LoginCodec {
	return &LoginCodec{secret: secret, ttl: ttl}
}

type loginClaims struct {
	Site string `json:"site"`
	jwt.RegisteredClaims
}

// Issue mints a login token for an email address, bound to the site
// and the site URL the login page was served under.
func (c *LoginCodec) Issue(siteID, siteURL, email string) (string, error) {
	now := time.Now()

	claims := loginClaims{
		Site: siteID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString(c.key(siteURL))
	if err != nil {
		return "", fmt.Errorf("signing login token: %w", err)
	}

	return signed, nil
}

// Verify checks a login token against the expected site and site URL
// and returns the email it was issued for.
func (c *LoginCodec) Verify(siteID, siteURL, raw string) (string, error) {
	claims := &loginClaims{}

	_, err := jwt.ParseWithClaims(
		raw,
		claims,
		func(*jwt.Token) (interface{}, error) { return c.key(siteURL), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Site != siteID || claims.Subject == "" {
		return "", fmt.Errorf("%w: issued for a different site", ErrInvalidToken)
	}

	return claims.Subject, nil
}

func (c *LoginCodec) key(siteURL string) []byte {
	derived := make([]byte, sha256.Size)

	reader := hkdf.New(sha256.New, c.secret, []byte(siteURL), []byte("login-token"))
	if _, err := io.ReadFull(reader, derived); err != nil {
		// hkdf.New never fails for our output size.
		panic(err)
	}

	return derived
}
