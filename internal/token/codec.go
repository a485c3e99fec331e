// Package token signs and verifies the two bearer token kinds. Access and
// refresh tokens are structurally identical JWTs distinguished by the `type`
// claim and by the signing secret; verification checks both, so an access
// token is never accepted where a refresh token is expected even if the
// secrets were ever set to the same value.
package token

import (
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type claim values.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// ErrInvalidToken is returned for any signature, expiry or type failure.
// The cause is deliberately not distinguished to callers.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the claim set carried by both token kinds. Subject is the user
// id; ID (jti) is set on refresh tokens only, for traceability. The
// single-use guarantee comes from the persisted session hash, not the jti.
type Claims struct {
	Email     string `json:"email"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim back into a user id.
func (c *Claims) UserID() (uint64, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// Codec issues and verifies HS256 token pairs with separate secrets per
// token kind.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	rememberTTL   time.Duration
}

// NewCodec builds a Codec. Lifetimes are duration expressions like "15m" or
// "7d"; an unparseable expression falls back to the default for that slot
// rather than failing construction.
func NewCodec(accessSecret, refreshSecret, accessExpiry, refreshExpiry, rememberExpiry string) *Codec {
	return &Codec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     ParseExpiry(accessExpiry, 15*time.Minute),
		refreshTTL:    ParseExpiry(refreshExpiry, 7*24*time.Hour),
		rememberTTL:   ParseExpiry(rememberExpiry, 30*24*time.Hour),
	}
}

var expiryRe = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseExpiry converts a duration expression (s/m/h/d units) into a
// time.Duration, returning def when the expression does not parse.
func ParseExpiry(expr string, def time.Duration) time.Duration {
	m := expiryRe.FindStringSubmatch(expr)
	if m == nil {
		return def
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return def
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second
	case "m":
		return time.Duration(n) * time.Minute
	case "h":
		return time.Duration(n) * time.Hour
	case "d":
		return time.Duration(n) * 24 * time.Hour
	}
	return def
}

// ExpiresIn is the access-token lifetime in whole seconds, as reported to
// clients alongside every issued pair.
func (c *Codec) ExpiresIn() int64 {
	return int64(c.accessTTL / time.Second)
}

// RefreshTTL returns the refresh-token lifetime for the given remember-me
// choice.
func (c *Codec) RefreshTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return c.rememberTTL
	}
	return c.refreshTTL
}

// IssueAccess signs a short-lived access token for the user.
func (c *Codec) IssueAccess(userID uint64, email string) (string, error) {
	return c.sign(userID, email, TypeAccess, "", c.accessTTL, c.accessSecret)
}

// IssueRefresh signs a refresh token carrying the given jti. The returned
// expiry matches the session row the caller persists for it.
func (c *Codec) IssueRefresh(userID uint64, email, jti string, rememberMe bool) (string, time.Time, error) {
	ttl := c.RefreshTTL(rememberMe)
	exp := time.Now().UTC().Add(ttl)
	raw, err := c.sign(userID, email, TypeRefresh, jti, ttl, c.refreshSecret)
	return raw, exp, err
}

func (c *Codec) sign(userID uint64, email, typ, jti string, ttl time.Duration, secret []byte) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Email:     email,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyAccess validates an access token and returns its claims.
func (c *Codec) VerifyAccess(raw string) (*Claims, error) {
	return c.verify(raw, TypeAccess, c.accessSecret)
}

// VerifyRefresh validates a refresh token and returns its claims.
func (c *Codec) VerifyRefresh(raw string) (*Claims, error) {
	return c.verify(raw, TypeRefresh, c.refreshSecret)
}

func (c *Codec) verify(raw, expectedType string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	// Key separation alone is not trusted: the type claim is checked too.
	if claims.TokenType != expectedType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
