package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds carried in the "use" claim. A refresh token presented where
// an access token is expected (or vice versa) must be rejected.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Claims is the signed payload embedded in every token we issue. Changes
// here must stay additive: tokens minted before a deploy have to keep
// verifying after it.
type Claims struct {
	jwt.RegisteredClaims

	// Session ID, stable across refresh rotations.
	SID string `json:"sid,omitempty"`

	// Role names for the subject, already expanded through the role
	// hierarchy at issuance.
	Roles []string `json:"roles,omitempty"`

	// Kind is the token kind ("access" or "refresh").
	Kind string `json:"use,omitempty"`

	// ChainID links every token descended from one login. Only refresh
	// reuse detection cares about it, but access tokens carry it too so a
	// chain revocation kills them as well.
	ChainID string `json:"cid,omitempty"`

	// Fingerprint is the one-way device fingerprint derived from the
	// connection context at issuance. Never the raw device id.
	Fingerprint string `json:"fp,omitempty"`
}

// ClaimsParams collects the inputs for NewClaims. The parameter list got
// long enough that positional arguments were an accident waiting to happen.
type ClaimsParams struct {
	Subject     string
	SessionID   string
	Kind        string
	ChainID     string
	Fingerprint string
	Roles       []string
	Issuer      string
	TTL         time.Duration
	Now         time.Time
}

// NewClaims builds minimally-correct claims with a fresh random jti.
func NewClaims(p ClaimsParams) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.Issuer,
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(p.Now),
			NotBefore: jwt.NewNumericDate(p.Now),
			ExpiresAt: jwt.NewNumericDate(p.Now.Add(p.TTL)),
			ID:        NewJTI(),
		},
		SID:         p.SessionID,
		Roles:       p.Roles,
		Kind:        p.Kind,
		ChainID:     p.ChainID,
		Fingerprint: p.Fingerprint,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim. 160 bits
// from crypto/rand; never a counter or timestamp, jtis must be unguessable.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks the issuer matches the expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateExpiryWithLeeway checks exp/nbf with a grace window for clock
// skew and in-flight requests. Zero leeway means exact comparison.
func (c *Claims) ValidateExpiryWithLeeway(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}

// RemainingLife reports how long until the token's natural expiry. Callers
// use this to size revocation TTLs so store entries don't outlive what
// they protect against. Negative once expired.
func (c *Claims) RemainingLife(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}
