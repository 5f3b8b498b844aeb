package jwtx

import (
	"fmt"
)

// Codec pairs a Signer with a Verifier so callers get a single
// encode/decode surface. Decode accepts tokens from any key registered on
// the verifier, which is how older signing keys stay verifiable after a
// new one takes over signing.
type Codec struct {
	signer   Signer
	verifier *Verifier
}

// NewCodec builds a Codec signing with s and verifying against s's public
// key. The signer is validated up front; a misconfigured key should kill
// startup, not the first request.
func NewCodec(s Signer, issuer string) (*Codec, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("jwtx: invalid signer: %w", err)
	}

	v := NewVerifier(issuer)
	if err := v.AddSigner(s); err != nil {
		return nil, err
	}

	return &Codec{signer: s, verifier: v}, nil
}

// AddVerificationKey registers an additional signer's public key for
// verification only.
func (c *Codec) AddVerificationKey(s Signer) error {
	return c.verifier.AddSigner(s)
}

// Alg reports the signing algorithm in use.
func (c *Codec) Alg() string { return c.signer.Alg() }

// Encode signs the claims into a compact JWT. Claims whose expiry is not
// strictly after issuance are rejected.
func (c *Codec) Encode(claims Claims) (string, error) {
	if claims.ExpiresAt == nil || claims.IssuedAt == nil ||
		!claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return "", ErrBadLifetime
	}

	return c.signer.Sign(claims)
}

// Decode verifies structure, algorithm allowlist, and signature, returning
// the claims. Expiry is left to the caller's grace-window policy.
func (c *Codec) Decode(token string) (Claims, error) {
	return c.verifier.Verify(token)
}
