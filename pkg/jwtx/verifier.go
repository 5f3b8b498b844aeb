package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed     = errors.New("jwtx: malformed token")
	ErrAlgNotAllowed = errors.New("jwtx: algorithm not allowed")
	ErrUnknownKID    = errors.New("jwtx: unknown kid")
	ErrInvalidSig    = errors.New("jwtx: invalid signature")

	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
	ErrBadLifetime = errors.New("jwtx: expiry not after issuance")
)

// allowedAlgs is the closed algorithm allowlist. Exactly these two; a token
// claiming anything else ("none" included) is rejected before its signature
// is even looked at, which closes the classic algorithm-confusion attack.
var allowedAlgs = []string{
	jwt.SigningMethodEdDSA.Alg(),
	jwt.SigningMethodES256.Alg(),
}

// AllowedAlgorithms returns a copy of the algorithm allowlist.
func AllowedAlgorithms() []string {
	return slices.Clone(allowedAlgs)
}

// Verifier validates compact JWTs against a set of registered public keys.
// It deliberately skips exp/nbf validation during parsing: expiry policy
// (grace windows, revocation interplay) belongs to the caller, signature
// and structural integrity belong here.
type Verifier struct {
	mu     sync.RWMutex
	keys   map[string]any // kid -> ed25519.PublicKey | *ecdsa.PublicKey
	issuer string
	parser *jwt.Parser
}

// NewVerifier creates an empty Verifier pinned to the algorithm allowlist.
// An empty issuer means issuer checking is skipped.
func NewVerifier(issuer string) *Verifier {
	return &Verifier{
		keys:   make(map[string]any),
		issuer: issuer,
		parser: jwt.NewParser(
			jwt.WithValidMethods(allowedAlgs),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// AddSigner registers a Signer's public key under its kid.
func (v *Verifier) AddSigner(s Signer) error {
	if err := s.Validate(); err != nil {
		return err
	}

	switch s.Public().(type) {
	case ed25519.PublicKey, *ecdsa.PublicKey:
	default:
		return fmt.Errorf("jwtx: unsupported public key type %T", s.Public())
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[s.KID()] = s.Public()
	return nil
}

// Verify checks structure, algorithm, and signature, and returns the
// parsed claims. Expiry is NOT checked here; use ValidateExpiryWithLeeway.
func (v *Verifier) Verify(tokenStr string) (Claims, error) {
	alg, err := peekAlg(tokenStr)
	if err != nil {
		return Claims{}, err
	}
	if !slices.Contains(allowedAlgs, alg) {
		return Claims{}, fmt.Errorf("%w: %q", ErrAlgNotAllowed, alg)
	}

	token, err := v.parser.ParseWithClaims(tokenStr, &Claims{}, v.keyFor)
	if err != nil {
		return Claims{}, mapParseError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return Claims{}, ErrMalformed
	}

	if err := claims.ValidateIssuer(v.issuer); err != nil {
		return Claims{}, err
	}

	return *claims, nil
}

// keyFor resolves the verification key for a parsed token header and
// double-checks the key type matches the declared method.
func (v *Verifier) keyFor(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("jwtx: missing kid")
	}

	v.mu.RLock()
	pub, ok := v.keys[kid]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
	}

	switch t.Method.(type) {
	case *jwt.SigningMethodEd25519:
		if _, ok := pub.(ed25519.PublicKey); !ok {
			return nil, ErrAlgNotAllowed
		}
	case *jwt.SigningMethodECDSA:
		if _, ok := pub.(*ecdsa.PublicKey); !ok {
			return nil, ErrAlgNotAllowed
		}
	default:
		return nil, ErrAlgNotAllowed
	}

	return pub, nil
}

// peekAlg decodes just the JOSE header to read the declared algorithm.
func peekAlg(tokenStr string) (string, error) {
	parts := strings.SplitN(tokenStr, ".", 3)
	if len(parts) != 3 || parts[0] == "" {
		return "", ErrMalformed
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrMalformed
	}

	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return "", ErrMalformed
	}
	if header.Alg == "" {
		return "", ErrMalformed
	}

	return header.Alg, nil
}

// mapParseError collapses golang-jwt's error tree into our sentinels so
// callers can switch on stable values.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKID):
		return ErrUnknownKID
	case errors.Is(err, ErrAlgNotAllowed):
		return ErrAlgNotAllowed
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrEd25519Verification):
		return ErrInvalidSig
	default:
		return fmt.Errorf("%w: %v", ErrInvalidSig, err)
	}
}
