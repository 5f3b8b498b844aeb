package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCEPair is a code verifier and its S256 challenge, per RFC 7636.
// The verifier stays server-side (or client-side, depending on the flow);
// only the challenge travels in the authorization URL.
type PKCEPair struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE creates a fresh 256-bit code verifier and its S256 challenge.
// Only the S256 method is supported; "plain" defeats the point.
func GeneratePKCE() (PKCEPair, error) {
	verifier, err := GenerateToken(TokenSize256)
	if err != nil {
		return PKCEPair{}, err
	}

	return PKCEPair{
		Verifier:  verifier,
		Challenge: S256Challenge(verifier),
	}, nil
}

// S256Challenge computes the S256 code challenge for a verifier.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE checks a presented verifier against a stored S256 challenge
// in constant time.
func VerifyPKCE(challenge, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}

	expected := S256Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(challenge), []byte(expected)) == 1
}
