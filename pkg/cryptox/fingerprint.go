package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// deviceFingerprintInfo is the HKDF info string binding the derived key to
// this one purpose. Reusing the service secret for another digest must use
// a different info string.
const deviceFingerprintInfo = "authcore/device-fingerprint/v1"

// DeviceFingerprinter derives stable one-way fingerprints from connection
// context. The digest is keyed, so an intercepted token does not let an
// observer brute-force the device id back out of the embedded fingerprint.
type DeviceFingerprinter struct {
	key []byte
}

// NewDeviceFingerprinter expands the service fingerprint secret into a
// purpose-bound HMAC key via HKDF-SHA256.
func NewDeviceFingerprinter(secret []byte) (*DeviceFingerprinter, error) {
	if len(secret) == 0 {
		return nil, errors.New("cryptox: empty fingerprint secret")
	}

	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, secret, nil, []byte(deviceFingerprintInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("cryptox: derive fingerprint key: %w", err)
	}

	return &DeviceFingerprinter{key: key}, nil
}

// Derive computes the fingerprint for a user agent + device id pair,
// base64url-encoded. The separator byte keeps ("ab","c") and ("a","bc")
// from colliding.
func (f *DeviceFingerprinter) Derive(userAgent, deviceID string) string {
	mac := hmac.New(sha256.New, f.key)
	mac.Write([]byte(userAgent))
	mac.Write([]byte{0x00})
	mac.Write([]byte(deviceID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Matches compares a freshly derived fingerprint against the one embedded
// in a token at issuance. Constant-time over the decoded digests.
func (f *DeviceFingerprinter) Matches(expected, userAgent, deviceID string) bool {
	want, err := base64.RawURLEncoding.DecodeString(expected)
	if err != nil {
		return false
	}

	got, err := base64.RawURLEncoding.DecodeString(f.Derive(userAgent, deviceID))
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(want, got) == 1
}
