package domain

import (
	"time"

	"github.com/flowcanvas/authcore/pkg/jwtx"
)

// Principal is the authenticated subject a token pair is minted for. It is
// produced upstream (login or OAuth callback) and never persisted here.
type Principal struct {
	ID        string
	Roles     []string
	SessionID string // optional; a fresh one is generated when empty
}

// ConnectionContext carries the client-side attributes a token gets bound
// to at issuance. Only the derived fingerprint ever leaves this process.
type ConnectionContext struct {
	UserAgent string
	DeviceID  string
}

// TokenPair is what issuance and rotation return: a short-lived access
// token and its longer-lived refresh token, both signed JWTs.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"` // typically "Bearer"
	AccessExpiry time.Time `json:"access_expiry"`
	ChainID      string    `json:"chain_id"`
}

// ValidationResult reports whether a presented token is currently usable.
// Claims is populated whenever the token decoded cleanly, even on a failed
// result, so callers like the refresh rotator can see which lineage a
// rejected token belonged to. Only trust Claims when Valid is true.
type ValidationResult struct {
	Valid   bool
	Claims  *jwtx.Claims
	Reasons []string
}

// HasReason reports whether the result failed with the given reason.
func (r ValidationResult) HasReason(reason string) bool {
	for _, have := range r.Reasons {
		if have == reason {
			return true
		}
	}
	return false
}

// Stable machine-readable rejection reasons. These are the only strings
// callers should branch on or log; raw internal errors stay internal.
const (
	ReasonMalformedToken   = "malformed token"
	ReasonInvalidSignature = "invalid signature"
	ReasonAlgNotAllowed    = "algorithm not allowed"
	ReasonTokenExpired     = "token expired"
	ReasonTokenRevoked     = "token has been revoked"
	ReasonBadFingerprint   = "invalid token fingerprint"
	ReasonReplayDetected   = "token replay detected"
	ReasonWrongTokenKind   = "unexpected token kind"
	ReasonRefreshReuse     = "refresh reuse detected"
	ReasonInvalidState     = "invalid or expired state"
)
