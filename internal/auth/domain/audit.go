package domain

import "time"

// Audit actions emitted by the token core. One event per operation.
const (
	AuditTokenIssue        = "token.issue"
	AuditTokenValidate     = "token.validate"
	AuditTokenRotate       = "token.rotate"
	AuditTokenRevoke       = "token.revoke"
	AuditTokenRevokeChain  = "token.revoke_chain"
	AuditReuseDetected     = "token.reuse_detected"
	AuditOAuthAuthorizeURL = "oauth.authorize_url"
	AuditOAuthExchange     = "oauth.exchange"
	AuditOAuthRevoke       = "oauth.revoke"
)

// Audit outcomes.
const (
	AuditOutcomeSuccess = "success"
	AuditOutcomeDenied  = "denied"
	AuditOutcomeError   = "error"
)

// AuditEvent is the structured record every security-relevant operation
// emits: who, what, when, outcome. Token values never appear here.
type AuditEvent struct {
	Action  string
	Subject string
	TokenID string // jti, safe to log (it's an identifier, not a credential)
	ChainID string
	Outcome string
	Reason  string
	At      time.Time
}
