package service

import (
	"context"
	"time"

	"github.com/flowcanvas/authcore/internal/auth/domain"
	"github.com/flowcanvas/authcore/pkg/jwtx"
)

// RefreshRotator implements single-use refresh rotation with
// reuse-triggered cascade revocation. Per rotation lineage the state
// machine is: ACTIVE -> ROTATED -> ACTIVE (new jti, same chain), and on a
// second presentation of any rotated-out token: REUSE_DETECTED ->
// the whole chain REVOKED.
type RefreshRotator struct {
	Issuer      *TokenIssuer
	Validator   *TokenValidator
	Revocations *RevocationRegistry

	Audit Auditor
	Now   func() time.Time
}

// Rotate exchanges a refresh token for a fresh pair on the same chain.
//
// A refresh token is single-use. Presenting one that was already consumed
// by a prior rotation means the token leaked, so the entire lineage is
// revoked before the error returns; a concurrent attacker must not get a
// window to rotate again. The old access token is left to run out its own
// short expiry, only the refresh side changes.
func (r *RefreshRotator) Rotate(ctx context.Context, refreshToken string, cc domain.ConnectionContext) (*domain.TokenPair, error) {
	now := r.now()

	res, err := r.Validator.Validate(ctx, refreshToken, cc)
	if err != nil {
		return nil, err
	}

	if !res.Valid {
		if r.isReuse(res) {
			return nil, r.handleReuse(ctx, res.Claims, now)
		}
		return nil, domain.ErrInvalidToken
	}

	claims := res.Claims
	if claims.Kind != jwtx.KindRefresh {
		emit(ctx, r.Audit, domain.AuditEvent{
			Action:  domain.AuditTokenRotate,
			Subject: claims.Subject,
			TokenID: claims.ID,
			ChainID: claims.ChainID,
			Outcome: domain.AuditOutcomeDenied,
			Reason:  domain.ReasonWrongTokenKind,
			At:      now,
		})
		return nil, domain.ErrInvalidToken
	}

	// Burn the presented jti before minting the replacement. This must be
	// durably in the store before the new pair leaves this function, or a
	// concurrent duplicate rotation could race past the revocation check.
	if err := r.Revocations.Revoke(ctx, claims.ID, claims.RemainingLife(now)+r.Validator.GracePeriod); err != nil {
		return nil, err
	}

	pair, err := r.Issuer.issue(ctx, domain.Principal{
		ID:        claims.Subject,
		Roles:     claims.Roles,
		SessionID: claims.SID,
	}, cc, claims.ChainID)
	if err != nil {
		return nil, err
	}

	emit(ctx, r.Audit, domain.AuditEvent{
		Action:  domain.AuditTokenRotate,
		Subject: claims.Subject,
		TokenID: claims.ID,
		ChainID: claims.ChainID,
		Outcome: domain.AuditOutcomeSuccess,
		At:      now,
	})

	return pair, nil
}

// isReuse reports whether a failed validation looks like the second
// presentation of a rotated-out refresh token: the token decoded as a
// refresh token and died on the replay or revocation check.
func (*RefreshRotator) isReuse(res domain.ValidationResult) bool {
	return res.Claims != nil &&
		res.Claims.Kind == jwtx.KindRefresh &&
		(res.HasReason(domain.ReasonReplayDetected) || res.HasReason(domain.ReasonTokenRevoked))
}

// handleReuse revokes the whole lineage, then reports the incident. The
// remediation is synchronous on purpose: returning first would leave a
// window where the stolen twin rotates successfully.
func (r *RefreshRotator) handleReuse(ctx context.Context, claims *jwtx.Claims, now time.Time) error {
	// The tombstone must outlive every token on the chain, and the newest
	// refresh token was minted after the stale one in hand. It cannot have
	// been minted later than now, so RefreshTTL bounds its remaining life.
	ttl := r.Issuer.RefreshTTL + r.Validator.GracePeriod
	if err := r.Revocations.RevokeChain(ctx, claims.ChainID, ttl); err != nil {
		return err
	}

	emit(ctx, r.Audit, domain.AuditEvent{
		Action:  domain.AuditReuseDetected,
		Subject: claims.Subject,
		TokenID: claims.ID,
		ChainID: claims.ChainID,
		Outcome: domain.AuditOutcomeDenied,
		Reason:  domain.ReasonRefreshReuse,
		At:      now,
	})

	return domain.ErrRefreshReuse
}

func (r *RefreshRotator) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}
