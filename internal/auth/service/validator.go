package service

import (
	"context"
	"errors"
	"time"

	"github.com/flowcanvas/authcore/internal/auth/domain"
	"github.com/flowcanvas/authcore/pkg/cryptox"
	"github.com/flowcanvas/authcore/pkg/jwtx"
)

// DefaultGracePeriod absorbs clock skew and requests that were in flight
// when their token crossed expiry.
const DefaultGracePeriod = 5 * time.Minute

// TokenValidator decides whether a presented token is currently usable.
// The pipeline short-circuits on the first failure: decode, expiry (with
// grace), revocation, fingerprint, replay. Failures are reported, never
// retried; an invalid token is a client error, not a transient condition.
type TokenValidator struct {
	Codec        *jwtx.Codec
	Fingerprints *cryptox.DeviceFingerprinter
	Replay       *ReplayGuard
	Revocations  *RevocationRegistry

	// GracePeriod widens the expiry comparison only. Revoked tokens get
	// no grace: the revocation check runs on every decodable token no
	// matter where its expiry sits.
	GracePeriod time.Duration

	Audit Auditor
	Now   func() time.Time
}

// Validate runs the full pipeline. The returned error is only non-nil for
// infrastructure failures (store unreachable); every token problem comes
// back as Valid=false with a stable reason. Claims is populated whenever
// the token decoded cleanly, valid or not.
func (v *TokenValidator) Validate(ctx context.Context, token string, cc domain.ConnectionContext) (domain.ValidationResult, error) {
	now := v.now()

	claims, err := v.Codec.Decode(token)
	if err != nil {
		return v.deny(ctx, nil, decodeReason(err)), nil
	}

	if err := claims.ValidateExpiryWithLeeway(now, v.GracePeriod); err != nil {
		return v.deny(ctx, &claims, domain.ReasonTokenExpired), nil
	}

	revoked, err := v.Revocations.IsRevoked(ctx, claims.ID, claims.ChainID)
	if err != nil {
		v.fail(ctx, &claims)
		return domain.ValidationResult{}, err
	}
	if revoked {
		return v.deny(ctx, &claims, domain.ReasonTokenRevoked), nil
	}

	if !v.Fingerprints.Matches(claims.Fingerprint, cc.UserAgent, cc.DeviceID) {
		return v.deny(ctx, &claims, domain.ReasonBadFingerprint), nil
	}

	// Replay slot TTL: the token could still validate anywhere inside
	// expiry+grace, so the record has to live at least that long.
	first, err := v.Replay.MarkSeen(ctx, claims.Subject, claims.ID, claims.RemainingLife(now)+v.GracePeriod)
	if err != nil {
		v.fail(ctx, &claims)
		return domain.ValidationResult{}, err
	}
	if !first {
		return v.deny(ctx, &claims, domain.ReasonReplayDetected), nil
	}

	emit(ctx, v.Audit, domain.AuditEvent{
		Action:  domain.AuditTokenValidate,
		Subject: claims.Subject,
		TokenID: claims.ID,
		ChainID: claims.ChainID,
		Outcome: domain.AuditOutcomeSuccess,
		At:      now,
	})

	return domain.ValidationResult{Valid: true, Claims: &claims}, nil
}

func (v *TokenValidator) deny(ctx context.Context, claims *jwtx.Claims, reason string) domain.ValidationResult {
	ev := domain.AuditEvent{
		Action:  domain.AuditTokenValidate,
		Outcome: domain.AuditOutcomeDenied,
		Reason:  reason,
	}
	if claims != nil {
		ev.Subject = claims.Subject
		ev.TokenID = claims.ID
		ev.ChainID = claims.ChainID
	}
	emit(ctx, v.Audit, ev)

	return domain.ValidationResult{Claims: claims, Reasons: []string{reason}}
}

func (v *TokenValidator) fail(ctx context.Context, claims *jwtx.Claims) {
	emit(ctx, v.Audit, domain.AuditEvent{
		Action:  domain.AuditTokenValidate,
		Subject: claims.Subject,
		TokenID: claims.ID,
		ChainID: claims.ChainID,
		Outcome: domain.AuditOutcomeError,
	})
}

func (v *TokenValidator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now().UTC()
}

// decodeReason maps codec sentinels onto the stable reason vocabulary.
func decodeReason(err error) string {
	switch {
	case errors.Is(err, jwtx.ErrMalformed):
		return domain.ReasonMalformedToken
	case errors.Is(err, jwtx.ErrAlgNotAllowed):
		return domain.ReasonAlgNotAllowed
	default:
		// Unknown kid, issuer mismatch, and bad signatures all collapse
		// to one reason; distinguishing them tells an attacker which
		// guess got closest.
		return domain.ReasonInvalidSignature
	}
}
