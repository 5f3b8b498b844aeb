package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowcanvas/authcore/internal/auth/domain"
	"github.com/flowcanvas/authcore/pkg/cryptox"
	"github.com/flowcanvas/authcore/pkg/idx"
	"github.com/flowcanvas/authcore/pkg/jwtx"
)

// TokenIssuer mints access/refresh token pairs for a principal. It touches
// no shared state, so it is safe from arbitrarily many concurrent callers;
// replay records are written lazily at first validation instead.
type TokenIssuer struct {
	Codec        *jwtx.Codec
	Fingerprints *cryptox.DeviceFingerprinter

	// Identity is optional. When set, roles are re-resolved from the
	// identity repository at issuance instead of trusted from the caller.
	Identity IdentityRepository

	// Roles is optional. When set, the role set is expanded through the
	// hierarchy before embedding.
	Roles *RoleExpander

	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Audit Auditor

	// Now overrides the clock, for tests. Nil means time.Now.
	Now func() time.Time
}

// Issue mints a fresh token pair for a first-time login: new session id
// (unless the principal carries one), new rotation chain.
func (s *TokenIssuer) Issue(ctx context.Context, p domain.Principal, cc domain.ConnectionContext) (*domain.TokenPair, error) {
	return s.issue(ctx, p, cc, "")
}

// issue is the shared mint path. A non-empty chainID preserves the
// rotation lineage (refresh rotation); empty starts a new one.
func (s *TokenIssuer) issue(ctx context.Context, p domain.Principal, cc domain.ConnectionContext, chainID string) (*domain.TokenPair, error) {
	if p.ID == "" {
		return nil, errors.New("service: principal id is required")
	}
	if s.AccessTTL <= 0 || s.RefreshTTL <= s.AccessTTL {
		return nil, errors.New("service: access TTL must be positive and strictly shorter than refresh TTL")
	}

	roles := p.Roles
	if s.Identity != nil {
		resolved, err := s.Identity.ResolveRoles(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve roles: %v", domain.ErrServiceUnavailable, err)
		}
		roles = resolved
	}
	roles = s.Roles.Expand(roles)

	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = idx.New().String()
	}
	if chainID == "" {
		chainID = idx.New().String()
	}

	now := s.now()
	fingerprint := s.Fingerprints.Derive(cc.UserAgent, cc.DeviceID)

	access, err := s.Codec.Encode(jwtx.NewClaims(jwtx.ClaimsParams{
		Subject:     p.ID,
		SessionID:   sessionID,
		Kind:        jwtx.KindAccess,
		ChainID:     chainID,
		Fingerprint: fingerprint,
		Roles:       roles,
		Issuer:      s.Issuer,
		TTL:         s.AccessTTL,
		Now:         now,
	}))
	if err != nil {
		return nil, fmt.Errorf("%w: sign access token: %v", domain.ErrServiceUnavailable, err)
	}

	refresh, err := s.Codec.Encode(jwtx.NewClaims(jwtx.ClaimsParams{
		Subject:     p.ID,
		SessionID:   sessionID,
		Kind:        jwtx.KindRefresh,
		ChainID:     chainID,
		Fingerprint: fingerprint,
		Roles:       roles,
		Issuer:      s.Issuer,
		TTL:         s.RefreshTTL,
		Now:         now,
	}))
	if err != nil {
		return nil, fmt.Errorf("%w: sign refresh token: %v", domain.ErrServiceUnavailable, err)
	}

	emit(ctx, s.Audit, domain.AuditEvent{
		Action:  domain.AuditTokenIssue,
		Subject: p.ID,
		ChainID: chainID,
		Outcome: domain.AuditOutcomeSuccess,
		At:      now,
	})

	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		AccessExpiry: now.Add(s.AccessTTL),
		ChainID:      chainID,
	}, nil
}

func (s *TokenIssuer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
