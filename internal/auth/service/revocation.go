package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowcanvas/authcore/internal/auth/domain"
	"github.com/flowcanvas/authcore/internal/auth/store"
)

// Key prefixes for revocation entries. Entries carry a TTL equal to the
// remaining lifetime of whatever they revoke, so the store never holds a
// tombstone for a token that could no longer validate anyway.
const (
	revokedJTIPrefix   = "revoked/jti/"
	revokedChainPrefix = "revoked/chain/"
)

const minRevocationTTL = time.Second

// RevocationRegistry tracks revoked token identifiers and rotation chains
// until their natural expiry.
type RevocationRegistry struct {
	kv    store.Store
	audit Auditor
}

// NewRevocationRegistry builds a registry over the shared store.
func NewRevocationRegistry(kv store.Store, audit Auditor) *RevocationRegistry {
	return &RevocationRegistry{kv: kv, audit: audit}
}

// Revoke marks a single jti revoked for ttl. Revoking an already-revoked
// jti is a no-op, not an error.
func (r *RevocationRegistry) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if err := r.set(ctx, revokedJTIPrefix+jti, ttl); err != nil {
		return err
	}

	emit(ctx, r.audit, domain.AuditEvent{
		Action:  domain.AuditTokenRevoke,
		TokenID: jti,
		Outcome: domain.AuditOutcomeSuccess,
	})
	return nil
}

// RevokeChain marks an entire rotation lineage revoked. Used when refresh
// reuse is detected: reuse implies exfiltration, so every token ever
// issued under the chain is suspect, not just the reused one.
func (r *RevocationRegistry) RevokeChain(ctx context.Context, chainID string, ttl time.Duration) error {
	if err := r.set(ctx, revokedChainPrefix+chainID, ttl); err != nil {
		return err
	}

	emit(ctx, r.audit, domain.AuditEvent{
		Action:  domain.AuditTokenRevokeChain,
		ChainID: chainID,
		Outcome: domain.AuditOutcomeSuccess,
	})
	return nil
}

// IsRevoked reports whether either the jti or its chain has been revoked.
// Store failures surface as ErrServiceUnavailable; a registry that can't
// answer must never answer "no".
func (r *RevocationRegistry) IsRevoked(ctx context.Context, jti, chainID string) (bool, error) {
	if jti != "" {
		revoked, err := r.exists(ctx, revokedJTIPrefix+jti)
		if err != nil || revoked {
			return revoked, err
		}
	}

	if chainID != "" {
		return r.exists(ctx, revokedChainPrefix+chainID)
	}

	return false, nil
}

func (r *RevocationRegistry) set(ctx context.Context, key string, ttl time.Duration) error {
	if ttl < minRevocationTTL {
		ttl = minRevocationTTL
	}

	if _, err := r.kv.SetIfAbsent(ctx, key, []byte("1"), ttl); err != nil {
		return fmt.Errorf("%w: revocation registry: %v", domain.ErrServiceUnavailable, err)
	}
	return nil
}

func (r *RevocationRegistry) exists(ctx context.Context, key string) (bool, error) {
	_, err := r.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: revocation registry: %v", domain.ErrServiceUnavailable, err)
	}
	return true, nil
}
