package service

import (
	"context"
	"fmt"
	"time"

	"github.com/flowcanvas/authcore/internal/auth/domain"
	"github.com/flowcanvas/authcore/internal/auth/store"
)

// replayKeyPrefix namespaces replay records in the shared store.
const replayKeyPrefix = "replay/"

// minReplayTTL keeps a record alive even when the token is already at the
// edge of its grace window; a zero TTL would make the guard a no-op.
const minReplayTTL = time.Second

// ReplayGuard enforces at-most-once consumption of a token identifier.
// The atomic set-if-absent is the whole trick: of two concurrent
// validations of the same token, exactly one creates the record and wins.
type ReplayGuard struct {
	kv store.Store
}

// NewReplayGuard builds a guard over the shared store.
func NewReplayGuard(kv store.Store) *ReplayGuard {
	return &ReplayGuard{kv: kv}
}

// MarkSeen records (subject, jti) as consumed and reports whether this
// call was the first to do so. A false return means replay. Records are
// never rolled back; a jti once seen stays seen until its TTL expires.
func (g *ReplayGuard) MarkSeen(ctx context.Context, subject, jti string, ttl time.Duration) (bool, error) {
	if ttl < minReplayTTL {
		ttl = minReplayTTL
	}

	key := replayKeyPrefix + subject + "/" + jti
	first, err := g.kv.SetIfAbsent(ctx, key, []byte("1"), ttl)
	if err != nil {
		return false, fmt.Errorf("%w: replay guard: %v", domain.ErrServiceUnavailable, err)
	}

	return first, nil
}
