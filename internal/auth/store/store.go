package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist (or has expired, which
// is the same thing as far as callers are concerned).
var ErrNotFound = errors.New("store: not found")

// Store is the TTL-aware key-value contract every stateful component in
// the token core builds on. All shared mutable state lives behind this
// interface, so the core itself needs no in-process locks: the two atomic
// primitives (SetIfAbsent, GetAndDelete) carry the whole concurrency story.
//
// Keys are namespaced by component prefix (replay/, revoked/, oauthstate/)
// and no component ever reads another component's keys.
type Store interface {
	// SetIfAbsent writes key=value with a TTL only if the key does not
	// already exist. Returns true if the write happened. This must be
	// atomic on the backing store; a check-then-set emulation defeats
	// replay detection under concurrency.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetAndDelete atomically reads and removes key, or returns
	// ErrNotFound. This is what makes OAuth state single-use.
	GetAndDelete(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
