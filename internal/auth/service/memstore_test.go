package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flowcanvas/authcore/internal/auth/store"
)

// fakeClock is a manually advanced clock shared between the components
// under test and the fake store, so TTL expiry and grace windows agree.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// memStore is an in-memory store.Store with real TTL semantics and error
// injection. The mutex makes SetIfAbsent and GetAndDelete genuinely
// atomic, which the replay/state single-winner tests depend on.
type memStore struct {
	mu    sync.Mutex
	items map[string]memItem
	clock *fakeClock

	// failing makes every operation return an error, to exercise the
	// ServiceUnavailable paths.
	failing bool
}

type memItem struct {
	val       []byte
	expiresAt time.Time
}

var errMemStoreDown = errors.New("memstore: injected failure")

func newMemStore(clock *fakeClock) *memStore {
	return &memStore{items: make(map[string]memItem), clock: clock}
}

var _ store.Store = (*memStore)(nil)

func (m *memStore) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return false, errMemStoreDown
	}

	now := m.clock.Now()
	if item, ok := m.items[key]; ok && item.expiresAt.After(now) {
		return false, nil
	}

	m.items[key] = memItem{val: value, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, errMemStoreDown
	}

	item, ok := m.items[key]
	if !ok || !item.expiresAt.After(m.clock.Now()) {
		return nil, store.ErrNotFound
	}
	return item.val, nil
}

func (m *memStore) GetAndDelete(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, errMemStoreDown
	}

	item, ok := m.items[key]
	if !ok || !item.expiresAt.After(m.clock.Now()) {
		return nil, store.ErrNotFound
	}
	delete(m.items, key)
	return item.val, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errMemStoreDown
	}

	delete(m.items, key)
	return nil
}

func (m *memStore) setFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}
