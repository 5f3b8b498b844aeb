package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/flowcanvas/authcore/internal/auth/store"
)

func newTestKV(t *testing.T) (*KV, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewWithClient(client, "authcore:"), mr
}

func TestKV_SetIfAbsent(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	ok, err := kv.SetIfAbsent(ctx, "replay/u1/j1", []byte("1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "first write should win")

	ok, err = kv.SetIfAbsent(ctx, "replay/u1/j1", []byte("1"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "second write should lose")
}

func TestKV_SetIfAbsent_Expiry(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()

	ok, err := kv.SetIfAbsent(ctx, "replay/u1/j1", []byte("1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = kv.SetIfAbsent(ctx, "replay/u1/j1", []byte("1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired key should be writable again")
}

func TestKV_Get(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	ok, err := kv.SetIfAbsent(ctx, "revoked/jti/j1", []byte("x"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	val, err := kv.Get(ctx, "revoked/jti/j1")
	require.NoError(t, err)
	require.Equal(t, []byte("x"), val)
}

func TestKV_GetAndDelete(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	ok, err := kv.SetIfAbsent(ctx, "oauthstate/s1", []byte("rec"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	val, err := kv.GetAndDelete(ctx, "oauthstate/s1")
	require.NoError(t, err)
	require.Equal(t, []byte("rec"), val)

	_, err = kv.GetAndDelete(ctx, "oauthstate/s1")
	require.ErrorIs(t, err, store.ErrNotFound, "a consumed key is gone")
}

func TestKV_GetAndDelete_SingleWinner(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	ok, err := kv.SetIfAbsent(ctx, "oauthstate/s1", []byte("rec"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	const workers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			if _, err := kv.GetAndDelete(ctx, "oauthstate/s1"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load(), "exactly one consumer may win")
}

func TestKV_Delete(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Delete(ctx, "missing"), "deleting absent key is fine")

	ok, err := kv.SetIfAbsent(ctx, "k", []byte("v"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestKV_KeyPrefix(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()

	ok, err := kv.SetIfAbsent(ctx, "replay/u1/j1", []byte("1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// The raw redis key carries the namespace prefix.
	require.True(t, mr.Exists("authcore:replay/u1/j1"))
}
