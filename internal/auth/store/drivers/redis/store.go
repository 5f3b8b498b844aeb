package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/flowcanvas/authcore/internal/auth/store"
)

// Default timeouts for redis operations. Token validation sits on the hot
// path of every request, so reads are bounded tightly.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 2 * time.Second
	DefaultWriteTimeout = 2 * time.Second
)

// Config holds connection settings for the redis-backed store.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int

	// KeyPrefix namespaces every key, e.g. "authcore:". Useful when the
	// redis instance is shared with other services.
	KeyPrefix string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KV implements store.Store on redis. SETNX gives us the atomic
// set-if-absent-with-TTL, GETDEL the atomic consume.
type KV struct {
	client    goredis.UniversalClient
	keyPrefix string
}

var _ store.Store = (*KV)(nil)

// New dials redis and verifies the connection before returning.
func New(ctx context.Context, cfg Config) (*KV, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis: address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect: %w", err)
	}

	return &KV{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewWithClient wraps a pre-configured client. This is how the tests run
// against miniredis.
func NewWithClient(client goredis.UniversalClient, keyPrefix string) *KV {
	return &KV{client: client, keyPrefix: keyPrefix}
}

// Close releases the underlying client.
func (kv *KV) Close() error {
	return kv.client.Close()
}

// Ping checks connectivity, for readiness probes.
func (kv *KV) Ping(ctx context.Context) error {
	return kv.client.Ping(ctx).Err()
}

func (kv *KV) key(k string) string {
	return kv.keyPrefix + k
}

// SetIfAbsent implements store.Store using SETNX with expiry.
func (kv *KV) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := kv.client.SetNX(ctx, kv.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: setnx %s: %w", key, err)
	}
	return ok, nil
}

// Get implements store.Store.
func (kv *KV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := kv.client.Get(ctx, kv.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return val, nil
}

// GetAndDelete implements store.Store using GETDEL.
func (kv *KV) GetAndDelete(ctx context.Context, key string) ([]byte, error) {
	val, err := kv.client.GetDel(ctx, kv.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("redis: getdel %s: %w", key, err)
	}
	return val, nil
}

// Delete implements store.Store.
func (kv *KV) Delete(ctx context.Context, key string) error {
	if err := kv.client.Del(ctx, kv.key(key)).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis: del %s: %w", key, err)
	}
	return nil
}
