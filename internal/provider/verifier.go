package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
)

// VerifierTTL is how long a PKCE code verifier stays redeemable.
const VerifierTTL = 5 * time.Minute

// VerifierCache maps a server nonce to a PKCE code verifier. Pop removes the
// entry so each verifier is redeemed at most once.
type VerifierCache interface {
	Put(ctx context.Context, nonce, verifier string) error
	Pop(ctx context.Context, nonce string) (string, bool, error)
}

// MemoryVerifierCache keeps verifiers in process memory.
type MemoryVerifierCache struct {
	cache *ttlcache.Cache[string, string]
}

func NewMemoryVerifierCache(ttl time.Duration) *MemoryVerifierCache {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()
	return &MemoryVerifierCache{cache: cache}
}

func (c *MemoryVerifierCache) Put(_ context.Context, nonce, verifier string) error {
	c.cache.Set(nonce, verifier, ttlcache.DefaultTTL)
	return nil
}

func (c *MemoryVerifierCache) Pop(_ context.Context, nonce string) (string, bool, error) {
	item, found := c.cache.GetAndDelete(nonce)
	if !found || item == nil || item.IsExpired() {
		return "", false, nil
	}
	return item.Value(), true, nil
}

// Close stops the expiry goroutine.
func (c *MemoryVerifierCache) Close() {
	c.cache.Stop()
}

// RedisVerifierCache shares verifiers between server instances.
type RedisVerifierCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisVerifierCache(client *redis.Client, ttl time.Duration) *RedisVerifierCache {
	return &RedisVerifierCache{client: client, ttl: ttl, prefix: "kaarna:pkce:"}
}

func (c *RedisVerifierCache) Put(ctx context.Context, nonce, verifier string) error {
	if err := c.client.Set(ctx, c.prefix+nonce, verifier, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store code verifier: %w", err)
	}
	return nil
}

func (c *RedisVerifierCache) Pop(ctx context.Context, nonce string) (string, bool, error) {
	verifier, err := c.client.GetDel(ctx, c.prefix+nonce).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load code verifier: %w", err)
	}
	return verifier, true, nil
}
