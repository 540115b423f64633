package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/plagtech/spraay-solana-gateway/internal/store"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "gateway:idempotency:"

// Guard claims idempotency keys with SET NX so every gateway replica sees
// the same claims.
type Guard struct {
	client *redis.Client
}

var _ store.IdempotencyGuard = (*Guard)(nil)

func NewGuard(url string) (*Guard, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Guard{client: client}, nil
}

// NewGuardFromClient wraps an existing client. The caller keeps ownership.
func NewGuardFromClient(client *redis.Client) *Guard {
	return &Guard{client: client}
}

func (g *Guard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire idempotency key: %w", err)
	}
	return ok, nil
}

func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (g *Guard) Close() error {
	return g.client.Close()
}

// MemoryGuard is the single-process fallback used without Redis.
type MemoryGuard struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

var _ store.IdempotencyGuard = (*MemoryGuard)(nil)

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{expires: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.expires[key] = now.Add(ttl)

	// Expired keys are swept lazily so the map cannot grow without bound.
	if len(g.expires) > 1024 {
		for k, exp := range g.expires {
			if !now.Before(exp) {
				delete(g.expires, k)
			}
		}
	}
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	delete(g.expires, key)
	g.mu.Unlock()
	return nil
}

// ValidKey reports whether a client-supplied key is usable.
func ValidKey(key string) bool {
	key = strings.TrimSpace(key)
	return key != "" && len(key) <= 255
}
