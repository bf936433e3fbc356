package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"campuslib/internal/telemetry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Cache mirrors item queues. Entries are dropped after every write that
// touches the item; a miss always falls back to the repository.
type Cache interface {
	Get(ctx context.Context, itemID uuid.UUID) (*Queue, bool, error)
	Set(ctx context.Context, q *Queue) error
	Invalidate(ctx context.Context, itemIDs ...uuid.UUID) error
}

// MemoryCache is a per-process cache.
type MemoryCache struct {
	mu     sync.RWMutex
	queues map[uuid.UUID]*Queue
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{queues: make(map[uuid.UUID]*Queue)}
}

func (c *MemoryCache) Get(_ context.Context, itemID uuid.UUID) (*Queue, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.queues[itemID]
	if !ok {
		return nil, false, nil
	}
	return cloneQueue(q), true, nil
}

func (c *MemoryCache) Set(_ context.Context, q *Queue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues[q.ItemID] = cloneQueue(q)
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, itemIDs ...uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range itemIDs {
		delete(c.queues, id)
	}
	return nil
}

// cloneQueue copies q so callers cannot mutate cached entries.
func cloneQueue(q *Queue) *Queue {
	out := &Queue{ItemID: q.ItemID, Entries: make([]*Reservation, len(q.Entries))}
	for i, r := range q.Entries {
		cp := *r
		out.Entries[i] = &cp
	}
	return out
}

// RedisCache shares queues between server instances.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func queueKey(itemID uuid.UUID) string {
	return fmt.Sprintf("reservations:queue:%s", itemID)
}

func (c *RedisCache) Get(ctx context.Context, itemID uuid.UUID) (*Queue, bool, error) {
	raw, err := c.rdb.Get(ctx, queueKey(itemID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get queue: %w", err)
	}
	var q Queue
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, false, fmt.Errorf("decode cached queue: %w", err)
	}
	return &q, true, nil
}

func (c *RedisCache) Set(ctx context.Context, q *Queue) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	return c.rdb.Set(ctx, queueKey(q.ItemID), raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, itemIDs ...uuid.UUID) error {
	if len(itemIDs) == 0 {
		return nil
	}
	keys := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		keys[i] = queueKey(id)
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// GuardedCache counts invalidations per item so that a queue read from the
// database before a write is never stored after that write's invalidation.
// Every writer of an item's reservations must invalidate through the same
// GuardedCache.
type GuardedCache struct {
	Cache
	mu   sync.Mutex
	gens map[uuid.UUID]uint64
}

func NewGuardedCache(c Cache) *GuardedCache {
	if g, ok := c.(*GuardedCache); ok {
		return g
	}
	return &GuardedCache{Cache: c, gens: make(map[uuid.UUID]uint64)}
}

// Generation is the item's invalidation count. Read it before loading the
// queue that will be passed to SetIfCurrent.
func (g *GuardedCache) Generation(itemID uuid.UUID) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gens[itemID]
}

// SetIfCurrent stores q unless the item was invalidated since gen was read.
func (g *GuardedCache) SetIfCurrent(ctx context.Context, q *Queue, gen uint64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gens[q.ItemID] != gen {
		return false, nil
	}
	return true, g.Cache.Set(ctx, q)
}

func (g *GuardedCache) Get(ctx context.Context, itemID uuid.UUID) (*Queue, bool, error) {
	q, ok, err := g.Cache.Get(ctx, itemID)
	switch {
	case err != nil:
		telemetry.ReservationCacheLookups.WithLabelValues("error").Inc()
	case ok:
		telemetry.ReservationCacheLookups.WithLabelValues("hit").Inc()
	default:
		telemetry.ReservationCacheLookups.WithLabelValues("miss").Inc()
	}
	return q, ok, err
}

// Invalidate bumps the generations before dropping the entries. A set that
// won the lock first is removed by the drop; one that lost sees the new
// generation and skips.
func (g *GuardedCache) Invalidate(ctx context.Context, itemIDs ...uuid.UUID) error {
	g.mu.Lock()
	for _, id := range itemIDs {
		g.gens[id]++
	}
	g.mu.Unlock()
	return g.Cache.Invalidate(ctx, itemIDs...)
}
