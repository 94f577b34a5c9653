// Package redis provides Redis-backed storage for the portal cache.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campuskit/portal-core/pkg/cache"
)

// scanBatch is the COUNT hint for SCAN and the DEL batch size.
const scanBatch = 100

// envelope is the stored representation of a cache entry. The stored-at
// timestamp travels with the payload so every reader reports the same
// "data as of" marker.
type envelope struct {
	Payload  []byte    `json:"payload"`
	StoredAt time.Time `json:"stored_at"`
}

// Config configures the Redis cache.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Cache implements cache.Cache using Redis. TTL expiry is native; the
// owner-scoped bulk clear walks the keyspace with SCAN.
type Cache struct {
	client *redis.Client
}

// New creates a Redis cache from config.
func New(cfg Config) *Cache {
	return &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// NewWithClient creates a Redis cache over an existing client.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Ping verifies connectivity to the Redis server.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Get returns the entry for key, or cache.ErrMiss when absent or expired.
func (c *Cache) Get(ctx context.Context, key cache.Key) (cache.Entry, error) {
	data, err := c.client.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return cache.Entry{}, cache.ErrMiss
	}
	if err != nil {
		return cache.Entry{}, unavailable("get", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// A value this process cannot decode is as good as absent.
		return cache.Entry{}, cache.ErrMiss
	}
	return cache.Entry{Payload: env.Payload, StoredAt: env.StoredAt}, nil
}

// Set stores payload under key for ttl.
func (c *Cache) Set(ctx context.Context, key cache.Key, payload []byte, ttl time.Duration) error {
	data, err := json.Marshal(envelope{Payload: payload, StoredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	if err := c.client.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// ClearOwner deletes every entry scoped to the owner. Keys are rendered
// owner-first as "owner:kind[:qualifier]", so one anchored prefix scan
// covers the namespace and a qualifier equal to another owner's id can
// never match.
func (c *Cache) ClearOwner(ctx context.Context, owner int64) error {
	return c.deleteMatching(ctx, strconv.FormatInt(owner, 10)+":*")
}

// deleteMatching SCANs for keys matching pattern and deletes them in
// batches.
func (c *Cache) deleteMatching(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return unavailable("scan", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return unavailable("del", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// unavailable marks a backend failure as the soft cache.ErrUnavailable so
// callers fall back to a direct downstream fetch.
func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %v", op, cache.ErrUnavailable, err)
}

// Verify interface compliance.
var _ cache.Cache = (*Cache)(nil)
