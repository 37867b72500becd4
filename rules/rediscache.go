package rules

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRulesCache implements RulesCache on Redis so multiple service
// instances share one view of a user's active rules. Each user gets one key;
// Invalidate deletes it.
//
// Cache failures are treated as misses: the caller falls back to the store,
// so Redis being down degrades performance but never correctness.
type RedisRulesCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedisRulesCache creates a Redis-backed rules cache for one user.
// A zero TTL caches entries until invalidation.
func NewRedisRulesCache(client *redis.Client, userID string, config CacheConfig) *RedisRulesCache {
	return &RedisRulesCache{
		client: client,
		key:    "triage:rules:" + userID,
		ttl:    config.TTL,
		log:    slog.Default(),
	}
}

// Get retrieves cached rules, returning nil on miss or any Redis error.
func (c *RedisRulesCache) Get() []*StoredRule {
	ctx := context.Background()

	payload, err := c.client.Get(ctx, c.key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		c.log.Warn("rules cache: redis get failed", "key", c.key, "error", err)
		return nil
	}

	var rules []*StoredRule
	if err := json.Unmarshal(payload, &rules); err != nil {
		c.log.Warn("rules cache: corrupt cache entry", "key", c.key, "error", err)
		return nil
	}
	return rules
}

// Set stores rules in Redis. Errors are logged and otherwise ignored; the
// next Get will simply miss.
func (c *RedisRulesCache) Set(rules []*StoredRule) {
	ctx := context.Background()

	payload, err := json.Marshal(rules)
	if err != nil {
		c.log.Warn("rules cache: failed to marshal rules", "key", c.key, "error", err)
		return
	}

	if err := c.client.Set(ctx, c.key, payload, c.ttl).Err(); err != nil {
		c.log.Warn("rules cache: redis set failed", "key", c.key, "error", err)
	}
}

// Invalidate deletes the cache key.
func (c *RedisRulesCache) Invalidate() {
	ctx := context.Background()

	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		c.log.Warn("rules cache: redis del failed", "key", c.key, "error", err)
	}
}

// IsValid reports whether the cache key exists.
func (c *RedisRulesCache) IsValid() bool {
	ctx := context.Background()

	n, err := c.client.Exists(ctx, c.key).Result()
	if err != nil {
		return false
	}
	return n > 0
}
