package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/futuresfunk/internal/metrics"
)

// redisOpTimeout bounds every cache round trip so a slow Redis cannot
// stall a /signal call.
const redisOpTimeout = 500 * time.Millisecond

const signalKeyPrefix = "futuresfunk:signal:"

// RedisSignalCache shares computed signals between server replicas. A
// nil *RedisSignalCache is valid and always misses, so callers never
// branch on whether Redis is configured.
type RedisSignalCache struct {
	client *metrics.RedisMetrics
	ttl    time.Duration
}

// signalCacheEntry is the stored form of a cached signal.
type signalCacheEntry struct {
	Symbol   string    `json:"symbol"`
	Signal   Signal    `json:"signal"`
	CachedAt time.Time `json:"cached_at"`
}

// NewRedisSignalCache wraps a Redis client for signal sharing.
// If client is nil, returns nil (the shared tier is optional).
func NewRedisSignalCache(client *redis.Client, ttl time.Duration) *RedisSignalCache {
	if client == nil {
		return nil
	}

	if ttl <= 0 {
		ttl = DefaultSignalCacheTTL
	}

	return &RedisSignalCache{
		client: metrics.NewRedisMetrics(client),
		ttl:    ttl,
	}
}

// Get retrieves the cached signal for a symbol. Any Redis problem is a
// miss, never an error.
func (c *RedisSignalCache) Get(ctx context.Context, symbol string) (Signal, bool) {
	if c == nil || c.client == nil {
		return Signal{}, false
	}

	key := signalKey(symbol)

	cacheCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, key)
	if err != nil {
		if err != redis.Nil {
			log.Debug().
				Err(err).
				Str("key", key).
				Msg("Redis get failed, treating as cache miss")
		}
		return Signal{}, false
	}

	var entry signalCacheEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to unmarshal cached signal")
		return Signal{}, false
	}

	log.Debug().
		Str("symbol", symbol).
		Str("action", entry.Signal.Action).
		Time("cached_at", entry.CachedAt).
		Msg("Shared cache hit for signal")

	return entry.Signal, true
}

// Set stores a signal under the configured TTL. Failures are logged
// and swallowed; a dead cache must not block signal serving.
func (c *RedisSignalCache) Set(ctx context.Context, symbol string, sig Signal) {
	if c == nil || c.client == nil {
		return
	}

	key := signalKey(symbol)

	entry := signalCacheEntry{
		Symbol:   symbol,
		Signal:   sig,
		CachedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to marshal signal entry")
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := c.client.Set(cacheCtx, key, data, c.ttl); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to cache signal")
		return
	}

	log.Debug().
		Str("symbol", symbol).
		Str("action", sig.Action).
		Dur("ttl", c.ttl).
		Msg("Cached signal")
}

func signalKey(symbol string) string {
	return signalKeyPrefix + symbol
}
