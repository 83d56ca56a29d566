package moderation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrCacheMiss is returned by a Cache when no verdict is stored for a key.
var ErrCacheMiss = errors.New("moderation: cache miss")

// Cache stores encoded verdicts.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cached memoizes another Moderator's verdicts.
// Cache failures never fail an evaluation; they only cost a call to the inner moderator.
type Cached struct {
	inner Moderator
	cache Cache
	ttl   time.Duration
	log   zerolog.Logger
}

func NewCached(inner Moderator, cache Cache, ttl time.Duration, log zerolog.Logger) *Cached {
	return &Cached{inner: inner, cache: cache, ttl: ttl, log: log}
}

func (c *Cached) Evaluate(ctx context.Context, text string) (Verdict, error) {
	key := cacheKey(text)

	raw, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		var v Verdict
		if jerr := json.Unmarshal(raw, &v); jerr == nil {
			return v, nil
		}
		c.log.Warn().Str("key", key).Msg("discarding undecodable cached verdict")
	case !errors.Is(err, ErrCacheMiss):
		c.log.Warn().Err(err).Msg("moderation cache read failed")
	}

	v, err := c.inner.Evaluate(ctx, text)
	if err != nil {
		return Verdict{}, err
	}

	if raw, err := json.Marshal(v); err == nil {
		if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
			c.log.Warn().Err(err).Msg("moderation cache write failed")
		}
	}
	return v, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "moderation:" + hex.EncodeToString(sum[:])
}

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects to redis and verifies connectivity.
func NewRedisCache(ctx context.Context, addr string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &RedisCache{rdb: rdb}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCache) Close() error { return r.rdb.Close() }
