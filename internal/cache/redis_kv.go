package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisKV is an optional shared-process read-through accelerator in front of
// the durable answer cache (C3), for deployments running more than one
// server instance against the same store. Failures are logged and treated as
// a miss, consistent with the cache failure semantics in spec.md §7.
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV builds a RedisKV client. addr may be empty, in which case the
// returned value is nil and callers should skip the accelerator entirely.
func NewRedisKV(addr, password string, db int, prefix string) *RedisKV {
	if addr == "" {
		return nil
	}
	return &RedisKV{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		prefix: prefix,
	}
}

func (r *RedisKV) key(k string) string { return r.prefix + ":" + k }

// Get unmarshals the cached JSON value for key into dest. Any error
// (connection, miss, decode) is logged and reported as a plain miss.
func (r *RedisKV) Get(ctx context.Context, key string, dest any) bool {
	if r == nil {
		return false
	}
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("redis cache get failed, treating as miss")
		}
		return false
	}
	if err := json.Unmarshal(b, dest); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis cache decode failed")
		return false
	}
	return true
}

// Set writes value as JSON with the given TTL. Failures are logged and swallowed.
func (r *RedisKV) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if r == nil {
		return
	}
	b, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis cache encode failed")
		return
	}
	if err := r.client.Set(ctx, r.key(key), b, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("redis cache set failed")
	}
}
