package cache

import (
	"context"
	"time"

	"github.com/townhall-civic/rag/internal/store"
)

// AnswerCacheWithRedis layers an optional RedisKV read-through accelerator in
// front of the durable answer cache (C3), for multi-instance deployments
// sharing one store. A nil Redis field makes this a pass-through to Durable.
type AnswerCacheWithRedis struct {
	Durable store.AnswerCacheStore
	Redis   *RedisKV
}

func (a *AnswerCacheWithRedis) GetCachedAnswer(ctx context.Context, key string) (store.CachedAnswer, bool, error) {
	var cached store.CachedAnswer
	if a.Redis.Get(ctx, key, &cached) {
		return cached, true, nil
	}
	return a.Durable.GetCachedAnswer(ctx, key)
}

func (a *AnswerCacheWithRedis) PutCachedAnswer(ctx context.Context, ans store.CachedAnswer) error {
	if err := a.Durable.PutCachedAnswer(ctx, ans); err != nil {
		return err
	}
	ttl := ans.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	a.Redis.Set(ctx, ans.Key, ans, ttl)
	return nil
}
