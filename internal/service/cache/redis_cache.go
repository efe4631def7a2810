package cache

import (
	"context"
	"time"

	pkgcache "PatternMemory/pkg/cache"
)

// RedisClaimer claims keys with SET NX so replicas share one dedupe window.
type RedisClaimer struct {
	rc *pkgcache.RedisCache
}

func NewRedisClaimer(rc *pkgcache.RedisCache) *RedisClaimer {
	return &RedisClaimer{rc: rc}
}

func (r *RedisClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.rc.SetNX(ctx, "claim:"+key, ttl)
}

var _ Claimer = (*RedisClaimer)(nil)
