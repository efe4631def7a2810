package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	v   any
	exp time.Time
}

// TTLCache is an in-process map with per-key expiry.
type TTLCache struct {
	mu  sync.Mutex
	m   map[string]entry
	now func() time.Time
}

func NewTTLCache() *TTLCache {
	return &TTLCache{m: make(map[string]entry), now: time.Now}
}

// WithClock replaces the time source. Tests only.
func (c *TTLCache) WithClock(now func() time.Time) *TTLCache {
	c.now = now
	return c
}

func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return nil, false
	}
	if c.expired(e) {
		delete(c.m, key)
		return nil, false
	}
	return e.v, true
}

func (c *TTLCache) Set(key string, v any, ttl time.Duration) {
	c.mu.Lock()
	c.m[key] = entry{v: v, exp: c.expiry(ttl)}
	c.mu.Unlock()
}

// Claim stores key unless a live entry already holds it.
func (c *TTLCache) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.m[key]; ok && !c.expired(e) {
		return false, nil
	}
	c.m[key] = entry{v: struct{}{}, exp: c.expiry(ttl)}
	c.sweepLocked()
	return true, nil
}

func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func (c *TTLCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *TTLCache) expired(e entry) bool {
	return !e.exp.IsZero() && c.now().After(e.exp)
}

// sweepLocked drops expired entries once the map grows, so claim keys do not pile up.
func (c *TTLCache) sweepLocked() {
	if len(c.m) < 1024 {
		return
	}
	for k, e := range c.m {
		if c.expired(e) {
			delete(c.m, k)
		}
	}
}

var _ Claimer = (*TTLCache)(nil)
