package cache

import (
	"context"
	"time"
)

// LayeredCache is a two-level cache: process memory in front of a shared
// backend such as Redis. Writes go through to both levels.
type LayeredCache struct {
	mem     *MemoryCache
	backend Service
}

// NewLayeredCache puts an in-memory L1 in front of backend.
func NewLayeredCache(backend Service, opts ...LayeredOption) *LayeredCache {
	return &LayeredCache{
		mem:     NewMemoryCache(opts...),
		backend: backend,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.backend.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	_ = lc.mem.Set(ctx, key, value, expiration)
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.mem.Get(ctx, key, dest); err == nil {
		return nil
	}
	if err := lc.backend.Get(ctx, key, dest); err != nil {
		return err
	}
	_ = lc.mem.Set(ctx, key, dest, 0)
	return nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.mem.Delete(ctx, keys...)
	return lc.backend.Delete(ctx, keys...)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	if ok, _ := lc.mem.Exists(ctx, keys...); ok {
		return true, nil
	}
	return lc.backend.Exists(ctx, keys...)
}

// Close closes both levels.
func (lc *LayeredCache) Close() error {
	_ = lc.mem.Close()
	return lc.backend.Close()
}
