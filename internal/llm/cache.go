// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultModelCacheTTL is how long a model listing stays fresh.
const DefaultModelCacheTTL = 5 * time.Minute

// Clock abstracts time so cache expiry can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// =============================================================================
// MODEL CACHE
// =============================================================================

type cacheEntry struct {
	models  []string
	expires time.Time
}

// ModelCache memoizes model discovery per provider identity. Concurrent
// misses for the same key share one fetch. Failed fetches are not cached.
type ModelCache struct {
	ttl   time.Duration
	clock Clock

	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

// NewModelCache creates a cache. A zero ttl uses DefaultModelCacheTTL and
// a nil clock uses SystemClock.
func NewModelCache(ttl time.Duration, clock Clock) *ModelCache {
	if ttl <= 0 {
		ttl = DefaultModelCacheTTL
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &ModelCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached listing for key or calls fetch on a miss.
func (c *ModelCache) Get(ctx context.Context, key string, fetch func(context.Context) ([]string, error)) ([]string, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.clock.Now().Before(e.expires) {
		c.mu.Unlock()
		return slices.Clone(e.models), nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		models, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{models: models, expires: c.clock.Now().Add(c.ttl)}
		c.mu.Unlock()
		return models, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]string)), nil
}

// Invalidate drops the entry for key.
func (c *ModelCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// =============================================================================
// CACHING DECORATOR
// =============================================================================

type cachedAdapter struct {
	Adapter
	key   string
	cache *ModelCache
}

// WithModelCache returns an adapter whose AvailableModels is served from
// cache under key. Every other call passes through.
func WithModelCache(a Adapter, key string, cache *ModelCache) Adapter {
	if cache == nil {
		return a
	}
	return &cachedAdapter{Adapter: a, key: key, cache: cache}
}

func (c *cachedAdapter) AvailableModels(ctx context.Context) ([]string, error) {
	return c.cache.Get(ctx, c.key, c.Adapter.AvailableModels)
}
