package market

import (
	"sync"
	"time"

	"github.com/mtlprog/tracker/internal/domain"
)

const cacheTTL = 30 * time.Second

type cacheEntry struct {
	asset     domain.Asset
	expiresAt time.Time
}

type assetCache struct {
	mu      sync.RWMutex
	now     func() time.Time
	entries map[string]cacheEntry
}

func newAssetCache() *assetCache {
	return &assetCache{
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *assetCache) get(id string) (domain.Asset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[id]
	if !ok || c.now().After(entry.expiresAt) {
		return domain.Asset{}, false
	}
	return entry.asset, true
}

func (c *assetCache) set(a domain.Asset) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[a.ID] = cacheEntry{
		asset:     a,
		expiresAt: c.now().Add(cacheTTL),
	}
}
