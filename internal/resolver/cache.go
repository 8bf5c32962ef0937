package resolver

import (
	"sync"

	"github.com/brandsight/adharvest/internal/harvest"
)

// identityCache memoizes domain -> advertiser identity. Domain/brand
// mappings are stable, so entries carry no TTL; a later resolution that
// disagrees overwrites (last-write-wins) and the caller logs the conflict.
type identityCache struct {
	mu      sync.RWMutex
	entries map[string]harvest.AdvertiserIdentity
}

func newIdentityCache() *identityCache {
	return &identityCache{
		entries: make(map[string]harvest.AdvertiserIdentity),
	}
}

func (c *identityCache) Get(domain string) (harvest.AdvertiserIdentity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.entries[domain]
	return id, ok
}

// Put stores the identity and reports whether it replaced a disagreeing
// entry for the same domain.
func (c *identityCache) Put(domain string, identity harvest.AdvertiserIdentity) (conflict bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.entries[domain]; ok && prev.CanonicalName != identity.CanonicalName {
		conflict = true
	}
	c.entries[domain] = identity
	return conflict
}

func (c *identityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
