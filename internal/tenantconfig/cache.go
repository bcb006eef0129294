package tenantconfig

import (
	"sync"
	"time"
)

// Entry is one cached config and the time it was loaded.
type Entry struct {
	Config   *TenantConfig
	LoadedAt time.Time
}

// Age reports how old the entry is at now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.LoadedAt)
}

// Cache holds loaded configs keyed by tenant handle. Entries are replaced
// whole, so readers never see a partially refreshed config.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

func (c *Cache) Get(handle string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[handle]
	return e, ok
}

func (c *Cache) Set(handle string, cfg *TenantConfig, loadedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[handle] = Entry{Config: cfg, LoadedAt: loadedAt}
}

func (c *Cache) Delete(handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, handle)
}

// Purge drops every entry. Called on shutdown.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
