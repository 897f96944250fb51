package oracle

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alejandrodnm/liquidator/internal/domain"
)

type cacheKey struct {
	symbol  string
	reserve solana.PublicKey
}

type cacheEntry struct {
	data     domain.TokenOracleData
	storedAt time.Time
}

// Cache holds resolved prices keyed by (symbol, reserve). Entries are evicted
// once older than ttl; reads may additionally demand a tighter max age.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
}

// NewCache creates a cache. A nil now uses time.Now.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now, entries: make(map[cacheKey]cacheEntry)}
}

// Get returns the entry if it is younger than both the TTL and maxAge.
// An entry past its TTL is evicted; one that is merely older than maxAge is
// kept but not served.
func (c *Cache) Get(symbol string, reserve solana.PublicKey, maxAge time.Duration) (domain.TokenOracleData, bool) {
	key := cacheKey{symbol: symbol, reserve: reserve}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return domain.TokenOracleData{}, false
	}

	age := c.now().Sub(e.storedAt)
	if age >= c.ttl {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.storedAt.Equal(e.storedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return domain.TokenOracleData{}, false
	}
	if age >= maxAge {
		return domain.TokenOracleData{}, false
	}
	return e.data, true
}

// Put stores data stamped with the current time.
func (c *Cache) Put(data domain.TokenOracleData) {
	c.mu.Lock()
	c.entries[cacheKey{symbol: data.Symbol, reserve: data.Reserve}] = cacheEntry{data: data, storedAt: c.now()}
	c.mu.Unlock()
}

// Len returns the number of entries, including stale ones not yet evicted.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
