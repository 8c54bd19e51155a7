package chain

import (
	"context"
	"encoding/hex"
	"strconv"
	"sync"
	"time"
)

// Querier is the ERC-1271 call CachedOracle wraps.
type Querier interface {
	IsValidSignature(ctx context.Context, chainID, account string, digest [32]byte, signature []byte, block *uint64) (bool, error)
}

// CachedOracle remembers answers to queries pinned at a block number. State
// at a fixed block never changes, so those answers are safe to reuse;
// queries against the latest block always go through.
type CachedOracle struct {
	inner      Querier
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	valid     bool
	expiresAt time.Time
	hasExpiry bool
}

func NewCachedOracle(inner Querier, ttl time.Duration, maxEntries int) *CachedOracle {
	return &CachedOracle{
		inner:      inner,
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]cacheEntry),
	}
}

func (c *CachedOracle) IsValidSignature(ctx context.Context, chainID, account string, digest [32]byte, signature []byte, block *uint64) (bool, error) {
	if block == nil {
		return c.inner.IsValidSignature(ctx, chainID, account, digest, signature, block)
	}
	key := cacheKey(chainID, account, digest, signature, *block)
	if valid, ok := c.get(key); ok {
		return valid, nil
	}
	valid, err := c.inner.IsValidSignature(ctx, chainID, account, digest, signature, block)
	if err != nil {
		return false, err
	}
	c.put(key, valid)
	return valid, nil
}

func (c *CachedOracle) get(key string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return false, false
	}
	if entry.hasExpiry && c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return false, false
	}
	return entry.valid, true
}

func (c *CachedOracle) put(key string, valid bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	entry := cacheEntry{valid: valid}
	if c.ttl > 0 {
		entry.hasExpiry = true
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.entries[key] = entry
}

// evictLocked drops expired entries, or everything if none had expired.
func (c *CachedOracle) evictLocked() {
	now := c.now()
	for k, e := range c.entries {
		if e.hasExpiry && now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) >= c.maxEntries {
		c.entries = make(map[string]cacheEntry)
	}
}

func (c *CachedOracle) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func cacheKey(chainID, account string, digest [32]byte, signature []byte, block uint64) string {
	return chainID + "|" + account + "|" + strconv.FormatUint(block, 10) + "|" + hex.EncodeToString(digest[:]) + "|" + hex.EncodeToString(signature)
}
