package crypto

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheKey struct {
	remote string
	usage  string
}

type cachedKey struct {
	key     []byte
	touched time.Time
}

// keyCache is a bounded LRU of derived symmetric keys. A nil *keyCache is a
// disabled cache: lookups miss and inserts are dropped.
type keyCache struct {
	mu    sync.Mutex
	lru   *lru.Cache[cacheKey, *cachedKey]
	clock TimeProvider
}

func newKeyCache(capacity int, clock TimeProvider) (*keyCache, error) {
	if capacity <= 0 {
		return nil, nil
	}
	l, err := lru.New[cacheKey, *cachedKey](capacity)
	if err != nil {
		return nil, err
	}
	return &keyCache{lru: l, clock: clock}, nil
}

// get returns the cached key and refreshes both its recency and touch time.
func (c *keyCache) get(remote, usage string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(cacheKey{remote: remote, usage: usage})
	if !ok {
		return nil, false
	}
	entry.touched = c.clock.Now()
	return entry.key, true
}

// put inserts key, evicting the least recently touched entry when full.
func (c *keyCache) put(remote, usage string, key []byte) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(cacheKey{remote: remote, usage: usage}, &cachedKey{key: key, touched: c.clock.Now()})
}

func (c *keyCache) touchedAt(remote, usage string) (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Peek(cacheKey{remote: remote, usage: usage})
	if !ok {
		return time.Time{}, false
	}
	return entry.touched, true
}

func (c *keyCache) contains(remote, usage string) bool {
	if c == nil {
		return false
	}
	return c.lru.Contains(cacheKey{remote: remote, usage: usage})
}

func (c *keyCache) purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

func (c *keyCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
