package calculations

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// TTLCovariance is how long cached covariance results stay valid.
const TTLCovariance = 24 * time.Hour

// Cache is an in-memory TTL cache for expensive calculation results.
// Entries are stored msgpack-encoded so cached values are decoupled from the
// caller's live objects. Results are never persisted across process
// restarts.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	data    []byte
	expires time.Time
}

// NewCache creates an empty calculation cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Get looks up namespace/key and decodes the entry into dst. Returns false
// on miss, expiry or decode failure.
func (c *Cache) Get(namespace, key string, dst interface{}) bool {
	c.mu.RLock()
	entry, ok := c.entries[namespace+":"+key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expires) {
		return false
	}
	return msgpack.Unmarshal(entry.data, dst) == nil
}

// Set encodes v and stores it under namespace/key with the given TTL.
func (c *Cache) Set(namespace, key string, v interface{}, ttl time.Duration) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	c.mu.Lock()
	c.entries[namespace+":"+key] = cacheEntry{
		data:    data,
		expires: time.Now().Add(ttl),
	}
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// HashAssets creates a deterministic hash from a list of asset identifiers
// for cache keys. Assets are sorted so the hash is order-independent.
func HashAssets(assets []string) string {
	sorted := make([]string, len(assets))
	copy(sorted, assets)
	sort.Strings(sorted)
	h := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(h[:16])
}
