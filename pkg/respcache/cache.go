// Package respcache is a TTL response cache placed between the catalog
// clients and the network. Keys are derived from the request path plus a
// canonical encoding of the query parameters, so logically identical requests
// hit the same entry regardless of parameter order.
package respcache

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultTTL matches the catalog clients' 24 hour response freshness window.
const DefaultTTL = 24 * time.Hour

type entry struct {
	payload   []byte
	expiresAt time.Time
}

// Cache is an in-memory TTL cache. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry

	// now is swappable for tests.
	now func() time.Time
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Key builds the canonical cache key for a request: the path joined with the
// query parameters sorted by name (and by value within a name). Two requests
// that differ only in parameter order produce the same key.
func Key(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(path)
	b.WriteByte('?')
	for i, name := range names {
		values := append([]string(nil), params[name]...)
		sort.Strings(values)
		for j, value := range values {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(name))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(value))
		}
	}
	return b.String()
}

// Get returns the cached payload for key, or nil when absent or expired.
// Expired entries are evicted on access.
func (c *Cache) Get(key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return e.payload
}

// Set stores payload under key for the cache's TTL. The payload is stored
// as-is; callers must not mutate it afterwards.
func (c *Cache) Set(key string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{payload: payload, expiresAt: c.now().Add(c.ttl)}
}

// Len reports the number of live entries, counting expired ones that have not
// been evicted yet.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
