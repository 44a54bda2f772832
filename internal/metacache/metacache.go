// Package metacache is a small in-memory TTL cache for per-URL media
// metadata, saving repeat probe subprocess runs. Instances are injected
// rather than shared as package state so tests get isolated caches.
package metacache

import (
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long a cached entry stays valid.
const DefaultTTL = 30 * time.Minute

type entry struct {
	title   string
	artist  string
	expires time.Time
}

type Cache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]entry
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{ttl: ttl, m: make(map[string]entry)}
}

// Get returns the cached title/artist for a URL. Placeholder entries
// ("Unknown Track", empty or "NA" artist) are treated as misses so a fresh
// probe can replace them.
func (c *Cache) Get(url string) (title, artist string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.m[url]
	if !found {
		return "", "", false
	}
	if time.Now().After(e.expires) {
		delete(c.m, url)
		return "", "", false
	}
	if strings.TrimSpace(e.title) == "" || e.title == "Unknown Track" {
		return "", "", false
	}
	if a := strings.TrimSpace(e.artist); a == "" || a == "NA" {
		return "", "", false
	}
	return e.title, e.artist, true
}

// Put stores title/artist for a URL.
func (c *Cache) Put(url, title, artist string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[url] = entry{title: title, artist: artist, expires: time.Now().Add(c.ttl)}
}

// Len reports the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
