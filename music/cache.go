package music

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

type cacheEntry struct {
	track  Track
	stored time.Time
}

// Cache is the process-wide resolution cache, keyed by locator or by
// normalized search string. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	entries map[string]cacheEntry

	path string
	ttl  time.Duration
	log  *slog.Logger
	now  func() time.Time
}

// OpenCache loads the cache file at path. An empty path keeps the cache in
// memory only. A missing or corrupt file yields an empty cache.
func OpenCache(path string, ttl time.Duration, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	c := &Cache{
		entries: make(map[string]cacheEntry),
		path:    path,
		ttl:     ttl,
		log:     log,
		now:     time.Now,
	}
	if path == "" {
		return c
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("Failed to read track cache, starting empty", "path", path, "err", err)
		}
		return c
	}
	var records map[string]trackRecord
	if err := json.Unmarshal(data, &records); err != nil {
		log.Warn("Track cache is corrupt, starting empty", "path", path, "err", err)
		return c
	}
	for key, r := range records {
		stored := c.now()
		if r.CachedAt > 0 {
			stored = time.Unix(r.CachedAt, 0)
		}
		c.entries[key] = cacheEntry{track: r.track(), stored: stored}
	}
	return c
}

// Get returns the cached track for key. Entries older than the TTL are misses.
func (c *Cache) Get(key string) (Track, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Track{}, false
	}
	if c.ttl > 0 && c.now().Sub(e.stored) > c.ttl {
		return Track{}, false
	}
	return e.track, true
}

// Put stores track under key and persists the whole map before returning.
// Last write wins.
func (c *Cache) Put(key string, t Track) {
	if key == "" {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{track: t, stored: c.now()}
	c.mu.Unlock()
	c.persist()
}

// Invalidate drops one key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()
	if ok {
		c.persist()
	}
}

// InvalidateLocator drops every key whose track points at locator and
// reports how many were removed.
func (c *Cache) InvalidateLocator(locator string) int {
	c.mu.Lock()
	n := 0
	for key, e := range c.entries {
		if e.track.Locator == locator {
			delete(c.entries, key)
			n++
		}
	}
	c.mu.Unlock()
	if n > 0 {
		c.persist()
	}
	return n
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// persist serializes the latest snapshot. writeMu orders the writes so the
// file always ends with the newest map.
func (c *Cache) persist() {
	if c.path == "" {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	records := make(map[string]trackRecord, len(c.entries))
	for key, e := range c.entries {
		r := recordOf(e.track)
		r.CachedAt = e.stored.Unix()
		records[key] = r
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		c.log.Error("Failed to encode track cache", "err", err)
		return
	}
	if err := writeFileAtomic(c.path, data); err != nil {
		c.log.Error("Failed to save track cache", "path", c.path, "err", err)
	}
}
