// Package doccache implements the bounded document cache (C6): an
// LRU-evicted, byte- and entry-capped cache for fetched URLs/files, with
// optional gzip compression of large entries.
package doccache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/solstice-labs/agentmem/internal/sizeutil"
	"github.com/solstice-labs/agentmem/metrics"
)

// Entry is one cached document.
type Entry struct {
	Key         string
	Content     []byte // decompressed content, only populated by Snapshot/Get
	Compressed  bool
	Size        int64 // accounted size: compressed size when Compressed, else raw size
	LastAccess  time.Time
	AccessCount int64
}

// Config bounds the cache.
type Config struct {
	MaxCacheBytes     int64
	MaxEntries        int
	CompressThreshold int64
}

// DefaultConfig returns the spec §4.5 defaults.
func DefaultConfig() Config {
	return Config{
		MaxCacheBytes:     500 * 1024 * 1024,
		MaxEntries:        1000,
		CompressThreshold: 1024 * 1024,
	}
}

type stored struct {
	compressed  []byte
	raw         []byte
	isCompressed bool
	size        int64
	lastAccess  time.Time
	accessCount int64
}

// Cache is a thread-safe bounded LRU document cache.
type Cache struct {
	mu         sync.Mutex
	cfg        Config
	entries    map[string]*stored
	totalBytes int64
}

// New creates a Cache bounded by cfg.
func New(cfg Config) *Cache {
	return &Cache{cfg: cfg, entries: make(map[string]*stored)}
}

// NormalizeKey trims whitespace and a trailing slash so that equivalent
// URLs/paths collide in the cache.
func NormalizeKey(key string) string {
	k := strings.TrimSpace(key)
	k = strings.TrimSuffix(k, "/")
	return k
}

// Put inserts or overwrites content at key. Entries whose raw size exceeds
// 80% of MaxCacheBytes are rejected outright. Returns false when rejected.
func (c *Cache) Put(key string, content []byte) (bool, error) {
	key = NormalizeKey(key)
	rawSize := int64(len(content))

	c.mu.Lock()
	defer c.mu.Unlock()

	if rawSize > int64(float64(c.cfg.MaxCacheBytes)*0.80) {
		return false, nil
	}

	// Subtract any existing entry's accounted size before re-inserting.
	if old, ok := c.entries[key]; ok {
		c.totalBytes -= old.size
		delete(c.entries, key)
	}

	s := &stored{raw: content, size: rawSize, lastAccess: time.Now(), accessCount: 0}
	if rawSize > c.cfg.CompressThreshold {
		if cb, err := sizeutil.Gzip(content); err == nil {
			s.compressed = cb
			s.isCompressed = true
			s.size = int64(len(cb))
			s.raw = nil
		}
	}

	c.evictUntilFits(s.size)

	c.entries[key] = s
	c.totalBytes += s.size
	return true, nil
}

// Get returns the decompressed content for key, bumping its LRU position.
func (c *Cache) Get(key string) ([]byte, bool) {
	key = NormalizeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	s.lastAccess = time.Now()
	s.accessCount++

	if s.isCompressed {
		raw, err := sizeutil.Gunzip(s.compressed)
		if err != nil {
			return nil, false
		}
		return raw, true
	}
	return s.raw, true
}

// Delete removes key from the cache, if present.
func (c *Cache) Delete(key string) {
	key = NormalizeKey(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.entries[key]; ok {
		c.totalBytes -= s.size
		delete(c.entries, key)
	}
}

// evictUntilFits evicts LRU entries (caller holds c.mu) until adding
// newSize would not exceed MaxCacheBytes or MaxEntries.
func (c *Cache) evictUntilFits(newSize int64) {
	for (c.totalBytes+newSize > c.cfg.MaxCacheBytes || len(c.entries)+1 > c.cfg.MaxEntries) && len(c.entries) > 0 {
		victim := c.lruKey()
		if victim == "" {
			return
		}
		c.totalBytes -= c.entries[victim].size
		delete(c.entries, victim)
	}
}

// lruKey returns the least-recently-used key, breaking ties by the lower
// access count (spec §4.5 tiebreak rule).
func (c *Cache) lruKey() string {
	var bestKey string
	var bestAccess time.Time
	var bestCount int64
	first := true
	for k, s := range c.entries {
		if first || s.lastAccess.Before(bestAccess) ||
			(s.lastAccess.Equal(bestAccess) && s.accessCount < bestCount) {
			bestKey = k
			bestAccess = s.lastAccess
			bestCount = s.accessCount
			first = false
		}
	}
	return bestKey
}

// Stats summarizes cache occupancy.
type Stats struct {
	Count         int
	Bytes         int64
	Utilization   float64
	AvgEntrySize  float64
}

// Stats returns a point-in-time snapshot of cache occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := len(c.entries)
	avg := 0.0
	if count > 0 {
		avg = float64(c.totalBytes) / float64(count)
	}
	util := 0.0
	if c.cfg.MaxCacheBytes > 0 {
		util = float64(c.totalBytes) / float64(c.cfg.MaxCacheBytes)
	}
	metrics.ObserveCacheStats(util, count)
	return Stats{Count: count, Bytes: c.totalBytes, Utilization: util, AvgEntrySize: avg}
}

// Snapshot returns all entries ordered by key, decompressing content, for
// deterministic state serialization.
func (c *Cache) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		s := c.entries[k]
		content := s.raw
		if s.isCompressed {
			if raw, err := sizeutil.Gunzip(s.compressed); err == nil {
				content = raw
			}
		}
		out = append(out, Entry{
			Key: k, Content: content, Compressed: s.isCompressed, Size: s.size,
			LastAccess: s.lastAccess, AccessCount: s.accessCount,
		})
	}
	return out
}

// Apply is the reducer variant: it applies a mapping of key→content to an
// existing cache instance, returning the same instance with bounds
// maintained.
func Apply(c *Cache, updates map[string]string) (*Cache, error) {
	for k, v := range updates {
		if _, err := c.Put(k, []byte(v)); err != nil {
			return c, err
		}
	}
	return c, nil
}
