// Package cache holds the per-session query cache: raw store entries
// accumulated for one query shape across consecutive list requests.
package cache

import (
	"slices"
	"sync"
	"time"

	"github.com/jacentio/kvlens/store"
)

// DefaultTTL is how long an entry stays usable after its last refresh.
const DefaultTTL = 24 * time.Hour

// Shape identifies a logical scan. Requests with equal shapes continue the
// same scan.
type Shape struct {
	ConnectionID string
	Prefix       string
	Start        string
	End          string
	Reverse      bool
}

// Entry is the accumulated state of one scan.
type Entry struct {
	// Entries holds every raw entry fetched so far, in scan order.
	Entries []store.Entry

	// Cursor resumes the scan after the last fetched entry.
	Cursor string

	// Done is true once the store reported the scan exhausted.
	Done bool

	// RefreshedAt is the time of the last Add or Replace.
	RefreshedAt time.Time
}

// Config configures a Cache.
type Config struct {
	// TTL is the lifetime of an entry after its last refresh.
	// Default: 24h
	TTL time.Duration

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{TTL: DefaultTTL, Now: time.Now}
}

func (c *Config) validate() {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[Shape]*Entry
}

// New creates an empty Cache.
func New(cfg Config) *Cache {
	cfg.validate()
	return &Cache{cfg: cfg, entries: make(map[Shape]*Entry)}
}

// Get returns the entry for shape. Entries older than the TTL are evicted
// and reported absent. The returned slice is clipped so appending to it
// never writes into the cache.
func (c *Cache) Get(shape Shape) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[shape]
	if !ok {
		return Entry{}, false
	}
	if c.cfg.Now().Sub(e.RefreshedAt) >= c.cfg.TTL {
		delete(c.entries, shape)
		return Entry{}, false
	}
	out := *e
	out.Entries = slices.Clip(e.Entries)
	return out, true
}

// Add appends entries to the shape's scan and replaces its cursor, creating
// the entry on first use.
func (c *Cache) Add(shape Shape, entries []store.Entry, cursor string, done bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[shape]
	if !ok || c.cfg.Now().Sub(e.RefreshedAt) >= c.cfg.TTL {
		e = &Entry{}
		c.entries[shape] = e
	}
	// Copy on append: readers may hold a clipped view of the old slice.
	e.Entries = append(slices.Clip(e.Entries), entries...)
	e.Cursor = cursor
	e.Done = done
	e.RefreshedAt = c.cfg.Now()
}

// AddFrom appends like Add, but only when the shape's cursor still equals
// from, the cursor the caller resumed its fetch at. An absent or expired
// entry has the empty cursor and a finished scan accepts nothing. It reports whether the entries were appended;
// false means a concurrent fetch advanced the scan first.
func (c *Cache) AddFrom(shape Shape, from string, entries []store.Entry, cursor string, done bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[shape]
	if !ok || c.cfg.Now().Sub(e.RefreshedAt) >= c.cfg.TTL {
		if from != "" {
			return false
		}
		e = &Entry{}
		c.entries[shape] = e
	} else if e.Done || e.Cursor != from {
		return false
	}
	e.Entries = append(slices.Clip(e.Entries), entries...)
	e.Cursor = cursor
	e.Done = done
	e.RefreshedAt = c.cfg.Now()
	return true
}

// Replace overwrites the shape's scan state.
func (c *Cache) Replace(shape Shape, entries []store.Entry, cursor string, done bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[shape] = &Entry{
		Entries:     slices.Clone(entries),
		Cursor:      cursor,
		Done:        done,
		RefreshedAt: c.cfg.Now(),
	}
}

// Forget drops the shape's scan so the next list starts over.
func (c *Cache) Forget(shape Shape) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, shape)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of cached shapes, including expired ones not yet evicted.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
