// Package cache provides a concurrency-safe in-memory store with
// per-entry time-to-live. It holds no domain logic: values are opaque,
// TTLs are supplied by the caller, and an entry whose expiry has passed
// is indistinguishable from an absent one.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	payload   any
	expiresAt time.Time
}

// Cache maps string keys to payloads with absolute expiry times.
// A read of an expired entry removes it, so no query ever returns
// stale data.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry

	// now is swappable so tests can advance time without sleeping.
	now func() time.Time
}

// New creates an empty cache using the wall clock.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// NewWithClock creates a cache with a custom time source.
func NewWithClock(now func() time.Time) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     now,
	}
}

// Get returns the payload for key if present and unexpired.
// Reading an expired entry deletes it as a side effect; subsequent
// reads simply miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.payload, true
}

// ExpiresAt returns the expiry timestamp for key, if present and unexpired.
func (c *Cache) ExpiresAt(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return time.Time{}, false
	}
	return e.expiresAt, true
}

// Set stores payload under key for ttl. Any existing entry for the key
// is replaced unconditionally; there are no merge semantics.
func (c *Cache) Set(key string, payload any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{
		payload:   payload,
		expiresAt: c.now().Add(ttl),
	}
}

// Delete removes the entry for key, if any.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len returns the number of live (unexpired) entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries {
		if c.now().Before(e.expiresAt) {
			n++
		}
	}
	return n
}
