package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	t   time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestSetGet(t *testing.T) {
	c := New()
	c.Set("k", "v", time.Minute)

	got, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit immediately after Set")
	}
	if got != "v" {
		t.Errorf("expected %q, got %v", "v", got)
	}
}

func TestGetMissing(t *testing.T) {
	c := New()
	if _, ok := c.Get("absent"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestExpiryOnRead(t *testing.T) {
	clock := newFakeClock()
	c := NewWithClock(clock.Now)

	c.Set("k", "v", time.Second)
	clock.Advance(1500 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss after TTL elapsed")
	}
	// Expiry is idempotent: a second read also misses.
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected repeated miss after expiry removal")
	}
	if c.Len() != 0 {
		t.Errorf("expected 0 live entries, got %d", c.Len())
	}
}

func TestExpiryBoundary(t *testing.T) {
	clock := newFakeClock()
	c := NewWithClock(clock.Now)

	c.Set("k", "v", time.Second)
	clock.Advance(time.Second)

	// An entry is visible only while now < expiresAt.
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss exactly at expiry instant")
	}
}

func TestSetReplaces(t *testing.T) {
	clock := newFakeClock()
	c := NewWithClock(clock.Now)

	c.Set("k", "old", time.Second)
	c.Set("k", "new", time.Hour)
	clock.Advance(2 * time.Second)

	got, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit: second Set extended the TTL")
	}
	if got != "new" {
		t.Errorf("expected replacement payload, got %v", got)
	}
}

func TestDelete(t *testing.T) {
	c := New()
	c.Set("k", "v", time.Minute)
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after Delete")
	}
	// Deleting an absent key is a no-op.
	c.Delete("k")
}

func TestClear(t *testing.T) {
	c := New()
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected empty cache after Clear, got %d entries", c.Len())
	}
}

func TestExpiresAt(t *testing.T) {
	clock := newFakeClock()
	c := NewWithClock(clock.Now)

	c.Set("k", "v", time.Hour)
	exp, ok := c.ExpiresAt("k")
	if !ok {
		t.Fatal("expected expiry for live entry")
	}
	if want := clock.Now().Add(time.Hour); !exp.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, exp)
	}

	clock.Advance(2 * time.Hour)
	if _, ok := c.ExpiresAt("k"); ok {
		t.Error("expected no expiry for lapsed entry")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", n%4)
			for j := 0; j < 200; j++ {
				c.Set(key, n, time.Minute)
				c.Get(key)
				if j%50 == 0 {
					c.Delete(key)
				}
			}
		}(i)
	}
	wg.Wait()
}
