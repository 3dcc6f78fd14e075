package creds

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agencybridge/sidecar/internal/cache"
	"github.com/agencybridge/sidecar/internal/extractor"
	"github.com/agencybridge/sidecar/internal/logging"
)

func init() {
	logging.Disable()
}

// fakeExtractor counts extractions and optionally delays them so
// concurrent callers overlap.
type fakeExtractor struct {
	calls   atomic.Int64
	forgets atomic.Int64
	delay   time.Duration
	err     error
	session func() *extractor.Session
}

func (f *fakeExtractor) Extract(ctx context.Context) (*extractor.Session, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.session != nil {
		return f.session(), nil
	}
	return &extractor.Session{Provider: "p", CreatedAt: time.Now()}, nil
}

func (f *fakeExtractor) ForgetLastSession() {
	f.forgets.Add(1)
}

func TestSessionCachesResult(t *testing.T) {
	fake := &fakeExtractor{}
	svc := NewService(cache.New())
	svc.Register("p", fake, time.Hour)

	first, err := svc.Session(context.Background(), "p", false)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if first.FromCache {
		t.Error("first resolution should not come from cache")
	}
	if first.ExpiresAt.IsZero() {
		t.Error("expected an expiry on a fresh resolution")
	}

	second, err := svc.Session(context.Background(), "p", false)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if !second.FromCache {
		t.Error("second resolution should come from cache")
	}
	if second.Session != first.Session {
		t.Error("cached resolution should return the same session snapshot")
	}
	if got := fake.calls.Load(); got != 1 {
		t.Errorf("expected 1 extraction, got %d", got)
	}
}

func TestSingleFlight(t *testing.T) {
	fake := &fakeExtractor{delay: 50 * time.Millisecond}
	svc := NewService(cache.New())
	svc.Register("p", fake, time.Hour)

	const n = 8
	var wg sync.WaitGroup
	sessions := make([]*extractor.Session, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Session(context.Background(), "p", false)
			errs[i] = err
			if res != nil {
				sessions[i] = res.Session
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if sessions[i] != sessions[0] {
			t.Error("all concurrent callers must share the in-flight result")
		}
	}
	if got := fake.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 underlying extraction for %d concurrent callers, got %d", n, got)
	}
}

func TestForceRefreshBypassesCache(t *testing.T) {
	fake := &fakeExtractor{}
	svc := NewService(cache.New())
	svc.Register("p", fake, time.Hour)

	if _, err := svc.Session(context.Background(), "p", false); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Session(context.Background(), "p", true); err != nil {
		t.Fatal(err)
	}
	if got := fake.calls.Load(); got != 2 {
		t.Errorf("expected force refresh to re-extract, got %d calls", got)
	}
}

func TestExpiryTriggersReExtraction(t *testing.T) {
	clock := struct {
		mu sync.Mutex
		t  time.Time
	}{t: time.Now()}
	now := func() time.Time {
		clock.mu.Lock()
		defer clock.mu.Unlock()
		return clock.t
	}
	advance := func(d time.Duration) {
		clock.mu.Lock()
		defer clock.mu.Unlock()
		clock.t = clock.t.Add(d)
	}

	fake := &fakeExtractor{}
	svc := NewService(cache.NewWithClock(now))
	svc.Register("p", fake, time.Second)

	if _, err := svc.Session(context.Background(), "p", false); err != nil {
		t.Fatal(err)
	}
	advance(1500 * time.Millisecond)

	res, err := svc.Session(context.Background(), "p", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.FromCache {
		t.Error("lapsed entry must not be served from cache")
	}
	if got := fake.calls.Load(); got != 2 {
		t.Errorf("expected re-extraction after expiry, got %d calls", got)
	}
}

func TestExtractionErrorPropagates(t *testing.T) {
	wantErr := errors.New("login rejected")
	fake := &fakeExtractor{err: wantErr}
	svc := NewService(cache.New())
	svc.Register("p", fake, time.Hour)

	_, err := svc.Session(context.Background(), "p", false)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected extraction error, got %v", err)
	}
	// Failures are not cached.
	fake.err = nil
	if _, err := svc.Session(context.Background(), "p", false); err != nil {
		t.Fatalf("expected recovery on next call, got %v", err)
	}
}

func TestUnknownProvider(t *testing.T) {
	svc := NewService(cache.New())
	if _, err := svc.Session(context.Background(), "nope", false); err == nil {
		t.Fatal("expected error for unregistered provider")
	}
}

func TestInvalidate(t *testing.T) {
	fake := &fakeExtractor{}
	svc := NewService(cache.New())
	svc.Register("p", fake, time.Hour)

	if _, err := svc.Session(context.Background(), "p", false); err != nil {
		t.Fatal(err)
	}
	svc.Invalidate("p")

	res, err := svc.Session(context.Background(), "p", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.FromCache {
		t.Error("invalidated session must not be served")
	}
	if fake.forgets.Load() == 0 {
		t.Error("expected the extractor memo to be dropped on invalidation")
	}
}

func TestEffectiveTTLBoundedByTokenExpiry(t *testing.T) {
	session := &extractor.Session{TokenExpiry: time.Now().Add(10 * time.Minute)}
	ttl := effectiveTTL(time.Hour, session)
	if ttl >= 10*time.Minute {
		t.Errorf("expected TTL to be bounded below the token expiry, got %v", ttl)
	}
	if ttl <= 0 {
		t.Errorf("expected a positive TTL, got %v", ttl)
	}

	// A token without an expiry claim keeps the configured TTL.
	if got := effectiveTTL(time.Hour, &extractor.Session{}); got != time.Hour {
		t.Errorf("expected configured TTL, got %v", got)
	}
}
