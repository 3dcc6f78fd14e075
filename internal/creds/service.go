// Package creds owns the credential lifecycle: cached sessions keyed
// by provider, a single-flight guard so concurrent misses share one
// login, and invalidation ordered so nobody observes a session that a
// provider has already rejected.
package creds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agencybridge/sidecar/internal/cache"
	"github.com/agencybridge/sidecar/internal/extractor"
	"github.com/agencybridge/sidecar/internal/logging"
)

// Default lifetimes per credential class. Long-lived session cookies
// last about a day on the providers we drive; bearer tokens rotate
// within the hour. Both are defaults, not cache behavior: the TTL is
// always passed to Set explicitly.
const (
	DefaultSessionTTL = 23 * time.Hour
	DefaultTokenTTL   = time.Hour

	// expirySkew is shaved off a token's own expiry when it would bound
	// the cache lifetime, so we refresh before the provider cuts us off.
	expirySkew = time.Minute
)

// Extractor is what the service needs from a provider extractor.
type Extractor interface {
	Extract(ctx context.Context) (*extractor.Session, error)
	ForgetLastSession()
}

type registration struct {
	extractor Extractor
	ttl       time.Duration
}

// Resolved is a session lookup result.
type Resolved struct {
	Session   *extractor.Session
	FromCache bool
	ExpiresAt time.Time
}

// Service resolves provider sessions through the cache, running the
// extractor on miss. Concurrent misses for the same provider share a
// single extraction.
type Service struct {
	cache *cache.Cache
	group singleflight.Group

	mu        sync.RWMutex
	providers map[string]registration
}

// NewService creates a service over the given cache.
func NewService(c *cache.Cache) *Service {
	return &Service{
		cache:     c,
		providers: make(map[string]registration),
	}
}

// Register adds a provider extractor with its cache TTL.
func (s *Service) Register(name string, ex Extractor, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[name] = registration{extractor: ex, ttl: ttl}
}

// Has reports whether a provider is registered.
func (s *Service) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.providers[name]
	return ok
}

// Providers returns the registered provider names.
func (s *Service) Providers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	return names
}

// Session returns the provider's session, from cache when live,
// otherwise by running one extraction no matter how many callers are
// waiting. forceRefresh bypasses the cache but still coalesces with
// any in-flight extraction.
func (s *Service) Session(ctx context.Context, provider string, forceRefresh bool) (*Resolved, error) {
	s.mu.RLock()
	reg, ok := s.providers[provider]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	if !forceRefresh {
		if payload, ok := s.cache.Get(provider); ok {
			session := payload.(*extractor.Session)
			exp, _ := s.cache.ExpiresAt(provider)
			return &Resolved{Session: session, FromCache: true, ExpiresAt: exp}, nil
		}
	}

	v, err, _ := s.group.Do(provider, func() (any, error) {
		session, err := reg.extractor.Extract(ctx)
		if err != nil {
			return nil, err
		}
		ttl := effectiveTTL(reg.ttl, session)
		s.cache.Set(provider, session, ttl)
		return session, nil
	})
	if err != nil {
		return nil, err
	}

	session := v.(*extractor.Session)
	exp, _ := s.cache.ExpiresAt(provider)
	return &Resolved{Session: session, FromCache: false, ExpiresAt: exp}, nil
}

// Invalidate drops the provider's cached session and the extractor's
// in-process memo. Called before any refresh when a provider rejects
// a session, so no concurrent reader is handed the known-bad one.
func (s *Service) Invalidate(provider string) {
	s.cache.Delete(provider)

	s.mu.RLock()
	reg, ok := s.providers[provider]
	s.mu.RUnlock()
	if ok {
		reg.extractor.ForgetLastSession()
	}
	logging.Infof("[creds] invalidated session for %s", provider)
}

// ClearAll empties the session cache and every extractor memo.
func (s *Service) ClearAll() {
	s.cache.Clear()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, reg := range s.providers {
		reg.extractor.ForgetLastSession()
	}
}

// effectiveTTL bounds the configured TTL by the token's own expiry
// when the harvested token declares one.
func effectiveTTL(configured time.Duration, session *extractor.Session) time.Duration {
	if session.TokenExpiry.IsZero() {
		return configured
	}
	until := time.Until(session.TokenExpiry) - expirySkew
	if until <= 0 {
		// Token already on the edge; keep it just long enough for the
		// caller that requested it.
		return 10 * time.Second
	}
	if until < configured {
		return until
	}
	return configured
}
