// Package svc wires the sidecar's long-lived components together and
// hands them to the HTTP handlers as one context.
package svc

import (
	"context"
	"fmt"
	"time"

	"github.com/agencybridge/sidecar/internal/browser"
	"github.com/agencybridge/sidecar/internal/cache"
	"github.com/agencybridge/sidecar/internal/chat"
	"github.com/agencybridge/sidecar/internal/config"
	"github.com/agencybridge/sidecar/internal/creds"
	"github.com/agencybridge/sidecar/internal/delivery"
	"github.com/agencybridge/sidecar/internal/extractor"
	"github.com/agencybridge/sidecar/internal/logging"
)

// ServiceContext holds the shared state of a running sidecar.
type ServiceContext struct {
	Config    config.Config
	Cache     *cache.Cache
	Creds     *creds.Service
	Refresher *creds.Refresher
	Verifier  *delivery.Verifier

	// Chat is nil when the chat proxy is disabled in config.
	Chat *chat.Proxy
}

// NewServiceContext builds the full component graph from config:
// every known provider gets an extractor registered with its TTL, the
// delivery verifier is wired to the AgencyZoom session, and the chat
// proxy gets its own browser launcher.
func NewServiceContext(c config.Config) (*ServiceContext, error) {
	store := cache.New()
	service := creds.NewService(store)

	launcher := pageLauncher(c.Browser.Headless)

	extractors := make(map[string]*extractor.Extractor)
	register := func(name string, provider extractor.Provider, ttl time.Duration) {
		if _, ok := c.Providers[name]; !ok {
			return
		}
		ex := extractor.New(provider, func() extractor.Credentials {
			return c.Credentials(name)
		}, extractor.WithLauncher(launcher))
		extractors[name] = ex
		service.Register(name, ex, ttl)
	}

	// Cookie-based sessions last roughly a day; harvested tokens expire
	// within the hour.
	register("agencyzoom", extractor.AgencyZoom(), c.Cache.SessionTTL.Std())
	register("rpr", extractor.RPR(), c.Cache.TokenTTL.Std())
	register("mmi", extractor.MMI(), c.Cache.SessionTTL.Std())

	refresher := creds.NewRefresher(service)
	for provider, spec := range c.Refresh {
		if !service.Has(provider) {
			logging.Warnf("refresh schedule for unknown provider %q ignored", provider)
			continue
		}
		if err := refresher.Schedule(provider, spec); err != nil {
			return nil, fmt.Errorf("schedule refresh for %s: %w", provider, err)
		}
	}

	svcCtx := &ServiceContext{
		Config:    c,
		Cache:     store,
		Creds:     service,
		Refresher: refresher,
	}

	// The workflow drives the same extractor instance the credential
	// service uses, so logins and UI deliveries serialize per provider.
	if ex, ok := extractors["agencyzoom"]; ok {
		workflow := delivery.NewSMSWorkflow(ex, delivery.AgencyZoomSteps())
		svcCtx.Verifier = delivery.New(service, delivery.AgencyZoomSMS(), workflow)
	}

	if c.Chat.Enabled {
		svcCtx.Chat = chat.New(func() extractor.Credentials {
			return c.Credentials("delphi")
		}, chatLauncher(c.Browser.Headless), chat.Delphi())
	}

	return svcCtx, nil
}

// Close tears down background schedules and the chat browser.
func (s *ServiceContext) Close() {
	if s.Refresher != nil {
		s.Refresher.Stop()
	}
	if s.Chat != nil {
		if err := s.Chat.Close(); err != nil {
			logging.Warnf("chat close: %v", err)
		}
	}
}

func pageLauncher(headless bool) extractor.Launcher {
	return func(ctx context.Context) (extractor.Page, func() error, error) {
		session, err := browser.Launch(ctx, browser.LaunchOptions{Headless: headless})
		if err != nil {
			return nil, nil, err
		}
		return session.Page(), session.Close, nil
	}
}

func chatLauncher(headless bool) chat.Launcher {
	return func(ctx context.Context) (chat.Page, func() error, error) {
		session, err := browser.Launch(ctx, browser.LaunchOptions{Headless: headless})
		if err != nil {
			return nil, nil, err
		}
		return session.Page(), session.Close, nil
	}
}
