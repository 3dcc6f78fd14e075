// Package browser wraps playwright-go behind the small set of page
// primitives the rest of the service needs: navigate, locate, fill,
// click, evaluate, and read cookies/web storage. Policy (login flows,
// harvesting rules, delivery workflows) lives in the packages that use
// it, not here.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Headless Chromium flags carried over from the deployment this service
// runs in (container without a privileged sandbox).
var launchArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-gpu",
	"--disable-blink-features=AutomationControlled",
}

var (
	pwOnce     sync.Once
	pwInstance *playwright.Playwright
	pwErr      error
)

// getPlaywright returns the singleton Playwright driver, installing
// browsers on first use.
func getPlaywright() (*playwright.Playwright, error) {
	pwOnce.Do(func() {
		if err := playwright.Install(); err != nil {
			pwErr = fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		pw, err := playwright.Run()
		if err != nil {
			pwErr = fmt.Errorf("failed to start playwright: %w", err)
			return
		}
		pwInstance = pw
	})
	return pwInstance, pwErr
}

// LaunchOptions configures a browser session.
type LaunchOptions struct {
	Headless  bool
	UserAgent string
	Viewport  *Viewport
	// DefaultTimeout applies to element operations that have no
	// per-call timeout. Zero means the playwright default.
	DefaultTimeout time.Duration
}

// Viewport is the browser window size.
type Viewport struct {
	Width  int
	Height int
}

// Session owns one launched browser, its context, and a single page.
// Sessions are exclusive resources: one login or delivery flow at a
// time, enforced by the callers that hold them.
type Session struct {
	mu      sync.Mutex
	browser playwright.Browser
	context playwright.BrowserContext
	page    *Page
	closed  bool
}

// Launch starts a fresh headless browser and opens one page.
func Launch(ctx context.Context, opts LaunchOptions) (*Session, error) {
	pw, err := getPlaywright()
	if err != nil {
		return nil, err
	}

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     launchArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	ctxOpts := playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(ua),
	}
	if opts.Viewport != nil {
		ctxOpts.Viewport = &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height}
	}

	bctx, err := b.NewContext(ctxOpts)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	if opts.DefaultTimeout > 0 {
		bctx.SetDefaultTimeout(float64(opts.DefaultTimeout.Milliseconds()))
	}

	pwPage, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = b.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	s := &Session{browser: b, context: bctx}
	s.page = &Page{page: pwPage, session: s}
	return s, nil
}

// Page returns the session's page.
func (s *Session) Page() *Page {
	return s.page
}

// Close tears down the page, context, and browser. Safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.page.closed = true

	if s.context != nil {
		_ = s.context.Close()
	}
	if s.browser != nil {
		return s.browser.Close()
	}
	return nil
}
