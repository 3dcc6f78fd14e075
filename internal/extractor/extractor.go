// Package extractor drives third-party web login flows and harvests
// the short-lived authentication material they leave behind: session
// cookies, CSRF tokens, and bearer tokens in web storage. Each
// extraction attempt walks an explicit state machine, and every
// failure is typed so callers can tell a missing secret from a
// rejected password from a fruitless harvest.
package extractor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/agencybridge/sidecar/internal/browser"
	"github.com/agencybridge/sidecar/internal/logging"
)

// Phase is a state of an extraction attempt.
type Phase string

const (
	PhaseStart          Phase = "start"
	PhaseAuthenticating Phase = "authenticating"
	PhasePostAuthCheck  Phase = "post_auth_check"
	PhaseHarvesting     Phase = "harvesting_artifacts"
	PhaseDone           Phase = "done"
)

// Page is the automation surface an extraction drives. *browser.Page
// satisfies it; tests substitute fakes.
type Page interface {
	Navigate(ctx context.Context, url string, opts browser.NavigateOptions) error
	URL() string
	Count(ctx context.Context, selector string) (int, error)
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Press(ctx context.Context, selector, key string) error
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, error)
	IsVisible(ctx context.Context, selector string) (bool, error)
	Evaluate(ctx context.Context, script string) (any, error)
	Cookies(ctx context.Context) ([]browser.Cookie, error)
	AddCookies(ctx context.Context, cookies []browser.Cookie) error
	Storage(ctx context.Context, kind browser.StorageKind) (map[string]string, error)
}

// Credentials is a username/password pair for one provider.
type Credentials struct {
	Username string
	Password string
}

// Missing reports whether either half of the pair is empty.
func (c Credentials) Missing() bool {
	return c.Username == "" || c.Password == ""
}

// Session is the harvested authentication material for one provider.
// It is a snapshot: never mutated after creation. Refreshing produces
// a new Session that replaces the old one wherever it is cached.
type Session struct {
	Provider  string           `json:"provider"`
	Cookies   []browser.Cookie `json:"cookies,omitempty"`
	CSRFToken string           `json:"csrfToken,omitempty"`
	Token     string           `json:"token,omitempty"`
	UserID    string           `json:"userId,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`

	// TokenExpiry is the expiry decoded out of a harvested token, when
	// the token carries one. Zero otherwise.
	TokenExpiry time.Time `json:"tokenExpiry,omitempty"`
}

// CookieHeader renders the session's cookies as a Cookie header value.
func (s *Session) CookieHeader() string {
	return browser.CookieHeader(s.Cookies)
}

// SessionCookies returns the subset of cookies whose names suggest
// authentication state.
func (s *Session) SessionCookies() map[string]string {
	terms := []string{"session", "auth", "token", "jwt", "sid", "connect", "api_key"}
	out := make(map[string]string)
	for _, c := range s.Cookies {
		name := strings.ToLower(c.Name)
		for _, t := range terms {
			if strings.Contains(name, t) {
				out[c.Name] = c.Value
				break
			}
		}
	}
	return out
}

// HarvestFunc applies provider-specific rules to pull the artifact of
// interest out of an authenticated page. It returns a Session with the
// artifact fields set; the extractor fills in provider and timestamps.
type HarvestFunc func(ctx context.Context, page Page) (*Session, error)

// Provider describes one external login flow as data: where to go,
// which ladders locate the form fields, how to recognize the login
// surface, and how to harvest artifacts afterwards.
type Provider struct {
	Name     string
	LoginURL string

	// LoginSurface is a URL substring that identifies the login page.
	// Ending up on a URL containing it after submit means auth failed.
	LoginSurface string

	// EntryLink, when non-empty, is clicked before the form is filled
	// if it resolves (some sites front the form with a sign-in link).
	// Non-resolution is not a failure.
	EntryLink Ladder

	Username Ladder
	Password Ladder
	Submit   Ladder

	// SubmitFallbackEnter presses Enter on the password field when the
	// submit ladder exhausts, instead of failing the attempt.
	SubmitFallbackEnter bool

	// ErrorSelector locates an explicit login-error element for
	// diagnostics when auth fails.
	ErrorSelector string

	// PostLoginURL, when set, is visited after auth before harvesting
	// (e.g. the page whose markup carries the CSRF token).
	PostLoginURL string

	// NavigateSettle and SubmitSettle give single-page apps time to
	// render after navigation and after the login submit.
	NavigateSettle time.Duration
	SubmitSettle   time.Duration

	Harvest HarvestFunc
}

// Launcher opens a fresh automation session and returns its page plus
// a teardown func. The default wraps browser.Launch; tests inject
// their own.
type Launcher func(ctx context.Context) (Page, func() error, error)

// Extractor runs login+harvest attempts for one provider. It is
// stateless across calls except for a memo of the last successful
// Session, kept so the very next delivery in this process can skip a
// full re-authentication.
type Extractor struct {
	provider Provider
	creds    func() Credentials
	launch   Launcher

	// mu makes the provider's live automation session exclusive: one
	// extraction at a time.
	mu sync.Mutex

	memoMu sync.Mutex
	last   *Session
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLauncher overrides how automation sessions are opened.
func WithLauncher(l Launcher) Option {
	return func(e *Extractor) { e.launch = l }
}

// New creates an extractor for provider. creds is consulted at attempt
// time so rotated secrets take effect without rebuilding the extractor.
func New(provider Provider, creds func() Credentials, opts ...Option) *Extractor {
	e := &Extractor{
		provider: provider,
		creds:    creds,
		launch: func(ctx context.Context) (Page, func() error, error) {
			session, err := browser.Launch(ctx, browser.LaunchOptions{Headless: true})
			if err != nil {
				return nil, nil, err
			}
			return session.Page(), session.Close, nil
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Provider returns the provider this extractor serves.
func (e *Extractor) Provider() Provider {
	return e.provider
}

// LastSession returns the most recent successful Session from this
// process, or nil. It may be stale; callers treat it as a hint, not a
// source of truth.
func (e *Extractor) LastSession() *Session {
	e.memoMu.Lock()
	defer e.memoMu.Unlock()
	return e.last
}

// ForgetLastSession drops the in-process memo, used when a provider
// rejects the session it produced.
func (e *Extractor) ForgetLastSession() {
	e.memoMu.Lock()
	defer e.memoMu.Unlock()
	e.last = nil
}

// Extract runs one full login+harvest attempt and returns a populated
// Session or a typed *Failure. It never returns a partially populated
// Session. The caller owns caching the result.
func (e *Extractor) Extract(ctx context.Context) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	creds := e.creds()
	if creds.Missing() {
		return nil, e.failf(PhaseStart, ErrCredentialsMissing, "",
			"username and password must be configured for %s", e.provider.Name)
	}

	page, closeSession, err := e.launch(ctx)
	if err != nil {
		return nil, e.failf(PhaseStart, err, "", "could not open automation session")
	}
	defer func() {
		if cerr := closeSession(); cerr != nil {
			logging.Warnf("[%s] session teardown: %v", e.provider.Name, cerr)
		}
	}()

	if err := e.authenticate(ctx, page, creds); err != nil {
		return nil, err
	}
	if err := e.postAuthCheck(ctx, page); err != nil {
		return nil, err
	}
	session, err := e.harvest(ctx, page)
	if err != nil {
		return nil, err
	}

	session.Provider = e.provider.Name
	session.CreatedAt = time.Now()

	e.memoMu.Lock()
	e.last = session
	e.memoMu.Unlock()

	logging.Infof("[%s] extracted session: %d cookies, csrf=%t, token=%t",
		e.provider.Name, len(session.Cookies), session.CSRFToken != "", session.Token != "")
	return session, nil
}

// authenticate navigates to the login page and submits credentials.
func (e *Extractor) authenticate(ctx context.Context, page Page, creds Credentials) error {
	p := e.provider

	if err := page.Navigate(ctx, p.LoginURL, browser.NavigateOptions{WaitUntil: "networkidle"}); err != nil {
		return e.failf(PhaseAuthenticating, err, "", "login page unreachable")
	}
	if !settle(ctx, p.NavigateSettle) {
		return ctx.Err()
	}

	// Optional pre-step: some providers front the form with a link.
	if !p.EntryLink.Empty() {
		if sel, err := p.EntryLink.Resolve(ctx, page); err == nil {
			if err := page.Click(ctx, sel); err == nil {
				settle(ctx, p.NavigateSettle)
			}
		}
	}

	userSel, err := p.Username.Resolve(ctx, page)
	if err != nil {
		return e.failf(PhaseAuthenticating, ErrFieldNotFound, p.Username.Field, "")
	}
	if err := page.Fill(ctx, userSel, creds.Username); err != nil {
		return e.failf(PhaseAuthenticating, err, p.Username.Field, "fill failed")
	}

	passSel, err := p.Password.Resolve(ctx, page)
	if err != nil {
		return e.failf(PhaseAuthenticating, ErrFieldNotFound, p.Password.Field, "")
	}
	if err := page.Fill(ctx, passSel, creds.Password); err != nil {
		return e.failf(PhaseAuthenticating, err, p.Password.Field, "fill failed")
	}

	submitSel, err := p.Submit.Resolve(ctx, page)
	switch {
	case err == nil:
		if err := page.Click(ctx, submitSel); err != nil {
			return e.failf(PhaseAuthenticating, err, p.Submit.Field, "click failed")
		}
	case p.SubmitFallbackEnter:
		if err := page.Press(ctx, passSel, "Enter"); err != nil {
			return e.failf(PhaseAuthenticating, err, p.Submit.Field, "enter fallback failed")
		}
	default:
		return e.failf(PhaseAuthenticating, ErrFieldNotFound, p.Submit.Field, "")
	}

	if !settle(ctx, p.SubmitSettle) {
		return ctx.Err()
	}
	return nil
}

// postAuthCheck inspects the landing URL. Still being on the login
// surface means the submit was rejected; an explicit error element
// supplies the message when one is shown.
func (e *Extractor) postAuthCheck(ctx context.Context, page Page) error {
	p := e.provider

	if p.LoginSurface == "" || !strings.Contains(strings.ToLower(page.URL()), p.LoginSurface) {
		return nil
	}

	if p.ErrorSelector != "" {
		if n, err := page.Count(ctx, p.ErrorSelector); err == nil && n > 0 {
			msg, terr := page.Text(ctx, p.ErrorSelector)
			if terr == nil && strings.TrimSpace(msg) != "" {
				return e.failf(PhasePostAuthCheck, ErrLoginRejected, "", "%s", strings.TrimSpace(msg))
			}
		}
	}
	return e.failf(PhasePostAuthCheck, ErrLoginRejected, "", "still on login page")
}

// harvest runs the optional post-login navigation, then the provider's
// artifact rules.
func (e *Extractor) harvest(ctx context.Context, page Page) (*Session, error) {
	p := e.provider

	if p.PostLoginURL != "" {
		if err := page.Navigate(ctx, p.PostLoginURL, browser.NavigateOptions{WaitUntil: "networkidle"}); err != nil {
			return nil, e.failf(PhaseHarvesting, err, "", "post-login navigation failed")
		}
		if !settle(ctx, p.NavigateSettle) {
			return nil, ctx.Err()
		}
	}

	session, err := p.Harvest(ctx, page)
	if err != nil {
		if _, ok := err.(*Failure); ok {
			return nil, err
		}
		return nil, e.failf(PhaseHarvesting, err, "", "")
	}
	if session == nil {
		return nil, e.failf(PhaseHarvesting, ErrArtifactNotFound, "", "harvest produced nothing")
	}
	return session, nil
}

// WithAuthenticatedPage hands a logged-in live page to fn. When the
// last-session memo still holds cookies, those are installed first and
// the login form is skipped unless the provider bounces us back to its
// login surface; a stale memo is forgotten and the flow falls back to
// a full login. The automation session stays exclusive for the
// duration and is torn down when fn returns. Used by flows that need
// to drive the authenticated UI (e.g. a browser-backed delivery), not
// just harvest artifacts from it.
func (e *Extractor) WithAuthenticatedPage(ctx context.Context, fn func(ctx context.Context, page Page) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	creds := e.creds()
	if creds.Missing() {
		return e.failf(PhaseStart, ErrCredentialsMissing, "",
			"username and password must be configured for %s", e.provider.Name)
	}

	page, closeSession, err := e.launch(ctx)
	if err != nil {
		return e.failf(PhaseStart, err, "", "could not open automation session")
	}
	defer func() {
		if cerr := closeSession(); cerr != nil {
			logging.Warnf("[%s] session teardown: %v", e.provider.Name, cerr)
		}
	}()

	if memo := e.LastSession(); memo != nil && len(memo.Cookies) > 0 {
		if e.resume(ctx, page, memo) {
			return fn(ctx, page)
		}
		e.ForgetLastSession()
	}

	if err := e.authenticate(ctx, page, creds); err != nil {
		return err
	}
	if err := e.postAuthCheck(ctx, page); err != nil {
		return err
	}
	return fn(ctx, page)
}

// resume tries to revive a memoized session by installing its cookies
// and landing on the authenticated surface. Reports whether the
// provider accepted the cookies; any failure just means a full login
// is needed.
func (e *Extractor) resume(ctx context.Context, page Page, memo *Session) bool {
	p := e.provider

	if err := page.AddCookies(ctx, memo.Cookies); err != nil {
		logging.Warnf("[%s] cookie restore: %v", p.Name, err)
		return false
	}
	target := p.PostLoginURL
	if target == "" {
		target = p.LoginURL
	}
	if err := page.Navigate(ctx, target, browser.NavigateOptions{WaitUntil: "networkidle"}); err != nil {
		return false
	}
	if !settle(ctx, p.NavigateSettle) {
		return false
	}
	if p.LoginSurface != "" && strings.Contains(strings.ToLower(page.URL()), p.LoginSurface) {
		return false
	}
	logging.Infof("[%s] resumed memoized session, login skipped", p.Name)
	return true
}

// settle waits for d, honoring cancellation; reports whether the full
// wait elapsed.
func settle(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
