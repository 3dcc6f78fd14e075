// Package chat proxies a conversational assistant that only exists as
// a widget inside an authenticated web portal. A persistent browser
// session keeps the widget open; each prompt is typed into it and the
// reply is read back once it stops streaming.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agencybridge/sidecar/internal/browser"
	"github.com/agencybridge/sidecar/internal/extractor"
	"github.com/agencybridge/sidecar/internal/logging"
	"github.com/agencybridge/sidecar/internal/stabilize"
)

// Phase is the proxy's lifecycle state.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseInitializing Phase = "initializing"
	PhaseReady        Phase = "ready"
	PhaseBusy         Phase = "busy"
	PhaseFailed       Phase = "failed"
	PhaseClosed       Phase = "closed"
)

// ErrNotReady is returned when a message is sent before the widget is
// initialized (or after it failed).
var ErrNotReady = errors.New("chat session is not ready")

// Page is the automation surface the proxy drives. *browser.Page
// satisfies it.
type Page interface {
	Navigate(ctx context.Context, url string, opts browser.NavigateOptions) error
	URL() string
	Count(ctx context.Context, selector string) (int, error)
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Press(ctx context.Context, selector, key string) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	FrameFill(ctx context.Context, frameSelector, selector, value string) error
	FramePress(ctx context.Context, frameSelector, selector, key string) error
	FrameWaitFor(ctx context.Context, frameSelector, selector string, timeout time.Duration) error
	FrameEvaluate(ctx context.Context, frameSelector, script string) (any, error)
}

// Launcher opens a browser session and returns its page plus a
// teardown.
type Launcher func(ctx context.Context) (Page, func() error, error)

// Options locates the portal, its login form, and the widget inside it.
type Options struct {
	PortalURL    string
	LoginSurface string

	Username extractor.Ladder
	Password extractor.Ladder
	Submit   extractor.Ladder

	// BubbleTrigger opens the widget; FrameSelector is its iframe;
	// InputSelector is the prompt box inside the frame.
	BubbleTrigger string
	FrameSelector string
	InputSelector string

	// ResponseScript runs inside the frame and returns the latest reply
	// text, empty while nothing has arrived yet.
	ResponseScript string

	// StripPhrases are widget chrome accidentally captured with the
	// reply (e.g. a "Read Aloud" button label).
	StripPhrases []string

	LoginSettle time.Duration
	WidgetWait  time.Duration

	Stabilize stabilize.Options
}

// responseScript pulls the text of the newest assistant message out of
// the widget's DOM, skipping the streaming indicator.
const responseScript = `(() => {
  const nodes = document.querySelectorAll('.chat-message.assistant, .message.bot, [data-role="assistant"]');
  if (!nodes.length) return '';
  const last = nodes[nodes.length - 1];
  if (last.querySelector('.typing-indicator')) return '';
  return last.innerText || '';
})()`

// Delphi locates the Delphi assistant inside the Intelligent Agent
// academy portal.
func Delphi() Options {
	return Options{
		PortalURL:    "https://academy.theintelligentagent.ai/my/",
		LoginSurface: "login",
		Username: extractor.Ladder{Field: "username input", Selectors: []string{
			"#username",
			"input[name='username']",
		}},
		Password: extractor.Ladder{Field: "password input", Selectors: []string{
			"#password",
			"input[name='password']",
		}},
		Submit: extractor.Ladder{Field: "login button", Selectors: []string{
			"#loginbtn",
			"button[type='submit']",
		}},
		BubbleTrigger:  "#delphi-bubble-trigger",
		FrameSelector:  "#delphi-frame",
		InputSelector:  "#message",
		ResponseScript: responseScript,
		StripPhrases:   []string{"Read Aloud"},
		LoginSettle:    3 * time.Second,
		WidgetWait:     20 * time.Second,
		Stabilize: stabilize.Options{
			InitialDelay: 3 * time.Second,
			Interval:     time.Second,
			Threshold:    4,
			Deadline:     60 * time.Second,
		},
	}
}

// Status is a snapshot of the proxy for callers polling its health.
type Status struct {
	Phase     Phase  `json:"phase"`
	LastError string `json:"lastError,omitempty"`
}

// Proxy owns one widget session. One conversation at a time: sends are
// serialized, and the portal login is performed once at Initialize.
type Proxy struct {
	opts   Options
	creds  func() extractor.Credentials
	launch Launcher

	mu      sync.Mutex
	page    Page
	closeFn func() error
	phase   Phase
	lastErr string
}

// New builds a Proxy. creds is read at Initialize time so rotated
// credentials are picked up without restarting.
func New(creds func() extractor.Credentials, launch Launcher, opts Options) *Proxy {
	return &Proxy{opts: opts, creds: creds, launch: launch, phase: PhaseIdle}
}

// Initialize opens the portal, logs in if the portal bounced to its
// login page, and opens the widget. Idempotent while the session is
// healthy.
func (p *Proxy) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase == PhaseReady || p.phase == PhaseBusy {
		return nil
	}
	p.phase = PhaseInitializing
	p.lastErr = ""

	if err := p.initLocked(ctx); err != nil {
		p.fail(err)
		return err
	}
	p.phase = PhaseReady
	logging.Infof("chat widget ready at %s", p.opts.PortalURL)
	return nil
}

func (p *Proxy) initLocked(ctx context.Context) error {
	page, closeFn, err := p.launch(ctx)
	if err != nil {
		return fmt.Errorf("open chat session: %w", err)
	}
	p.page = page
	p.closeFn = closeFn

	if err := page.Navigate(ctx, p.opts.PortalURL, browser.NavigateOptions{WaitUntil: "networkidle"}); err != nil {
		return fmt.Errorf("open portal: %w", err)
	}

	if p.opts.LoginSurface != "" && strings.Contains(page.URL(), p.opts.LoginSurface) {
		if err := p.login(ctx, page); err != nil {
			return err
		}
	}

	if err := page.WaitFor(ctx, p.opts.BubbleTrigger, p.opts.WidgetWait); err != nil {
		return fmt.Errorf("widget trigger never appeared: %w", err)
	}
	if err := page.Click(ctx, p.opts.BubbleTrigger); err != nil {
		return fmt.Errorf("open widget: %w", err)
	}
	if err := page.WaitFor(ctx, p.opts.FrameSelector, p.opts.WidgetWait); err != nil {
		return fmt.Errorf("widget frame never appeared: %w", err)
	}
	if err := page.FrameWaitFor(ctx, p.opts.FrameSelector, p.opts.InputSelector, p.opts.WidgetWait); err != nil {
		return fmt.Errorf("widget input never appeared: %w", err)
	}
	return nil
}

func (p *Proxy) login(ctx context.Context, page Page) error {
	creds := p.creds()
	if creds.Missing() {
		return errors.New("portal credentials are not configured")
	}

	user, err := p.opts.Username.Resolve(ctx, page)
	if err != nil {
		return err
	}
	if err := page.Fill(ctx, user, creds.Username); err != nil {
		return fmt.Errorf("fill username: %w", err)
	}
	pass, err := p.opts.Password.Resolve(ctx, page)
	if err != nil {
		return err
	}
	if err := page.Fill(ctx, pass, creds.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	submit, err := p.opts.Submit.Resolve(ctx, page)
	if err != nil {
		return err
	}
	if err := page.Click(ctx, submit); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}

	waitFor(ctx, p.opts.LoginSettle)

	if strings.Contains(page.URL(), p.opts.LoginSurface) {
		return errors.New("portal rejected the login")
	}
	return nil
}

// SendMessage types a prompt into the widget and waits for the reply
// to stop changing. A never-settling reply returns best-effort text,
// not an error.
func (p *Proxy) SendMessage(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt must not be empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != PhaseReady {
		return "", fmt.Errorf("%w (phase %s)", ErrNotReady, p.phase)
	}
	p.phase = PhaseBusy
	defer func() {
		if p.phase == PhaseBusy {
			p.phase = PhaseReady
		}
	}()

	frame := p.opts.FrameSelector

	// Whatever the widget already shows (its welcome message, or the
	// previous reply) must not be mistaken for the answer to this
	// prompt.
	baseline, _ := p.sample(ctx)

	if err := p.page.FrameFill(ctx, frame, p.opts.InputSelector, prompt); err != nil {
		err = fmt.Errorf("type prompt: %w", err)
		p.fail(err)
		return "", err
	}
	if err := p.page.FramePress(ctx, frame, p.opts.InputSelector, "Enter"); err != nil {
		err = fmt.Errorf("submit prompt: %w", err)
		p.fail(err)
		return "", err
	}

	sample := func(ctx context.Context) (string, error) {
		text, err := p.sample(ctx)
		if err != nil {
			return "", err
		}
		if text == baseline {
			return "", nil
		}
		return text, nil
	}
	res := stabilize.Await(ctx, sample, p.opts.Stabilize)
	if !res.Converged {
		logging.Warnf("chat reply never settled after %d samples, returning best effort", res.Samples)
	}

	text := p.clean(res.Text)
	if text == "" {
		return "", errors.New("no reply captured before the deadline")
	}
	return text, nil
}

func (p *Proxy) sample(ctx context.Context) (string, error) {
	raw, err := p.page.FrameEvaluate(ctx, p.opts.FrameSelector, p.opts.ResponseScript)
	if err != nil {
		return "", err
	}
	text, _ := raw.(string)
	return strings.TrimSpace(text), nil
}

func (p *Proxy) clean(text string) string {
	for _, phrase := range p.opts.StripPhrases {
		text = strings.ReplaceAll(text, phrase, "")
	}
	return strings.TrimSpace(text)
}

// Status reports the proxy's phase without blocking on an in-flight
// send.
func (p *Proxy) Status() Status {
	if p.mu.TryLock() {
		defer p.mu.Unlock()
		return Status{Phase: p.phase, LastError: p.lastErr}
	}
	return Status{Phase: PhaseBusy}
}

// Close tears down the browser session.
func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.phase = PhaseClosed
	p.page = nil
	if p.closeFn == nil {
		return nil
	}
	closeFn := p.closeFn
	p.closeFn = nil
	return closeFn()
}

// fail records the error and tears the session down so the next
// Initialize starts clean.
func (p *Proxy) fail(err error) {
	p.phase = PhaseFailed
	p.lastErr = err.Error()
	if p.closeFn != nil {
		if cerr := p.closeFn(); cerr != nil {
			logging.Warnf("chat session teardown: %v", cerr)
		}
		p.closeFn = nil
	}
	p.page = nil
}

func waitFor(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
