package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Page wraps a Playwright page. Context parameters are accepted for
// call-site symmetry even where the underlying driver call is not
// context-aware.
type Page struct {
	page    playwright.Page
	session *Session
	closed  bool
}

// NavigateOptions configures navigation.
type NavigateOptions struct {
	WaitUntil string // "load", "domcontentloaded", "networkidle"
	Timeout   time.Duration
}

// Navigate loads a URL and waits for the requested load state.
func (p *Page) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	if p.closed {
		return fmt.Errorf("page is closed")
	}

	waitUntil := playwright.WaitUntilStateLoad
	switch opts.WaitUntil {
	case "domcontentloaded":
		waitUntil = playwright.WaitUntilStateDomcontentloaded
	case "networkidle":
		waitUntil = playwright.WaitUntilStateNetworkidle
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntil,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// URL returns the page's current URL.
func (p *Page) URL() string {
	return p.page.URL()
}

// Title returns the page's current title.
func (p *Page) Title() string {
	title, _ := p.page.Title()
	return title
}

// Count returns how many elements match selector.
func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	if p.closed {
		return 0, fmt.Errorf("page is closed")
	}
	n, err := p.page.Locator(selector).Count()
	if err != nil {
		return 0, fmt.Errorf("count failed for %s: %w", selector, err)
	}
	return n, nil
}

// Fill clears and fills an input.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if p.closed {
		return fmt.Errorf("page is closed")
	}
	if err := p.page.Locator(selector).Fill(value); err != nil {
		return fmt.Errorf("fill failed for %s: %w", selector, err)
	}
	return nil
}

// Click clicks the first element matching selector.
func (p *Page) Click(ctx context.Context, selector string) error {
	if p.closed {
		return fmt.Errorf("page is closed")
	}
	if err := p.page.Locator(selector).First().Click(); err != nil {
		return fmt.Errorf("click failed for %s: %w", selector, err)
	}
	return nil
}

// Press sends a key press to the element matching selector.
func (p *Page) Press(ctx context.Context, selector, key string) error {
	if p.closed {
		return fmt.Errorf("page is closed")
	}
	if err := p.page.Locator(selector).Press(key); err != nil {
		return fmt.Errorf("press failed for %s: %w", selector, err)
	}
	return nil
}

// Text returns the inner text of the first element matching selector.
func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	if p.closed {
		return "", fmt.Errorf("page is closed")
	}
	text, err := p.page.Locator(selector).First().InnerText()
	if err != nil {
		return "", fmt.Errorf("text extraction failed for %s: %w", selector, err)
	}
	return text, nil
}

// Attribute returns an attribute of the first element matching selector.
func (p *Page) Attribute(ctx context.Context, selector, name string) (string, error) {
	if p.closed {
		return "", fmt.Errorf("page is closed")
	}
	val, err := p.page.Locator(selector).First().GetAttribute(name)
	if err != nil {
		return "", fmt.Errorf("attribute read failed for %s: %w", selector, err)
	}
	return val, nil
}

// IsVisible reports whether the first element matching selector is
// visible. A selector matching nothing is simply not visible.
func (p *Page) IsVisible(ctx context.Context, selector string) (bool, error) {
	if p.closed {
		return false, fmt.Errorf("page is closed")
	}
	n, err := p.page.Locator(selector).Count()
	if err != nil {
		return false, fmt.Errorf("visibility check failed for %s: %w", selector, err)
	}
	if n == 0 {
		return false, nil
	}
	visible, err := p.page.Locator(selector).First().IsVisible()
	if err != nil {
		return false, fmt.Errorf("visibility check failed for %s: %w", selector, err)
	}
	return visible, nil
}

// WaitFor waits until an element matching selector is visible.
func (p *Page) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if p.closed {
		return fmt.Errorf("page is closed")
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	err := p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("wait failed for %s: %w", selector, err)
	}
	return nil
}

// Evaluate runs a script in the page and returns its result.
func (p *Page) Evaluate(ctx context.Context, script string) (any, error) {
	if p.closed {
		return nil, fmt.Errorf("page is closed")
	}
	result, err := p.page.Evaluate(script)
	if err != nil {
		return nil, fmt.Errorf("evaluate failed: %w", err)
	}
	return result, nil
}

// frame resolves an iframe element to its content frame.
func (p *Page) frame(frameSelector string) (playwright.Frame, error) {
	el, err := p.page.QuerySelector(frameSelector)
	if err != nil {
		return nil, fmt.Errorf("frame query failed for %s: %w", frameSelector, err)
	}
	if el == nil {
		return nil, fmt.Errorf("frame not found: %s", frameSelector)
	}
	frame, err := el.ContentFrame()
	if err != nil {
		return nil, fmt.Errorf("frame content inaccessible for %s: %w", frameSelector, err)
	}
	if frame == nil {
		return nil, fmt.Errorf("frame content inaccessible for %s", frameSelector)
	}
	return frame, nil
}

// FrameFill fills an input inside an iframe.
func (p *Page) FrameFill(ctx context.Context, frameSelector, selector, value string) error {
	if p.closed {
		return fmt.Errorf("page is closed")
	}
	frame, err := p.frame(frameSelector)
	if err != nil {
		return err
	}
	if err := frame.Fill(selector, value); err != nil {
		return fmt.Errorf("frame fill failed for %s: %w", selector, err)
	}
	return nil
}

// FramePress sends a key press to an element inside an iframe.
func (p *Page) FramePress(ctx context.Context, frameSelector, selector, key string) error {
	if p.closed {
		return fmt.Errorf("page is closed")
	}
	frame, err := p.frame(frameSelector)
	if err != nil {
		return err
	}
	if err := frame.Press(selector, key); err != nil {
		return fmt.Errorf("frame press failed for %s: %w", selector, err)
	}
	return nil
}

// FrameWaitFor waits for an element inside an iframe to appear.
func (p *Page) FrameWaitFor(ctx context.Context, frameSelector, selector string, timeout time.Duration) error {
	if p.closed {
		return fmt.Errorf("page is closed")
	}
	frame, err := p.frame(frameSelector)
	if err != nil {
		return err
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	_, err = frame.WaitForSelector(selector, playwright.FrameWaitForSelectorOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("frame wait failed for %s: %w", selector, err)
	}
	return nil
}

// FrameEvaluate runs a script inside an iframe and returns its result.
func (p *Page) FrameEvaluate(ctx context.Context, frameSelector, script string) (any, error) {
	if p.closed {
		return nil, fmt.Errorf("page is closed")
	}
	frame, err := p.frame(frameSelector)
	if err != nil {
		return nil, err
	}
	result, err := frame.Evaluate(script)
	if err != nil {
		return nil, fmt.Errorf("frame evaluate failed: %w", err)
	}
	return result, nil
}
