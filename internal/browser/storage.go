package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"
)

// Cookie is a browser cookie snapshot.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// StorageKind is the type of web storage.
type StorageKind string

const (
	StorageLocal   StorageKind = "local"
	StorageSession StorageKind = "session"
)

// Cookies returns all cookies in the session's context, in the order
// the browser reports them.
func (p *Page) Cookies(ctx context.Context) ([]Cookie, error) {
	if p.closed {
		return nil, fmt.Errorf("page is closed")
	}

	pwCookies, err := p.page.Context().Cookies()
	if err != nil {
		return nil, fmt.Errorf("get cookies failed: %w", err)
	}

	cookies := make([]Cookie, len(pwCookies))
	for i, c := range pwCookies {
		cookies[i] = Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		}
	}
	return cookies, nil
}

// AddCookies installs cookies into the session's context, so a page
// can reuse authentication state captured earlier. A cookie without a
// domain is scoped to the page's current URL.
func (p *Page) AddCookies(ctx context.Context, cookies []Cookie) error {
	if p.closed {
		return fmt.Errorf("page is closed")
	}

	pwCookies := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{Name: c.Name, Value: c.Value}
		if c.Domain != "" {
			oc.Domain = playwright.String(c.Domain)
			path := c.Path
			if path == "" {
				path = "/"
			}
			oc.Path = playwright.String(path)
		} else {
			oc.URL = playwright.String(p.page.URL())
		}
		pwCookies = append(pwCookies, oc)
	}
	if err := p.page.Context().AddCookies(pwCookies); err != nil {
		return fmt.Errorf("add cookies failed: %w", err)
	}
	return nil
}

// Storage reads all key/value pairs from localStorage or sessionStorage.
func (p *Page) Storage(ctx context.Context, kind StorageKind) (map[string]string, error) {
	if p.closed {
		return nil, fmt.Errorf("page is closed")
	}

	storeName := "localStorage"
	if kind == StorageSession {
		storeName = "sessionStorage"
	}

	script := fmt.Sprintf(`
		(() => {
			const store = window.%s;
			const result = {};
			for (let i = 0; i < store.length; i++) {
				const k = store.key(i);
				if (k) {
					const v = store.getItem(k);
					if (v !== null) {
						result[k] = v;
					}
				}
			}
			return result;
		})()
	`, storeName)

	result, err := p.page.Evaluate(script)
	if err != nil {
		return nil, fmt.Errorf("get storage failed: %w", err)
	}

	values := make(map[string]string)
	if m, ok := result.(map[string]interface{}); ok {
		for k, v := range m {
			if s, ok := v.(string); ok {
				values[k] = s
			}
		}
	}
	return values, nil
}

// CookieHeader joins cookies into a Cookie request header value.
func CookieHeader(cookies []Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
