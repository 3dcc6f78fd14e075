package extractor

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agencybridge/sidecar/internal/browser"
)

// looksLikeToken reports whether a value has the structural shape of a
// signed web token: three dot-delimited segments, the first decoding
// from the well-known base64 JSON header prefix.
func looksLikeToken(s string) bool {
	return strings.HasPrefix(s, "eyJ") && strings.Count(s, ".") == 2
}

// decodeTokenClaims pulls the subject and expiry out of a token
// without verifying its signature. We did not issue these tokens and
// hold no key for them; the claims are used only to label the session
// and to bound its cache lifetime.
func decodeTokenClaims(token string) (subject string, expiry time.Time) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", time.Time{}
	}
	if sub, err := claims.GetSubject(); err == nil {
		subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiry = exp.Time
	}
	return subject, expiry
}

// harvestCookiesAndCSRF reads the full cookie set plus the CSRF token
// the page embeds in a meta tag. Cookies are the artifact here: a
// session without any is a failed harvest. The CSRF token is optional;
// some deployments omit the meta tag.
func harvestCookiesAndCSRF(csrfSelector string) HarvestFunc {
	return func(ctx context.Context, page Page) (*Session, error) {
		cookies, err := page.Cookies(ctx)
		if err != nil {
			return nil, err
		}
		if len(cookies) == 0 {
			return nil, ErrArtifactNotFound
		}

		session := &Session{Cookies: cookies}
		if csrfSelector != "" {
			if n, err := page.Count(ctx, csrfSelector); err == nil && n > 0 {
				if token, err := page.Attribute(ctx, csrfSelector, "content"); err == nil {
					session.CSRFToken = token
				}
			}
		}
		return session, nil
	}
}

// harvestStoredToken finds a bearer token the page dropped into web
// storage after login. Rules, in order: a structurally token-shaped
// value anywhere in localStorage or sessionStorage; failing that, a
// one-off navigation to fallbackURL to coax the app into minting one;
// failing that, a cookie whose value is token-shaped or whose name
// mentions tokens.
func harvestStoredToken(fallbackURL string, settleDelay time.Duration) HarvestFunc {
	return func(ctx context.Context, page Page) (*Session, error) {
		token := findStorageToken(ctx, page)

		if token == "" && fallbackURL != "" {
			if err := page.Navigate(ctx, fallbackURL, browser.NavigateOptions{WaitUntil: "networkidle"}); err == nil {
				settle(ctx, settleDelay)
				token = findStorageToken(ctx, page)
			}
		}

		cookies, _ := page.Cookies(ctx)
		if token == "" {
			for _, c := range cookies {
				name := strings.ToLower(c.Name)
				if looksLikeToken(c.Value) || strings.Contains(name, "token") || strings.Contains(name, "jwt") {
					token = c.Value
					break
				}
			}
		}

		if token == "" {
			return nil, ErrArtifactNotFound
		}

		session := &Session{Token: token, Cookies: cookies}
		session.UserID, session.TokenExpiry = decodeTokenClaims(token)
		return session, nil
	}
}

// harvestCookieJar reads all cookies plus an optional token stashed in
// storage under a conventional key. Used by providers whose API wants
// the raw cookie header rather than a bearer token.
func harvestCookieJar(tokenKeys []string) HarvestFunc {
	return func(ctx context.Context, page Page) (*Session, error) {
		cookies, err := page.Cookies(ctx)
		if err != nil {
			return nil, err
		}
		if len(cookies) == 0 {
			return nil, ErrArtifactNotFound
		}

		session := &Session{Cookies: cookies}
		if local, err := page.Storage(ctx, browser.StorageLocal); err == nil {
			for _, key := range tokenKeys {
				if v := local[key]; v != "" {
					session.Token = v
					break
				}
			}
		}
		if session.Token == "" {
			if ss, err := page.Storage(ctx, browser.StorageSession); err == nil {
				for _, key := range tokenKeys {
					if v := ss[key]; v != "" {
						session.Token = v
						break
					}
				}
			}
		}
		return session, nil
	}
}

// findStorageToken scans both storage areas for a token-shaped value.
// Conventional keys are preferred so a deliberate "access_token" beats
// an incidental token-shaped blob elsewhere.
func findStorageToken(ctx context.Context, page Page) string {
	conventional := []string{"token", "access_token", "jwt"}

	for _, kind := range []browser.StorageKind{browser.StorageLocal, browser.StorageSession} {
		values, err := page.Storage(ctx, kind)
		if err != nil {
			continue
		}
		for _, key := range conventional {
			if v := values[key]; v != "" {
				return v
			}
		}
		for _, v := range values {
			if looksLikeToken(v) {
				return v
			}
		}
	}
	return ""
}
