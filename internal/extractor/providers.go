package extractor

import "time"

// Provider names double as cache keys.
const (
	ProviderAgencyZoom = "agencyzoom"
	ProviderRPR        = "rpr"
	ProviderMMI        = "mmi"
)

// AgencyZoom harvests session cookies and the CSRF token needed by the
// SMS endpoint, which rejects ordinary bearer tokens.
func AgencyZoom() Provider {
	return Provider{
		Name:         ProviderAgencyZoom,
		LoginURL:     "https://app.agencyzoom.com/login",
		LoginSurface: "login",
		Username: Ladder{
			Field:     "email input",
			Selectors: []string{"input[name='LoginForm[username]']", "input[name='email']", "input[type='email']", "#email"},
		},
		Password: Ladder{
			Field:     "password input",
			Selectors: []string{"input[name='LoginForm[password]']", "input[name='password']", "input[type='password']", "#password"},
		},
		Submit: Ladder{
			Field:     "login button",
			Selectors: []string{"button[type='submit']", "input[type='submit']", ".btn-primary"},
		},
		SubmitFallbackEnter: true,
		ErrorSelector:       ".error-message, .alert-danger",
		PostLoginURL:        "https://app.agencyzoom.com/integration/messages/index",
		NavigateSettle:      2 * time.Second,
		SubmitSettle:        5 * time.Second,
		Harvest:             harvestCookiesAndCSRF("meta[name='csrf-token']"),
	}
}

// RPR harvests the JWT the property-data app drops into web storage
// after login. The token rotates fast; cache it on the short TTL.
func RPR() Provider {
	return Provider{
		Name:         ProviderRPR,
		LoginURL:     "https://www.narrpr.com/",
		LoginSurface: "sign-in",
		EntryLink: Ladder{
			Field:     "sign-in link",
			Selectors: []string{"a[href*='sign-in']", "a[href*='login']"},
		},
		Username: Ladder{
			Field:     "email input",
			Selectors: []string{"input[type='email']", "input[name='email']", "input#email"},
		},
		Password: Ladder{
			Field:     "password input",
			Selectors: []string{"input[type='password']"},
		},
		Submit: Ladder{
			Field: "sign-in button",
			Selectors: []string{
				"button[type='submit']",
				"input[type='submit']",
				"button:has-text('Sign In')",
				"button:has-text('Log In')",
			},
		},
		ErrorSelector:  ".error, .alert-danger",
		NavigateSettle: 3 * time.Second,
		SubmitSettle:   5 * time.Second,
		// A property page forces the app to mint a token when login
		// alone did not.
		Harvest: harvestStoredToken("https://www.narrpr.com/properties/details/info/17257395", 5*time.Second),
	}
}

// MMI harvests the session cookie jar the market-data API wants
// replayed as a Cookie header.
func MMI() Provider {
	return Provider{
		Name:         ProviderMMI,
		LoginURL:     "https://new.mmi.run/login",
		LoginSurface: "login",
		Username: Ladder{
			Field:     "email input",
			Selectors: []string{"input[type='email']", "input[name='email']", "input#email", "input[placeholder*='email' i]"},
		},
		Password: Ladder{
			Field:     "password input",
			Selectors: []string{"input[type='password']"},
		},
		Submit: Ladder{
			Field: "login button",
			Selectors: []string{
				"button[type='submit']",
				"input[type='submit']",
				"button.btn-primary",
				"button:has-text('Sign In')",
				"button:has-text('Log In')",
			},
		},
		ErrorSelector:  ".error, .alert-danger, [class*='error']",
		NavigateSettle: 3 * time.Second,
		SubmitSettle:   5 * time.Second,
		Harvest:        harvestCookieJar([]string{"token", "access_token", "jwt", "auth_token"}),
	}
}
