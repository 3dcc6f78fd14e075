package extractor

import (
	"context"
	"fmt"
)

// Ladder is an ordered list of selector alternatives for a single
// logical field. Login markup drifts between deployments; trying
// alternatives in order tolerates that drift without code changes.
// Resolution is strictly first-match-wins: later selectors are
// fallback only, never merged, never scored.
type Ladder struct {
	// Field names the logical field for diagnostics ("email input",
	// "submit button").
	Field string

	// Selectors are tried in order. The first one matching exactly one
	// element wins; zero or multiple matches move on to the next.
	Selectors []string
}

// Counter is the single page capability ladder resolution needs.
type Counter interface {
	Count(ctx context.Context, selector string) (int, error)
}

// Resolve returns the first selector in the ladder that matches
// exactly one element on the page. An exhausted ladder reports
// ErrFieldNotFound with the field name.
func (l Ladder) Resolve(ctx context.Context, page Counter) (string, error) {
	for _, sel := range l.Selectors {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := page.Count(ctx, sel)
		if err != nil {
			// A selector the engine cannot evaluate is treated like a
			// non-match; the next rung may still resolve.
			continue
		}
		if n == 1 {
			return sel, nil
		}
	}
	return "", fmt.Errorf("ladder %q exhausted (%d selectors): %w", l.Field, len(l.Selectors), ErrFieldNotFound)
}

// Empty reports whether the ladder has no selectors.
func (l Ladder) Empty() bool {
	return len(l.Selectors) == 0
}
