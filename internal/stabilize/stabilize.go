// Package stabilize decides when an incrementally produced text stream
// has finished. The sources it watches (chat replies composed
// token-by-token in a page) emit no completion event, so the only
// usable signal is "the text stopped changing": the loop samples at a
// fixed interval and declares convergence once N consecutive samples
// are identical and non-empty.
package stabilize

import (
	"context"
	"strings"
	"time"

	"github.com/agencybridge/sidecar/internal/logging"
)

// Sampler reads the current visible text. It is called once per poll
// interval and must not block past its context.
type Sampler func(ctx context.Context) (string, error)

// Options controls the sampling loop.
type Options struct {
	// InitialDelay is the settle time before the first sample, giving
	// the source a chance to start producing output.
	InitialDelay time.Duration

	// Interval between samples.
	Interval time.Duration

	// Threshold is the number of consecutive identical, non-empty
	// samples required to declare convergence.
	Threshold int

	// Deadline bounds the whole wait, measured from the call.
	Deadline time.Duration

	// ErrorMarker, when non-empty, marks samples that must not count
	// toward stability (e.g. an extraction script reporting "Error: ...").
	ErrorMarker string
}

// Result is the outcome of a stabilization wait.
type Result struct {
	// Text is the converged text, or the best text observed before the
	// deadline (possibly empty).
	Text string

	// Converged is true when Threshold was reached, false on deadline
	// or cancellation.
	Converged bool

	// Samples is the number of samples taken.
	Samples int

	// Elapsed is the total wait time.
	Elapsed time.Duration
}

const (
	DefaultInterval  = time.Second
	DefaultThreshold = 4
	DefaultDeadline  = 60 * time.Second
)

// Await polls sample until the text is unchanged for Threshold
// consecutive samples or the deadline elapses. Cancellation of ctx
// stops the loop promptly and is reported the same way as a deadline:
// a non-converged Result carrying the best text seen so far.
func Await(ctx context.Context, sample Sampler, opts Options) Result {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, opts.Deadline)
	defer cancel()

	if opts.InitialDelay > 0 {
		if !sleep(ctx, opts.InitialDelay) {
			return Result{Elapsed: time.Since(start)}
		}
	}

	var (
		last   string
		best   string
		stable int
		count  int
	)

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		text, err := sample(ctx)
		count++

		switch {
		case err != nil, text == "", isErrorMarker(text, opts.ErrorMarker):
			// Unusable sample: restart the stability count but keep
			// whatever good text we already have.
			stable = 0
		case text == last:
			stable++
		default:
			last = text
			best = text
			stable = 1
		}

		logging.Debugf("[stabilize] sample=%d stable=%d len=%d", count, stable, len(text))

		if stable >= opts.Threshold && last != "" {
			return Result{Text: last, Converged: true, Samples: count, Elapsed: time.Since(start)}
		}

		select {
		case <-ctx.Done():
			return Result{Text: best, Converged: false, Samples: count, Elapsed: time.Since(start)}
		case <-ticker.C:
		}
	}
}

func isErrorMarker(text, marker string) bool {
	return marker != "" && strings.HasPrefix(text, marker)
}

// sleep waits for d or until ctx is done; reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
