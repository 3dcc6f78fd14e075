package extractor

import (
	"errors"
	"fmt"
)

// Sentinel failure reasons for one extraction attempt. None of these
// are retried automatically; the caller may resubmit.
var (
	// ErrCredentialsMissing means a required secret was not supplied.
	ErrCredentialsMissing = errors.New("credentials missing")

	// ErrFieldNotFound means a locator ladder was exhausted without any
	// selector resolving to exactly one element.
	ErrFieldNotFound = errors.New("field not found")

	// ErrLoginRejected means authentication failed, explicitly (an
	// error element was shown) or implicitly (still on the login surface).
	ErrLoginRejected = errors.New("login rejected")

	// ErrArtifactNotFound means the post-login harvest matched no
	// token or cookie of interest.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// Failure carries enough structured detail to diagnose a failed
// attempt without inspecting internals: provider, phase, and the field
// whose ladder exhausted when that is the cause.
type Failure struct {
	Provider string
	Phase    Phase
	Field    string
	Message  string
	reason   error
}

func (f *Failure) Error() string {
	s := fmt.Sprintf("%s: %s failed in %s", f.Provider, f.reason, f.Phase)
	if f.Field != "" {
		s += fmt.Sprintf(" (field %q)", f.Field)
	}
	if f.Message != "" {
		s += ": " + f.Message
	}
	return s
}

func (f *Failure) Unwrap() error {
	return f.reason
}

func (e *Extractor) failf(phase Phase, reason error, field, format string, args ...any) error {
	return &Failure{
		Provider: e.provider.Name,
		Phase:    phase,
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
		reason:   reason,
	}
}
