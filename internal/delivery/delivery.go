// Package delivery sends outbound messages through a provider and
// verifies the provider actually accepted them. Strategies form a
// ladder: a lightweight API call first, a full browser interaction
// only when the cheap call cannot produce decisive evidence.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agencybridge/sidecar/internal/creds"
	"github.com/agencybridge/sidecar/internal/logging"
)

// Strategy identifies how a delivery attempt was made.
type Strategy string

const (
	StrategyLightweight Strategy = "lightweight_call"
	StrategyFull        Strategy = "full_interaction"
)

// Outcome classifies a single attempt's evidence.
type Outcome string

const (
	// OutcomeConfirmed means the provider returned positive evidence of
	// the specific action (an identifier, or an authoritative UI state).
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeAmbiguous means the call succeeded but the evidence does
	// not prove the action happened (a bare acknowledgement).
	OutcomeAmbiguous Outcome = "ambiguous"
	// OutcomeFailed means the provider rejected the action.
	OutcomeFailed Outcome = "failed"
	// OutcomeSessionInvalid means the provider rejected the session
	// itself (401/403), not the action.
	OutcomeSessionInvalid Outcome = "session_invalid"
)

// Target is what to deliver and to whom.
type Target struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

// Attempt records one strategy execution for the result trail.
type Attempt struct {
	ID       string   `json:"id"`
	Strategy Strategy `json:"strategy"`
	Outcome  Outcome  `json:"outcome"`
	Evidence string   `json:"evidence,omitempty"`
}

// Result is the final verdict of a Deliver call.
type Result struct {
	Confirmed bool      `json:"confirmed"`
	Strategy  Strategy  `json:"strategy"`
	Detail    string    `json:"detail,omitempty"`
	Attempts  []Attempt `json:"attempts"`
}

// Endpoint describes a provider's lightweight send API and the policy
// for reading its responses. ConfirmField is provider-specific: the
// response field whose presence proves the action (e.g. a message id).
// AckFields are boolean acknowledgements that count only as ambiguous
// evidence.
type Endpoint struct {
	Provider     string
	URL          string
	Origin       string
	Referer      string
	ConfirmField string
	AckFields    []string
	ErrorFields  []string
}

// AgencyZoomSMS is the endpoint for AgencyZoom's text-message API.
func AgencyZoomSMS() Endpoint {
	return Endpoint{
		Provider:     "agencyzoom",
		URL:          "https://app.agencyzoom.com/integration/sms/send-text",
		Origin:       "https://app.agencyzoom.com",
		Referer:      "https://app.agencyzoom.com/messages/index",
		ConfirmField: "messageId",
		AckFields:    []string{"result", "success"},
		ErrorFields:  []string{"message", "error"},
	}
}

// SessionSource resolves and invalidates provider sessions.
// *creds.Service satisfies it.
type SessionSource interface {
	Session(ctx context.Context, provider string, forceRefresh bool) (*creds.Resolved, error)
	Invalidate(provider string)
}

// Workflow drives the provider's UI end to end as the escalation
// strategy. Its confirmation is authoritative: the UI either shows the
// failure state or it does not.
type Workflow interface {
	Run(ctx context.Context, target Target) (evidence string, err error)
}

// Verifier runs the strategy ladder for one provider endpoint.
type Verifier struct {
	sessions SessionSource
	endpoint Endpoint
	workflow Workflow
	client   *http.Client
}

// Option customizes a Verifier.
type Option func(*Verifier)

// WithHTTPClient overrides the client used for lightweight calls.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) { v.client = c }
}

// New builds a Verifier. workflow may be nil, in which case ambiguous
// or failed lightweight calls are reported as-is instead of escalating.
func New(sessions SessionSource, endpoint Endpoint, workflow Workflow, opts ...Option) *Verifier {
	v := &Verifier{
		sessions: sessions,
		endpoint: endpoint,
		workflow: workflow,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Deliver runs the ladder for one message. Strategies execute strictly
// in sequence. A session rejection (401/403) invalidates the cached
// session and retries the lightweight call exactly once with a fresh
// one; a second rejection fails the delivery rather than looping or
// escalating, since the full interaction would drive the same login.
func (v *Verifier) Deliver(ctx context.Context, target Target) (*Result, error) {
	phone, err := NormalizePhone(target.PhoneNumber)
	if err != nil {
		return nil, err
	}
	target.PhoneNumber = phone
	if strings.TrimSpace(target.Message) == "" {
		return nil, errors.New("message must not be empty")
	}

	res := &Result{Strategy: StrategyLightweight}

	attempt, err := v.lightweight(ctx, target, false)
	if err != nil {
		return nil, err
	}
	res.Attempts = append(res.Attempts, attempt)

	if attempt.Outcome == OutcomeSessionInvalid {
		logging.Warnf("[%s] session rejected, re-extracting once", v.endpoint.Provider)
		v.sessions.Invalidate(v.endpoint.Provider)

		attempt, err = v.lightweight(ctx, target, true)
		if err != nil {
			return nil, err
		}
		res.Attempts = append(res.Attempts, attempt)

		if attempt.Outcome == OutcomeSessionInvalid {
			res.Confirmed = false
			res.Detail = "session rejected after re-extraction"
			return res, nil
		}
	}

	switch attempt.Outcome {
	case OutcomeConfirmed:
		res.Confirmed = true
		res.Detail = attempt.Evidence
		return res, nil
	case OutcomeAmbiguous, OutcomeFailed:
		if v.workflow == nil {
			res.Confirmed = false
			res.Detail = attempt.Evidence
			return res, nil
		}
	}

	logging.Infof("[%s] %s lightweight call, escalating to full interaction",
		v.endpoint.Provider, attempt.Outcome)

	res.Strategy = StrategyFull
	full := Attempt{ID: uuid.NewString(), Strategy: StrategyFull}
	evidence, err := v.workflow.Run(ctx, target)
	if err != nil {
		full.Outcome = OutcomeFailed
		full.Evidence = err.Error()
		res.Attempts = append(res.Attempts, full)
		res.Detail = err.Error()
		return res, nil
	}
	full.Outcome = OutcomeConfirmed
	full.Evidence = evidence
	res.Attempts = append(res.Attempts, full)
	res.Confirmed = true
	res.Detail = evidence
	return res, nil
}

func (v *Verifier) lightweight(ctx context.Context, target Target, forceRefresh bool) (Attempt, error) {
	attempt := Attempt{ID: uuid.NewString(), Strategy: StrategyLightweight}

	resolved, err := v.sessions.Session(ctx, v.endpoint.Provider, forceRefresh)
	if err != nil {
		return attempt, fmt.Errorf("resolve session: %w", err)
	}
	session := resolved.Session

	body, err := json.Marshal(target)
	if err != nil {
		return attempt, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return attempt, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Cookie", session.CookieHeader())
	if session.CSRFToken != "" {
		req.Header.Set("X-CSRF-Token", session.CSRFToken)
	}
	if v.endpoint.Origin != "" {
		req.Header.Set("Origin", v.endpoint.Origin)
	}
	if v.endpoint.Referer != "" {
		req.Header.Set("Referer", v.endpoint.Referer)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		attempt.Outcome = OutcomeFailed
		attempt.Evidence = err.Error()
		return attempt, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		attempt.Outcome = OutcomeFailed
		attempt.Evidence = err.Error()
		return attempt, nil
	}

	attempt.Outcome, attempt.Evidence = v.classify(resp.StatusCode, raw)
	return attempt, nil
}

// classify reads a lightweight response into an outcome. Evidence is
// never upgraded: an acknowledgement without the confirm field stays
// ambiguous.
func (v *Verifier) classify(status int, raw []byte) (Outcome, string) {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return OutcomeSessionInvalid, fmt.Sprintf("status %d", status)
	}
	if status < 200 || status > 299 {
		return OutcomeFailed, fmt.Sprintf("status %d: %s", status, truncate(raw, 200))
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Some endpoints answer 200 with an HTML or text blob. A
		// success phrase in it is still not proof of the action.
		text := strings.ToLower(string(raw))
		if strings.Contains(text, "success") || strings.Contains(text, "sent") {
			return OutcomeAmbiguous, "non-JSON success response"
		}
		return OutcomeFailed, fmt.Sprintf("unreadable response: %s", truncate(raw, 200))
	}

	if v.endpoint.ConfirmField != "" {
		if val, ok := payload[v.endpoint.ConfirmField]; ok && nonEmpty(val) {
			return OutcomeConfirmed, fmt.Sprintf("%s=%v", v.endpoint.ConfirmField, val)
		}
	}

	for _, field := range v.endpoint.AckFields {
		val, ok := payload[field]
		if !ok {
			continue
		}
		if acked, isBool := val.(bool); isBool {
			if acked {
				return OutcomeAmbiguous, "acknowledged without identifier"
			}
			return OutcomeFailed, v.errorDetail(payload)
		}
	}

	return OutcomeFailed, v.errorDetail(payload)
}

func (v *Verifier) errorDetail(payload map[string]any) string {
	for _, field := range v.endpoint.ErrorFields {
		if val, ok := payload[field]; ok && nonEmpty(val) {
			return fmt.Sprintf("%v", val)
		}
	}
	return "provider rejected the request"
}

func nonEmpty(val any) bool {
	switch t := val.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case bool:
		return t
	default:
		return true
	}
}

func truncate(raw []byte, n int) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
