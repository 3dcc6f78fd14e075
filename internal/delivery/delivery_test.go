package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agencybridge/sidecar/internal/browser"
	"github.com/agencybridge/sidecar/internal/creds"
	"github.com/agencybridge/sidecar/internal/extractor"
	"github.com/agencybridge/sidecar/internal/logging"
)

func init() {
	logging.Disable()
}

type fakeSessions struct {
	resolves    atomic.Int64
	invalidates atomic.Int64
	refreshes   atomic.Int64
}

func (f *fakeSessions) Session(ctx context.Context, provider string, forceRefresh bool) (*creds.Resolved, error) {
	f.resolves.Add(1)
	if forceRefresh {
		f.refreshes.Add(1)
	}
	return &creds.Resolved{Session: &extractor.Session{
		Provider:  provider,
		Cookies:   []browser.Cookie{{Name: "PHPSESSID", Value: "abc"}},
		CSRFToken: "csrf-1",
		CreatedAt: time.Now(),
	}}, nil
}

func (f *fakeSessions) Invalidate(provider string) {
	f.invalidates.Add(1)
}

type fakeWorkflow struct {
	runs     atomic.Int64
	evidence string
	err      error
}

func (f *fakeWorkflow) Run(ctx context.Context, target Target) (string, error) {
	f.runs.Add(1)
	return f.evidence, f.err
}

func testEndpoint(url string) Endpoint {
	ep := AgencyZoomSMS()
	ep.URL = url
	return ep
}

func TestDeliverConfirmedSkipsEscalation(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.Header.Get("Cookie"); got != "PHPSESSID=abc" {
			t.Errorf("Cookie header = %q", got)
		}
		if got := r.Header.Get("X-CSRF-Token"); got != "csrf-1" {
			t.Errorf("X-CSRF-Token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result": true, "messageId": "msg-42"}`))
	}))
	defer srv.Close()

	sessions := &fakeSessions{}
	wf := &fakeWorkflow{}
	v := New(sessions, testEndpoint(srv.URL), wf)

	res, err := v.Deliver(context.Background(), Target{PhoneNumber: "555-123-4567", Message: "hi"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !res.Confirmed {
		t.Fatal("expected confirmed result")
	}
	if res.Strategy != StrategyLightweight {
		t.Errorf("strategy = %s, want %s", res.Strategy, StrategyLightweight)
	}
	if wf.runs.Load() != 0 {
		t.Error("workflow ran despite confirmed lightweight call")
	}
	if calls.Load() != 1 {
		t.Errorf("HTTP calls = %d, want 1", calls.Load())
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Outcome != OutcomeConfirmed {
		t.Errorf("attempt trail = %+v", res.Attempts)
	}
}

func TestDeliverAmbiguousEscalates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result": true}`))
	}))
	defer srv.Close()

	sessions := &fakeSessions{}
	wf := &fakeWorkflow{evidence: "dialog completed"}
	v := New(sessions, testEndpoint(srv.URL), wf)

	res, err := v.Deliver(context.Background(), Target{PhoneNumber: "5551234567", Message: "hi"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !res.Confirmed {
		t.Fatal("expected full interaction to confirm")
	}
	if res.Strategy != StrategyFull {
		t.Errorf("strategy = %s, want %s", res.Strategy, StrategyFull)
	}
	if wf.runs.Load() != 1 {
		t.Errorf("workflow runs = %d, want 1", wf.runs.Load())
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("attempt trail = %+v", res.Attempts)
	}
	if res.Attempts[0].Outcome != OutcomeAmbiguous || res.Attempts[1].Outcome != OutcomeConfirmed {
		t.Errorf("attempt trail = %+v", res.Attempts)
	}
}

func TestDeliverSessionInvalidRetriesOnce(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messageId": "msg-7"}`))
	}))
	defer srv.Close()

	sessions := &fakeSessions{}
	wf := &fakeWorkflow{}
	v := New(sessions, testEndpoint(srv.URL), wf)

	res, err := v.Deliver(context.Background(), Target{PhoneNumber: "5551234567", Message: "hi"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !res.Confirmed {
		t.Fatal("expected confirmed result after refresh")
	}
	if sessions.invalidates.Load() != 1 {
		t.Errorf("invalidations = %d, want 1", sessions.invalidates.Load())
	}
	if sessions.refreshes.Load() != 1 {
		t.Errorf("forced refreshes = %d, want 1", sessions.refreshes.Load())
	}
	if calls.Load() != 2 {
		t.Errorf("HTTP calls = %d, want 2", calls.Load())
	}
}

func TestDeliverRepeatedRejectionFailsWithoutLoop(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	sessions := &fakeSessions{}
	wf := &fakeWorkflow{}
	v := New(sessions, testEndpoint(srv.URL), wf)

	res, err := v.Deliver(context.Background(), Target{PhoneNumber: "5551234567", Message: "hi"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.Confirmed {
		t.Fatal("expected failure")
	}
	if calls.Load() != 2 {
		t.Errorf("HTTP calls = %d, want exactly 2", calls.Load())
	}
	if sessions.invalidates.Load() != 1 {
		t.Errorf("invalidations = %d, want 1", sessions.invalidates.Load())
	}
	if wf.runs.Load() != 0 {
		t.Error("workflow should not run when credentials themselves are rejected")
	}
}

func TestDeliverRejectionEscalatesAndFullFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result": false, "message": "invalid recipient"}`))
	}))
	defer srv.Close()

	sessions := &fakeSessions{}
	wf := &fakeWorkflow{err: context.DeadlineExceeded}
	v := New(sessions, testEndpoint(srv.URL), wf)

	res, err := v.Deliver(context.Background(), Target{PhoneNumber: "5551234567", Message: "hi"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.Confirmed {
		t.Fatal("expected failure")
	}
	if res.Strategy != StrategyFull {
		t.Errorf("strategy = %s, want %s", res.Strategy, StrategyFull)
	}
	if res.Attempts[0].Evidence != "invalid recipient" {
		t.Errorf("lightweight evidence = %q", res.Attempts[0].Evidence)
	}
}

func TestDeliverNonJSONSuccessIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>Message sent successfully</html>"))
	}))
	defer srv.Close()

	sessions := &fakeSessions{}
	wf := &fakeWorkflow{evidence: "dialog completed"}
	v := New(sessions, testEndpoint(srv.URL), wf)

	res, err := v.Deliver(context.Background(), Target{PhoneNumber: "5551234567", Message: "hi"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.Attempts[0].Outcome != OutcomeAmbiguous {
		t.Errorf("outcome = %s, want %s", res.Attempts[0].Outcome, OutcomeAmbiguous)
	}
	if wf.runs.Load() != 1 {
		t.Errorf("workflow runs = %d, want 1", wf.runs.Load())
	}
}

func TestDeliverWithoutWorkflowReportsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	v := New(&fakeSessions{}, testEndpoint(srv.URL), nil)

	res, err := v.Deliver(context.Background(), Target{PhoneNumber: "5551234567", Message: "hi"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.Confirmed {
		t.Fatal("ambiguous must not be reported as confirmed")
	}
	if res.Strategy != StrategyLightweight {
		t.Errorf("strategy = %s", res.Strategy)
	}
}

func TestDeliverValidation(t *testing.T) {
	v := New(&fakeSessions{}, AgencyZoomSMS(), nil)

	if _, err := v.Deliver(context.Background(), Target{PhoneNumber: "no digits", Message: "hi"}); err == nil {
		t.Error("expected error for digit-free phone number")
	}
	if _, err := v.Deliver(context.Background(), Target{PhoneNumber: "5551234567", Message: "  "}); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"(555) 123-4567", "15551234567"},
		{"5551234567", "15551234567"},
		{"+1 555 123 4567", "15551234567"},
		{"44 20 7946 0958", "442079460958"},
	}
	for _, c := range cases {
		got, err := NormalizePhone(c.in)
		if err != nil {
			t.Fatalf("NormalizePhone(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", c.in, got, c.want)
		}
	}
	if _, err := NormalizePhone("---"); err == nil {
		t.Error("expected error for number without digits")
	}
}
