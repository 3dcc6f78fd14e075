package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agencybridge/sidecar/internal/browser"
	"github.com/agencybridge/sidecar/internal/cache"
	"github.com/agencybridge/sidecar/internal/config"
	"github.com/agencybridge/sidecar/internal/creds"
	"github.com/agencybridge/sidecar/internal/delivery"
	"github.com/agencybridge/sidecar/internal/extractor"
	"github.com/agencybridge/sidecar/internal/logging"
	"github.com/agencybridge/sidecar/internal/svc"
	"github.com/agencybridge/sidecar/internal/types"
)

func init() {
	logging.Disable()
}

type stubExtractor struct {
	session *extractor.Session
	err     error
	calls   int

	// failAfter delays err until that many calls have succeeded,
	// simulating a login that works once and then starts failing.
	failAfter int
}

func (s *stubExtractor) Extract(ctx context.Context) (*extractor.Session, error) {
	s.calls++
	if s.err != nil && s.calls > s.failAfter {
		return nil, s.err
	}
	return s.session, nil
}

func (s *stubExtractor) ForgetLastSession() {}

func testContext(t *testing.T, stub *stubExtractor) *svc.ServiceContext {
	t.Helper()
	store := cache.New()
	service := creds.NewService(store)
	service.Register("agencyzoom", stub, time.Hour)
	return &svc.ServiceContext{
		Config:    config.Default(),
		Cache:     store,
		Creds:     service,
		Refresher: creds.NewRefresher(service),
	}
}

func azSession() *extractor.Session {
	return &extractor.Session{
		Provider:  "agencyzoom",
		Cookies:   []browser.Cookie{{Name: "PHPSESSID", Value: "s1"}},
		CSRFToken: "csrf-9",
		CreatedAt: time.Now(),
	}
}

func newRouter(svcCtx *svc.ServiceContext) chi.Router {
	r := chi.NewRouter()
	r.Get("/health", HealthHandler(svcCtx))
	r.Post("/providers/{provider}/session", SessionHandler(svcCtx))
	r.Post("/cache/clear", CacheClearHandler(svcCtx))
	r.Post("/sms/send", SMSHandler(svcCtx))
	r.Post("/chat", ChatHandler(svcCtx))
	r.Get("/chat/status", ChatStatusHandler(svcCtx))
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router := newRouter(testContext(t, &stubExtractor{session: azSession()}))

	w := doJSON(t, router, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp types.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q", resp.Status)
	}
	if len(resp.Providers) != 1 || resp.Providers[0] != "agencyzoom" {
		t.Errorf("providers = %v", resp.Providers)
	}
}

func TestSessionEndpoint(t *testing.T) {
	stub := &stubExtractor{session: azSession()}
	router := newRouter(testContext(t, stub))

	w := doJSON(t, router, http.MethodPost, "/providers/agencyzoom/session", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp types.SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Provider != "agencyzoom" || resp.CSRFToken != "csrf-9" {
		t.Errorf("response = %+v", resp)
	}
	if resp.FromCache {
		t.Error("first resolution must not be from cache")
	}
	if _, ok := resp.Cookies["PHPSESSID"]; !ok {
		t.Errorf("session cookies = %v", resp.Cookies)
	}

	// Second call is served from cache.
	w = doJSON(t, router, http.MethodPost, "/providers/agencyzoom/session", "")
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.FromCache {
		t.Error("second resolution should be cached")
	}
	if stub.calls != 1 {
		t.Errorf("extractions = %d, want 1", stub.calls)
	}
}

func TestSessionForceRefresh(t *testing.T) {
	stub := &stubExtractor{session: azSession()}
	router := newRouter(testContext(t, stub))

	doJSON(t, router, http.MethodPost, "/providers/agencyzoom/session", "")
	w := doJSON(t, router, http.MethodPost, "/providers/agencyzoom/session?force_refresh=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if stub.calls != 2 {
		t.Errorf("extractions = %d, want 2", stub.calls)
	}
}

func TestSessionUnknownProvider(t *testing.T) {
	router := newRouter(testContext(t, &stubExtractor{session: azSession()}))

	w := doJSON(t, router, http.MethodPost, "/providers/nope/session", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSessionExtractionFailureMapsToStatus(t *testing.T) {
	stub := &stubExtractor{err: extractor.ErrLoginRejected}
	router := newRouter(testContext(t, stub))

	w := doJSON(t, router, http.MethodPost, "/providers/agencyzoom/session", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestCacheClear(t *testing.T) {
	stub := &stubExtractor{session: azSession()}
	svcCtx := testContext(t, stub)
	router := newRouter(svcCtx)

	doJSON(t, router, http.MethodPost, "/providers/agencyzoom/session", "")
	if svcCtx.Cache.Len() != 1 {
		t.Fatalf("cache len = %d", svcCtx.Cache.Len())
	}

	w := doJSON(t, router, http.MethodPost, "/cache/clear", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if svcCtx.Cache.Len() != 0 {
		t.Errorf("cache len after clear = %d", svcCtx.Cache.Len())
	}
}

func TestSMSEndpoint(t *testing.T) {
	stub := &stubExtractor{session: azSession()}
	svcCtx := testContext(t, stub)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messageId": "msg-1"}`))
	}))
	defer provider.Close()

	ep := delivery.AgencyZoomSMS()
	ep.URL = provider.URL
	svcCtx.Verifier = delivery.New(svcCtx.Creds, ep, nil)

	router := newRouter(svcCtx)
	w := doJSON(t, router, http.MethodPost, "/sms/send",
		`{"phoneNumber": "555-123-4567", "message": "hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp types.SMSResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Confirmed {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Attempts) != 1 || resp.Attempts[0].Outcome != "confirmed" {
		t.Errorf("attempts = %+v", resp.Attempts)
	}
}

func TestSMSReextractionFailureMapsToStatus(t *testing.T) {
	// The first login succeeds; the re-login forced by the provider's
	// 401 is rejected.
	stub := &stubExtractor{session: azSession(), err: extractor.ErrLoginRejected, failAfter: 1}
	svcCtx := testContext(t, stub)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer provider.Close()

	ep := delivery.AgencyZoomSMS()
	ep.URL = provider.URL
	svcCtx.Verifier = delivery.New(svcCtx.Creds, ep, nil)

	router := newRouter(svcCtx)
	w := doJSON(t, router, http.MethodPost, "/sms/send",
		`{"phoneNumber": "5551234567", "message": "hello"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503, body %s", w.Code, w.Body.String())
	}
	if stub.calls != 2 {
		t.Errorf("extractions = %d, want 2", stub.calls)
	}
}

func TestSMSUnconfigured(t *testing.T) {
	router := newRouter(testContext(t, &stubExtractor{session: azSession()}))

	w := doJSON(t, router, http.MethodPost, "/sms/send", `{"phoneNumber": "5551234567", "message": "x"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestChatDisabled(t *testing.T) {
	router := newRouter(testContext(t, &stubExtractor{session: azSession()}))

	w := doJSON(t, router, http.MethodPost, "/chat", `{"message": "hi"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/chat/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var status types.ChatStatusResponse
	json.Unmarshal(w.Body.Bytes(), &status)
	if status.Phase != "disabled" {
		t.Errorf("phase = %q", status.Phase)
	}
}
