package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/agencybridge/sidecar/internal/extractor"
	"github.com/agencybridge/sidecar/internal/httputil"
	"github.com/agencybridge/sidecar/internal/svc"
	"github.com/agencybridge/sidecar/internal/types"
)

// SessionHandler resolves a provider session, extracting one if the
// cache has nothing fresh. ?force_refresh=true (or the JSON field)
// bypasses the cache.
func SessionHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.SessionRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if !svcCtx.Creds.Has(req.Provider) {
			httputil.NotFound(w, "unknown provider: "+req.Provider)
			return
		}

		resolved, err := svcCtx.Creds.Session(r.Context(), req.Provider, req.ForceRefresh)
		if err != nil {
			writeExtractionError(w, err)
			return
		}

		session := resolved.Session
		httputil.OkJSON(w, &types.SessionResponse{
			Provider:  session.Provider,
			Token:     session.Token,
			CSRFToken: session.CSRFToken,
			UserID:    session.UserID,
			Cookies:   session.SessionCookies(),
			FromCache: resolved.FromCache,
			CreatedAt: session.CreatedAt.UTC().Format(time.RFC3339),
			ExpiresAt: resolved.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
}

// CacheClearHandler drops every cached session. Used after a
// credential rotation or when a provider misbehaves.
func CacheClearHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providers := svcCtx.Creds.Providers()
		svcCtx.Creds.ClearAll()
		httputil.OkJSON(w, &types.ClearCacheResponse{Cleared: providers})
	}
}

// writeExtractionError maps typed extraction failures onto statuses: a
// missing secret or rejected login is the deployment's problem (503),
// anything else is ours (500).
func writeExtractionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, extractor.ErrCredentialsMissing),
		errors.Is(err, extractor.ErrLoginRejected):
		httputil.Unavailable(w, err.Error())
	case errors.Is(err, extractor.ErrFieldNotFound),
		errors.Is(err, extractor.ErrArtifactNotFound):
		httputil.ErrorWithCode(w, http.StatusBadGateway, err.Error())
	default:
		httputil.InternalError(w, err.Error())
	}
}
