package handler

import (
	"net/http"
	"time"

	"github.com/agencybridge/sidecar/internal/httputil"
	"github.com/agencybridge/sidecar/internal/svc"
	"github.com/agencybridge/sidecar/internal/types"
)

const version = "1.0.0"

func HealthHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, &types.HealthResponse{
			Status:    "healthy",
			Version:   version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Providers: svcCtx.Creds.Providers(),
		})
	}
}
