package handler

import (
	"errors"
	"net/http"

	"github.com/agencybridge/sidecar/internal/delivery"
	"github.com/agencybridge/sidecar/internal/extractor"
	"github.com/agencybridge/sidecar/internal/httputil"
	"github.com/agencybridge/sidecar/internal/svc"
	"github.com/agencybridge/sidecar/internal/types"
)

// SMSHandler sends a text through the delivery verifier. The response
// reports honestly whether the send was confirmed, and by which
// strategy.
func SMSHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svcCtx.Verifier == nil {
			httputil.Unavailable(w, "sms delivery is not configured")
			return
		}

		var req types.SMSRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}

		result, err := svcCtx.Verifier.Deliver(r.Context(), delivery.Target{
			PhoneNumber: req.PhoneNumber,
			Message:     req.Message,
		})
		if err != nil {
			writeDeliveryError(w, err)
			return
		}

		resp := &types.SMSResponse{
			Confirmed: result.Confirmed,
			Strategy:  string(result.Strategy),
			Detail:    result.Detail,
			Attempts:  make([]types.SMSAttempt, 0, len(result.Attempts)),
		}
		for _, a := range result.Attempts {
			resp.Attempts = append(resp.Attempts, types.SMSAttempt{
				ID:       a.ID,
				Strategy: string(a.Strategy),
				Outcome:  string(a.Outcome),
				Evidence: a.Evidence,
			})
		}
		httputil.OkJSON(w, resp)
	}
}

// writeDeliveryError separates extraction failures, surfaced when a
// delivery forces a re-login, from plain bad input.
func writeDeliveryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, extractor.ErrCredentialsMissing),
		errors.Is(err, extractor.ErrLoginRejected),
		errors.Is(err, extractor.ErrFieldNotFound),
		errors.Is(err, extractor.ErrArtifactNotFound):
		writeExtractionError(w, err)
	default:
		httputil.Error(w, err)
	}
}
