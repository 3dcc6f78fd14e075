package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/agencybridge/sidecar/internal/chat"
	"github.com/agencybridge/sidecar/internal/httputil"
	"github.com/agencybridge/sidecar/internal/svc"
	"github.com/agencybridge/sidecar/internal/types"
)

// ChatHandler forwards a prompt to the chat widget and returns the
// settled reply. The first request pays the initialization cost if
// nobody called /chat/initialize beforehand.
func ChatHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svcCtx.Chat == nil {
			httputil.Unavailable(w, "chat proxy is disabled")
			return
		}

		var req types.ChatRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			httputil.ErrorWithCode(w, http.StatusBadRequest, "message must not be empty")
			return
		}

		if err := svcCtx.Chat.Initialize(r.Context()); err != nil {
			httputil.Unavailable(w, err.Error())
			return
		}

		reply, err := svcCtx.Chat.SendMessage(r.Context(), req.Message)
		if err != nil {
			if errors.Is(err, chat.ErrNotReady) {
				httputil.Unavailable(w, err.Error())
				return
			}
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.OkJSON(w, &types.ChatResponse{Reply: reply})
	}
}

// ChatInitializeHandler opens the widget session eagerly so the first
// real prompt does not pay the login cost.
func ChatInitializeHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svcCtx.Chat == nil {
			httputil.Unavailable(w, "chat proxy is disabled")
			return
		}
		if err := svcCtx.Chat.Initialize(r.Context()); err != nil {
			httputil.Unavailable(w, err.Error())
			return
		}
		httputil.OkJSON(w, svcCtx.Chat.Status())
	}
}

// ChatStatusHandler reports the widget session's phase.
func ChatStatusHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svcCtx.Chat == nil {
			httputil.OkJSON(w, &types.ChatStatusResponse{Phase: "disabled"})
			return
		}
		status := svcCtx.Chat.Status()
		httputil.OkJSON(w, &types.ChatStatusResponse{
			Phase:     string(status.Phase),
			LastError: status.LastError,
		})
	}
}
