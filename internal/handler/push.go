package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/madisonstylee/thetidytoad-sub000/internal/auth"
	"github.com/madisonstylee/thetidytoad-sub000/internal/notify"
	"github.com/madisonstylee/thetidytoad-sub000/internal/store"
)

type PushHandler struct {
	subs    *store.PushStore
	webpush *notify.WebPushDispatcher
	logger  *slog.Logger
}

// NewPushHandler creates the push subscription handler. webpush may be nil
// when VAPID keys are not configured; subscription endpoints then 404.
func NewPushHandler(subs *store.PushStore, webpush *notify.WebPushDispatcher, logger *slog.Logger) *PushHandler {
	return &PushHandler{subs: subs, webpush: webpush, logger: logger}
}

func (h *PushHandler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if h.webpush == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "push not configured"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.webpush.VAPIDPublicKey()})
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if h.webpush == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "push not configured"})
		return
	}

	actor, _ := auth.ActorFromContext(r.Context())

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "endpoint and keys are required"})
		return
	}

	sub, err := h.subs.Create(string(actor.Role), actor.ID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth)
	if err != nil {
		h.logger.Error("create push subscription", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to subscribe"})
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := h.subs.DeleteByEndpoint(req.Endpoint); err != nil {
		h.logger.Error("delete push subscription", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to unsubscribe"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}
