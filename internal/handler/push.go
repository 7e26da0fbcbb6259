package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/push"
	"github.com/chatsync/internal/repository"
)

type PushHandler struct {
	pushRepo *repository.PushRepository
	userRepo *repository.UserRepository
	sender   *push.Sender
}

func NewPushHandler(pushRepo *repository.PushRepository, userRepo *repository.UserRepository, sender *push.Sender) *PushHandler {
	return &PushHandler{pushRepo: pushRepo, userRepo: userRepo, sender: sender}
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Subscribe stores a browser push subscription for the caller. Upsert by
// endpoint, so re-subscribing rebinds the endpoint to the current user.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	caller := requireUser(w, r, h.userRepo)
	if caller == nil {
		return
	}
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint and keys (p256dh, auth) required")
		return
	}

	sub := &model.PushSubscription{
		ID:       uuid.New().String(),
		UserID:   caller.ID,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}
	if err := h.pushRepo.Save(r.Context(), sub); err != nil {
		logger.Errorf("save push subscription user=%s: %v", caller.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unsubscribe removes a stored subscription by endpoint.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	caller := requireUser(w, r, h.userRepo)
	if caller == nil {
		return
	}
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.pushRepo.DeleteByEndpoint(r.Context(), req.Endpoint); err != nil {
		logger.Errorf("delete push subscription user=%s: %v", caller.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PublicKey exposes the VAPID public key browsers need to subscribe.
// 503 when push is not configured.
func (h *PushHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	key := h.sender.PublicKey()
	if key == "" {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"vapid_public_key": key})
}
