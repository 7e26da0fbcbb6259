package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/repository"
)

type PresenceHandler struct {
	presenceRepo *repository.PresenceRepository
	convRepo     *repository.ConversationRepository
	userRepo     *repository.UserRepository
	feed         feed.Feed
}

func NewPresenceHandler(
	presenceRepo *repository.PresenceRepository,
	convRepo *repository.ConversationRepository,
	userRepo *repository.UserRepository,
	f feed.Feed,
) *PresenceHandler {
	return &PresenceHandler{presenceRepo: presenceRepo, convRepo: convRepo, userRepo: userRepo, feed: f}
}

// Heartbeat records that the caller is online right now. Clients send one
// every 30 seconds; a user whose heartbeats stop falls offline when the
// window elapses. Only an offline-to-online flip is announced.
func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	caller := requireUser(w, r, h.userRepo)
	if caller == nil {
		return
	}
	wasOnline, err := h.presenceRepo.Heartbeat(r.Context(), caller.ID, time.Now().UTC())
	if err != nil {
		logger.Errorf("heartbeat user=%s: %v", caller.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to record heartbeat")
		return
	}
	if !wasOnline {
		h.announce(r, caller.ID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetOffline marks the caller offline. Without a presence row it is a
// silent no-op.
func (h *PresenceHandler) SetOffline(w http.ResponseWriter, r *http.Request) {
	caller := requireUser(w, r, h.userRepo)
	if caller == nil {
		return
	}
	if err := h.presenceRepo.SetOffline(r.Context(), caller.ID, time.Now().UTC()); err != nil {
		logger.Errorf("set offline user=%s: %v", caller.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to set offline")
		return
	}
	h.announce(r, caller.ID)
	w.WriteHeader(http.StatusNoContent)
}

// announce publishes a presence flip to everyone sharing a conversation
// with the user.
func (h *PresenceHandler) announce(r *http.Request, userID string) {
	coMembers, err := h.convRepo.CoMemberIDs(r.Context(), userID)
	if err != nil {
		logger.Errorf("presence co-members user=%s: %v", userID, err)
		return
	}
	if len(coMembers) == 0 {
		return
	}
	ev := feed.Event{Type: feed.EventPresence, ActorID: userID, UserIDs: coMembers}
	if err := h.feed.Publish(r.Context(), ev); err != nil {
		logger.Errorf("publish presence user=%s: %v", userID, err)
	}
}

// GetPresence lists every presence row with the online state derived at
// read time. The stored flag alone is never trusted.
func (h *PresenceHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	caller, err := currentUser(r.Context(), h.userRepo)
	if err != nil {
		logger.Errorf("get presence: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if caller == nil {
		writeJSON(w, http.StatusOK, []model.PresenceView{})
		return
	}

	all, err := h.presenceRepo.GetAll(r.Context())
	if err != nil {
		logger.Errorf("get presence: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get presence")
		return
	}
	now := time.Now().UTC()
	views := make([]model.PresenceView, 0, len(all))
	for i := range all {
		views = append(views, model.PresenceView{
			Presence: all[i],
			IsOnline: all[i].IsOnline(now),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// GetUserPresence returns one user's derived presence, or null when the
// user has no presence row yet.
func (h *PresenceHandler) GetUserPresence(w http.ResponseWriter, r *http.Request) {
	caller, err := currentUser(r.Context(), h.userRepo)
	if err != nil {
		logger.Errorf("get user presence: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if caller == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	p, err := h.presenceRepo.GetByUserID(r.Context(), userID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		logger.Errorf("get user presence %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to get presence")
		return
	}
	writeJSON(w, http.StatusOK, model.PresenceView{Presence: *p, IsOnline: p.IsOnline(time.Now().UTC())})
}
