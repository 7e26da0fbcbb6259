package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/repository"
)

type TypingHandler struct {
	typingRepo *repository.TypingRepository
	convRepo   *repository.ConversationRepository
	userRepo   *repository.UserRepository
	feed       feed.Feed
}

func NewTypingHandler(
	typingRepo *repository.TypingRepository,
	convRepo *repository.ConversationRepository,
	userRepo *repository.UserRepository,
	f feed.Feed,
) *TypingHandler {
	return &TypingHandler{typingRepo: typingRepo, convRepo: convRepo, userRepo: userRepo, feed: f}
}

type setTypingRequest struct {
	IsTyping bool `json:"is_typing"`
}

// SetTyping upserts the caller's typing flag for a conversation. Last
// write wins, so a stale "false" arriving after a newer "true" simply
// overwrites; readers expire the flag after 3 seconds either way.
func (h *TypingHandler) SetTyping(w http.ResponseWriter, r *http.Request) {
	caller := requireUser(w, r, h.userRepo)
	if caller == nil {
		return
	}
	conversationID := chi.URLParam(r, "id")

	var req setTypingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	isMember, err := h.convRepo.IsMember(r.Context(), conversationID, caller.ID)
	if err != nil {
		logger.Errorf("set typing membership conversation=%s: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}

	if err := h.typingRepo.Set(r.Context(), conversationID, caller.ID, req.IsTyping, time.Now().UTC()); err != nil {
		logger.Errorf("set typing conversation=%s user=%s: %v", conversationID, caller.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to set typing")
		return
	}

	memberIDs, err := h.convRepo.GetMemberIDs(r.Context(), conversationID)
	if err == nil {
		recipients := make([]string, 0, len(memberIDs))
		for _, uid := range memberIDs {
			if uid != caller.ID {
				recipients = append(recipients, uid)
			}
		}
		if len(recipients) > 0 {
			ev := feed.Event{
				Type:           feed.EventTyping,
				ConversationID: conversationID,
				ActorID:        caller.ID,
				UserIDs:        recipients,
			}
			if err := h.feed.Publish(r.Context(), ev); err != nil {
				logger.Errorf("publish typing conversation=%s: %v", conversationID, err)
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTyping returns the users actively typing in a conversation, excluding
// the caller. Staleness is applied here at read time.
func (h *TypingHandler) GetTyping(w http.ResponseWriter, r *http.Request) {
	caller, err := currentUser(r.Context(), h.userRepo)
	if err != nil {
		logger.Errorf("get typing: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if caller == nil {
		writeJSON(w, http.StatusOK, []model.UserPublic{})
		return
	}
	conversationID := chi.URLParam(r, "id")

	states, err := h.typingRepo.GetByConversation(r.Context(), conversationID)
	if err != nil {
		logger.Errorf("get typing conversation=%s: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "failed to get typing")
		return
	}

	now := time.Now().UTC()
	activeIDs := make([]string, 0, len(states))
	for i := range states {
		if states[i].ActiveFor(caller.ID, now) {
			activeIDs = append(activeIDs, states[i].UserID)
		}
	}

	users, err := h.userRepo.GetByIDs(r.Context(), activeIDs)
	if err != nil {
		logger.Errorf("get typing users conversation=%s: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "failed to get typing")
		return
	}
	out := make([]model.UserPublic, 0, len(activeIDs))
	for _, id := range activeIDs {
		if u, ok := users[id]; ok {
			out = append(out, u.ToPublic())
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetAllActive lists every active typing row across conversations,
// excluding the caller's own.
func (h *TypingHandler) GetAllActive(w http.ResponseWriter, r *http.Request) {
	caller, err := currentUser(r.Context(), h.userRepo)
	if err != nil {
		logger.Errorf("get all typing: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if caller == nil {
		writeJSON(w, http.StatusOK, []model.TypingState{})
		return
	}

	states, err := h.typingRepo.GetAll(r.Context())
	if err != nil {
		logger.Errorf("get all typing: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get typing")
		return
	}
	now := time.Now().UTC()
	active := make([]model.TypingState, 0, len(states))
	for i := range states {
		if states[i].ActiveFor(caller.ID, now) {
			active = append(active, states[i])
		}
	}
	writeJSON(w, http.StatusOK, active)
}
