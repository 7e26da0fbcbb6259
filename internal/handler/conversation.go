package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/repository"
)

type ConversationHandler struct {
	convRepo *repository.ConversationRepository
	userRepo *repository.UserRepository
	msgRepo  *repository.MessageRepository
	feed     feed.Feed
}

func NewConversationHandler(
	convRepo *repository.ConversationRepository,
	userRepo *repository.UserRepository,
	msgRepo *repository.MessageRepository,
	f feed.Feed,
) *ConversationHandler {
	return &ConversationHandler{convRepo: convRepo, userRepo: userRepo, msgRepo: msgRepo, feed: f}
}

type createDirectRequest struct {
	UserID string `json:"user_id"`
}

type createGroupRequest struct {
	Name      string   `json:"name"`
	ImageURL  string   `json:"image_url"`
	MemberIDs []string `json:"member_ids"`
}

// GetOrCreateDirect returns the direct conversation between the caller and
// another user, creating it when the pair has none. Both call orders land
// on the same conversation.
func (h *ConversationHandler) GetOrCreateDirect(w http.ResponseWriter, r *http.Request) {
	caller := requireUser(w, r, h.userRepo)
	if caller == nil {
		return
	}
	var req createDirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.UserID == "" || req.UserID == caller.ID {
		writeError(w, http.StatusBadRequest, "user_id must name another user")
		return
	}
	if _, err := h.userRepo.GetByID(r.Context(), req.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		logger.Errorf("direct conversation lookup user=%s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	conv, created, err := h.convRepo.GetOrCreateDirect(r.Context(), caller.ID, req.UserID)
	if err != nil {
		logger.Errorf("get or create direct %s/%s: %v", caller.ID, req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	if created {
		h.publish(r, feed.Event{
			Type:           feed.EventConversationCreated,
			ConversationID: conv.ID,
			ActorID:        caller.ID,
			UserIDs:        []string{caller.ID, req.UserID},
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"conversation_id": conv.ID})
}

// CreateGroup creates a group conversation. The name must be non-empty and
// at least two other users must be invited.
func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	caller := requireUser(w, r, h.userRepo)
	if caller == nil {
		return
	}
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	others := make([]string, 0, len(req.MemberIDs))
	seen := map[string]struct{}{caller.ID: {}}
	for _, id := range req.MemberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		others = append(others, id)
	}
	if len(others) < 2 {
		writeError(w, http.StatusBadRequest, "at least 2 other members required")
		return
	}

	memberIDs := append([]string{caller.ID}, others...)
	conv, err := h.convRepo.CreateGroup(r.Context(), req.Name, req.ImageURL, memberIDs)
	if err != nil {
		logger.Errorf("create group %q by %s: %v", req.Name, caller.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create group")
		return
	}

	h.publish(r, feed.Event{
		Type:           feed.EventConversationCreated,
		ConversationID: conv.ID,
		ActorID:        caller.ID,
		UserIDs:        memberIDs,
	})
	writeJSON(w, http.StatusOK, map[string]string{"conversation_id": conv.ID})
}

// ListConversations builds the caller's conversation list: other members
// resolved, last message attached (deleted last messages stay visible as
// tombstones), unread count, newest activity first.
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.ListConversations", time.Now())()
	caller, err := currentUser(r.Context(), h.userRepo)
	if err != nil {
		logger.Errorf("list conversations: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if caller == nil {
		writeJSON(w, http.StatusOK, []model.ConversationSummary{})
		return
	}

	convs, err := h.convRepo.ListForUser(r.Context(), caller.ID)
	if err != nil {
		logger.Errorf("list conversations user=%s: %v", caller.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	summaries := make([]model.ConversationSummary, 0, len(convs))
	for i := range convs {
		s, err := h.buildSummary(r, &convs[i], caller.ID)
		if err != nil {
			// A conversation that fails to resolve is dropped, not an error.
			logger.Errorf("summary conversation=%s user=%s: %v", convs[i].ID, caller.ID, err)
			continue
		}
		summaries = append(summaries, *s)
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *ConversationHandler) buildSummary(r *http.Request, conv *model.Conversation, callerID string) (*model.ConversationSummary, error) {
	ctx := r.Context()
	others, err := h.otherMembers(r, conv.ID, callerID)
	if err != nil {
		return nil, err
	}

	var lastMsg *model.Message
	if conv.LastMessageID != nil {
		m, err := h.msgRepo.GetByID(ctx, *conv.LastMessageID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		lastMsg = m
	}

	unread, err := h.convRepo.UnreadCount(ctx, conv.ID, callerID)
	if err != nil {
		return nil, err
	}

	return &model.ConversationSummary{
		Conversation: *conv,
		OtherMembers: others,
		LastMessage:  lastMsg,
		UnreadCount:  unread,
	}, nil
}

func (h *ConversationHandler) otherMembers(r *http.Request, conversationID, callerID string) ([]model.UserPublic, error) {
	ctx := r.Context()
	memberIDs, err := h.convRepo.GetMemberIDs(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	otherIDs := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id != callerID {
			otherIDs = append(otherIDs, id)
		}
	}
	users, err := h.userRepo.GetByIDs(ctx, otherIDs)
	if err != nil {
		return nil, err
	}
	out := make([]model.UserPublic, 0, len(otherIDs))
	for _, id := range otherIDs {
		if u, ok := users[id]; ok {
			out = append(out, u.ToPublic())
		}
	}
	return out, nil
}

// GetConversation returns one conversation with its other members, or
// null when the caller has no membership. Membership is the authorization.
func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	caller, err := currentUser(r.Context(), h.userRepo)
	if err != nil {
		logger.Errorf("get conversation: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if caller == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	id := chi.URLParam(r, "id")
	isMember, err := h.convRepo.IsMember(r.Context(), id, caller.ID)
	if err != nil {
		logger.Errorf("get conversation %s membership: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !isMember {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	conv, err := h.convRepo.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		logger.Errorf("get conversation %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	others, err := h.otherMembers(r, id, caller.ID)
	if err != nil {
		logger.Errorf("get conversation %s members: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, model.ConversationView{Conversation: *conv, OtherMembers: others})
}

// MarkRead advances the caller's read cursor to now. Best effort: without
// a membership it is a silent no-op. The cursor never moves backwards.
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	caller := requireUser(w, r, h.userRepo)
	if caller == nil {
		return
	}
	id := chi.URLParam(r, "id")
	isMember, err := h.convRepo.IsMember(r.Context(), id, caller.ID)
	if err != nil {
		logger.Errorf("mark read %s membership: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !isMember {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.convRepo.MarkRead(r.Context(), id, caller.ID, time.Now().UTC()); err != nil {
		logger.Errorf("mark read conversation=%s user=%s: %v", id, caller.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}

	if memberIDs, err := h.convRepo.GetMemberIDs(r.Context(), id); err == nil {
		h.publish(r, feed.Event{
			Type:           feed.EventConversationRead,
			ConversationID: id,
			ActorID:        caller.ID,
			UserIDs:        memberIDs,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) publish(r *http.Request, ev feed.Event) {
	if err := h.feed.Publish(r.Context(), ev); err != nil {
		logger.Errorf("publish %s conversation=%s: %v", ev.Type, ev.ConversationID, err)
	}
}
