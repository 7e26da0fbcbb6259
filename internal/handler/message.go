package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/push"
	"github.com/chatsync/internal/repository"
)

type MessageHandler struct {
	msgRepo      *repository.MessageRepository
	convRepo     *repository.ConversationRepository
	userRepo     *repository.UserRepository
	presenceRepo *repository.PresenceRepository
	reactRepo    *repository.ReactionRepository
	feed         feed.Feed
	pushSender   *push.Sender
}

func NewMessageHandler(
	msgRepo *repository.MessageRepository,
	convRepo *repository.ConversationRepository,
	userRepo *repository.UserRepository,
	presenceRepo *repository.PresenceRepository,
	reactRepo *repository.ReactionRepository,
	f feed.Feed,
	pushSender *push.Sender,
) *MessageHandler {
	return &MessageHandler{
		msgRepo:      msgRepo,
		convRepo:     convRepo,
		userRepo:     userRepo,
		presenceRepo: presenceRepo,
		reactRepo:    reactRepo,
		feed:         f,
		pushSender:   pushSender,
	}
}

type sendMessageRequest struct {
	Body string `json:"body"`
}

type toggleReactionRequest struct {
	Emoji string `json:"emoji"`
}

// SendMessage appends a message to a conversation the caller belongs to.
// The insert, the last-message marker and the typing reset commit together.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.SendMessage", time.Now())()
	caller := requireUser(w, r, h.userRepo)
	if caller == nil {
		return
	}
	conversationID := chi.URLParam(r, "id")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "body required")
		return
	}

	isMember, err := h.convRepo.IsMember(r.Context(), conversationID, caller.ID)
	if err != nil {
		logger.Errorf("send message membership conversation=%s: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}

	m := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       caller.ID,
		Body:           req.Body,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.msgRepo.Send(r.Context(), m); err != nil {
		logger.Errorf("send message conversation=%s user=%s: %v", conversationID, caller.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	memberIDs, err := h.convRepo.GetMemberIDs(r.Context(), conversationID)
	if err != nil {
		logger.Errorf("send message members conversation=%s: %v", conversationID, err)
		memberIDs = nil
	}

	h.publish(r, feed.Event{
		Type:           feed.EventMessageSent,
		ConversationID: conversationID,
		MessageID:      m.ID,
		ActorID:        caller.ID,
		UserIDs:        memberIDs,
	})
	h.notifyRecipients(caller, m, memberIDs)

	writeJSON(w, http.StatusOK, map[string]string{"message_id": m.ID})
}

const previewRuneLimit = 120

// truncatePreview shortens a message body for the push notification.
// Cuts on rune boundaries so multibyte characters are never split.
func truncatePreview(body string) string {
	runes := []rune(body)
	if len(runes) <= previewRuneLimit {
		return body
	}
	return string(runes[:previewRuneLimit-3]) + "..."
}

// notifyRecipients sends web push to every member except the sender.
func (h *MessageHandler) notifyRecipients(sender *model.User, m *model.Message, memberIDs []string) {
	if h.pushSender == nil {
		return
	}
	title := sender.Name
	if title == "" {
		title = "New message"
	}
	body := truncatePreview(m.Body)
	data := map[string]string{"conversation_id": m.ConversationID, "message_id": m.ID}
	for _, uid := range memberIDs {
		if uid == sender.ID {
			continue
		}
		uid := uid
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			h.pushSender.Notify(ctx, uid, title, body, data)
		}()
	}
}

// ListMessages returns the conversation's messages in creation order with
// senders, reaction tallies and, for the caller's own messages, the
// derived delivery status.
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.ListMessages", time.Now())()
	caller, err := currentUser(r.Context(), h.userRepo)
	if err != nil {
		logger.Errorf("list messages: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if caller == nil {
		writeJSON(w, http.StatusOK, []model.MessageView{})
		return
	}
	conversationID := chi.URLParam(r, "id")

	messages, err := h.msgRepo.ListByConversation(r.Context(), conversationID)
	if err != nil {
		logger.Errorf("list messages conversation=%s: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	views, err := h.buildViews(r.Context(), conversationID, caller.ID, messages)
	if err != nil {
		logger.Errorf("list messages views conversation=%s: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// buildViews enriches raw messages with reaction tallies and delivery
// status. Status applies only to the caller's own non-deleted messages.
func (h *MessageHandler) buildViews(ctx context.Context, conversationID, callerID string, messages []model.Message) ([]model.MessageView, error) {
	ids := make([]string, 0, len(messages))
	for i := range messages {
		ids = append(ids, messages[i].ID)
	}
	reactions, err := h.reactRepo.GetByMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	memberships, err := h.convRepo.GetMemberships(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	others := make([]model.Membership, 0, len(memberships))
	otherIDs := make([]string, 0, len(memberships))
	for _, ms := range memberships {
		if ms.UserID != callerID {
			others = append(others, ms)
			otherIDs = append(otherIDs, ms.UserID)
		}
	}
	presence, err := h.presenceRepo.GetByUserIDs(ctx, otherIDs)
	if err != nil {
		return nil, err
	}

	views := make([]model.MessageView, 0, len(messages))
	for i := range messages {
		m := messages[i]
		v := model.MessageView{
			Message:   m,
			Reactions: model.GroupReactions(reactions[m.ID]),
		}
		if m.SenderID == callerID && !m.Deleted {
			v.Status = model.ComputeStatus(&m, others, presence)
		}
		views = append(views, v)
	}
	return views, nil
}

// DeleteMessage soft-deletes the caller's own message: the row stays as a
// tombstone with an empty body. The conversation's last-message marker is
// not retargeted.
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	caller := requireUser(w, r, h.userRepo)
	if caller == nil {
		return
	}
	id := chi.URLParam(r, "id")

	m, err := h.msgRepo.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		logger.Errorf("delete message %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if m.SenderID != caller.ID {
		writeError(w, http.StatusForbidden, "can only delete own messages")
		return
	}

	if err := h.msgRepo.SoftDelete(r.Context(), id); err != nil {
		logger.Errorf("delete message %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}

	if memberIDs, err := h.convRepo.GetMemberIDs(r.Context(), m.ConversationID); err == nil {
		h.publish(r, feed.Event{
			Type:           feed.EventMessageDeleted,
			ConversationID: m.ConversationID,
			MessageID:      id,
			ActorID:        caller.ID,
			UserIDs:        memberIDs,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleReaction flips the caller's reaction on a message: present gets
// removed, absent gets added. A double click lands back where it started.
func (h *MessageHandler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	caller := requireUser(w, r, h.userRepo)
	if caller == nil {
		return
	}
	id := chi.URLParam(r, "id")

	var req toggleReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji required")
		return
	}

	m, err := h.msgRepo.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		logger.Errorf("toggle reaction message=%s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	added, err := h.reactRepo.Toggle(r.Context(), id, caller.ID, req.Emoji)
	if err != nil {
		logger.Errorf("toggle reaction message=%s user=%s: %v", id, caller.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to toggle reaction")
		return
	}

	if memberIDs, err := h.convRepo.GetMemberIDs(r.Context(), m.ConversationID); err == nil {
		h.publish(r, feed.Event{
			Type:           feed.EventReactionToggled,
			ConversationID: m.ConversationID,
			MessageID:      id,
			ActorID:        caller.ID,
			UserIDs:        memberIDs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]bool{"added": added})
}

// GetReactions returns the per-emoji tally for one message, ordered by
// first occurrence.
func (h *MessageHandler) GetReactions(w http.ResponseWriter, r *http.Request) {
	caller, err := currentUser(r.Context(), h.userRepo)
	if err != nil {
		logger.Errorf("get reactions: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if caller == nil {
		writeJSON(w, http.StatusOK, []model.ReactionGroup{})
		return
	}
	id := chi.URLParam(r, "id")

	reactions, err := h.reactRepo.GetByMessage(r.Context(), id)
	if err != nil {
		logger.Errorf("get reactions message=%s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to get reactions")
		return
	}
	groups := model.GroupReactions(reactions)
	if groups == nil {
		groups = []model.ReactionGroup{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *MessageHandler) publish(r *http.Request, ev feed.Event) {
	if err := h.feed.Publish(r.Context(), ev); err != nil {
		logger.Errorf("publish %s conversation=%s: %v", ev.Type, ev.ConversationID, err)
	}
}
