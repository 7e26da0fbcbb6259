package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/repository"
)

type UserHandler struct {
	userRepo *repository.UserRepository
}

func NewUserHandler(userRepo *repository.UserRepository) *UserHandler {
	return &UserHandler{userRepo: userRepo}
}

// SyncUser creates or refreshes the caller's user row from token claims
// and returns the user id. Idempotent; clients call it on every sign-in.
func (h *UserHandler) SyncUser(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	id, err := h.userRepo.Sync(r.Context(), p.Subject, p.Name, p.Email, p.AvatarURL)
	if err != nil {
		logger.Errorf("sync user %s: %v", p.Subject, err)
		writeError(w, http.StatusInternalServerError, "failed to sync user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": id})
}

// GetCurrentUser returns the caller's user record, or null when the
// caller is unauthenticated or not yet synced.
func (h *UserHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r.Context(), h.userRepo)
	if err != nil {
		logger.Errorf("get current user: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if u == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// GetUsers lists every user except the caller. Unauthenticated callers
// get an empty list.
func (h *UserHandler) GetUsers(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r.Context(), h.userRepo)
	if err != nil {
		logger.Errorf("list users: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if u == nil {
		writeJSON(w, http.StatusOK, []model.UserPublic{})
		return
	}
	users, err := h.userRepo.ListAllExcept(r.Context(), u.ID)
	if err != nil {
		logger.Errorf("list users: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	out := make([]model.UserPublic, 0, len(users))
	for i := range users {
		out = append(out, users[i].ToPublic())
	}
	writeJSON(w, http.StatusOK, out)
}

// GetUser returns a single user by id.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	caller, err := currentUser(r.Context(), h.userRepo)
	if err != nil {
		logger.Errorf("get user: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if caller == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	id := chi.URLParam(r, "id")
	u, err := h.userRepo.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		logger.Errorf("get user %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, u.ToPublic())
}
