package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/repository"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// currentUser resolves the request's principal to a stored user. Returns
// nil without error when the request is unauthenticated or the principal
// has not been synced yet; reads treat that as "empty result", writes as
// a 401.
func currentUser(ctx context.Context, users *repository.UserRepository) (*model.User, error) {
	p := middleware.GetPrincipal(ctx)
	if p == nil {
		return nil, nil
	}
	u, err := users.GetByExternalID(ctx, p.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// requireUser is the write-path variant of currentUser: it writes the
// error response itself and returns nil when the caller may not proceed.
func requireUser(w http.ResponseWriter, r *http.Request, users *repository.UserRepository) *model.User {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return nil
	}
	u, err := users.GetByExternalID(r.Context(), p.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "unknown user, sync first")
		return nil
	}
	if err != nil {
		logger.Errorf("resolve user %s: %v", p.Subject, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	return u
}
