package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/hypest/internal/apperror"
	"github.com/sakif/hypest/internal/auth"
	"github.com/sakif/hypest/internal/model"
	"github.com/sakif/hypest/internal/service"
)

// CredentialEditor registers and changes accounts. *service.CredentialManager
// satisfies it.
type CredentialEditor interface {
	Register(ctx context.Context, in service.RegisterInput) (*model.UserCredential, error)
	ApplyUpdates(ctx context.Context, username string, updates map[string]string) ([]string, error)
}

// UserHandler handles account creation and changes.
type UserHandler struct {
	creds        CredentialEditor
	cookieSecure bool
	logger       *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(creds CredentialEditor, cookieSecure bool, logger *slog.Logger) *UserHandler {
	return &UserHandler{creds: creds, cookieSecure: cookieSecure, logger: logger}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates an account.
//
// HTTP: POST /api/users
// REQUEST BODY: {"username": "ada", "email": "ada@x.com", "password": "p@ss1"}
//
// RESPONSES:
//
//	201 {"id": "..."}
//	400 validation error
//	409 {"code": "username already taken"} (username or email)
func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	cred, err := h.creds.Register(r.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			writeJSON(w, http.StatusConflict, map[string]string{"code": "username already taken"})
			return
		}
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": cred.ID})
}

// HandleUpdate applies {field: value} changes to the caller's own account.
//
// HTTP: PATCH /api/users/{username} (behind auth.RequireSession)
// REQUEST BODY: {"nickname": "Countess", "password": "n3w"} or {"delete": ""}
//
// Only the session owner may change an account. Values must be strings;
// unknown keys are ignored. A delete also clears the session cookie, since
// the session went with the account.
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "username")
	owner, ok := auth.UsernameFromContext(r.Context())
	if !ok || owner != target {
		writeError(w, r, h.logger, apperror.Forbidden("you can only change your own account"))
		return
	}

	var updates map[string]string
	if err := decodeJSON(w, r, &updates); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	applied, err := h.creds.ApplyUpdates(r.Context(), target, updates)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if len(applied) == 1 && applied[0] == service.FieldDelete {
		auth.ClearSessionCookie(w, h.cookieSecure)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"updated": applied})
}
