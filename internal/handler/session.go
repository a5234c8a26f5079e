package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/hypest/internal/apperror"
	"github.com/sakif/hypest/internal/auth"
)

// Authenticator checks an email/password pair. *service.CredentialManager
// satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (string, error)
}

// SessionIssuer creates and ends sessions. *service.SessionAuthority
// satisfies it.
type SessionIssuer interface {
	Issue(ctx context.Context, username string) (string, error)
	Invalidate(ctx context.Context, token string) error
	TTL() time.Duration
}

// SessionHandler handles login, logout and "who am I".
//
// HANDLER RESPONSIBILITIES:
//   - HandleLogin  → check credentials, issue a session, set the cookie
//   - HandleLogout → end the session, clear the cookie
//   - HandleMe     → return the session owner
type SessionHandler struct {
	creds        Authenticator
	sessions     SessionIssuer
	cookieSecure bool
	logger       *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(creds Authenticator, sessions SessionIssuer, cookieSecure bool, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		creds:        creds,
		sessions:     sessions,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse keeps the original client contract: 1 is success, 0 is
// failure.
type loginResponse struct {
	Code int `json:"code"`
}

// HandleLogin authenticates and starts a session.
//
// HTTP: POST /api/login
// REQUEST BODY: {"email": "ada@x.com", "password": "p@ss1"}
//
// WHY ONE 401 FOR EVERYTHING?
// "No such email" and "wrong password" get byte-identical responses.
// Anything else would let a client probe which emails are registered.
// A malformed body is also a credential failure from the client's view.
func (h *SessionHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusUnauthorized, loginResponse{Code: 0})
		return
	}

	username, err := h.creds.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) || errors.Is(err, apperror.ErrUnauthorized) {
			h.logger.InfoContext(r.Context(), "login rejected")
			writeJSON(w, http.StatusUnauthorized, loginResponse{Code: 0})
			return
		}
		writeError(w, r, h.logger, err)
		return
	}

	token, err := h.sessions.Issue(r.Context(), username)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	auth.SetSessionCookie(w, token, h.sessions.TTL(), h.cookieSecure)
	writeJSON(w, http.StatusOK, loginResponse{Code: 1})
}

// HandleLogout ends the current session, if any.
//
// HTTP: POST /api/logout
//
// Always 204 and always clears the cookie, even when there was no
// session: logging out an already logged-out browser is not an error.
func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil && cookie.Value != "" {
		if err := h.sessions.Invalidate(r.Context(), cookie.Value); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}

	auth.ClearSessionCookie(w, h.cookieSecure)
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe returns the username of the session owner.
//
// HTTP: GET /api/me (behind auth.RequireSession)
func (h *SessionHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	username, ok := auth.UsernameFromContext(r.Context())
	if !ok {
		// Only reachable if the route was mounted without RequireSession.
		w.WriteHeader(http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": username})
}
