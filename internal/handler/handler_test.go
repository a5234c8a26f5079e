package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/hypest/internal/apperror"
	"github.com/sakif/hypest/internal/auth"
	"github.com/sakif/hypest/internal/handler"
	"github.com/sakif/hypest/internal/model"
	"github.com/sakif/hypest/internal/service"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

// MockCredentials implements Authenticator and CredentialEditor.
type MockCredentials struct {
	AuthUser string
	AuthErr  error

	CapturedRegister service.RegisterInput
	RegisterErr      error

	CapturedUpdates map[string]string
	Applied         []string
	UpdateErr       error
}

func (m *MockCredentials) Authenticate(_ context.Context, email, password string) (string, error) {
	return m.AuthUser, m.AuthErr
}

func (m *MockCredentials) Register(_ context.Context, in service.RegisterInput) (*model.UserCredential, error) {
	m.CapturedRegister = in
	if m.RegisterErr != nil {
		return nil, m.RegisterErr
	}
	return &model.UserCredential{ID: "cr7f9u2h5l", Username: in.Username}, nil
}

func (m *MockCredentials) ApplyUpdates(_ context.Context, username string, updates map[string]string) ([]string, error) {
	m.CapturedUpdates = updates
	return m.Applied, m.UpdateErr
}

// MockSessions implements SessionIssuer.
type MockSessions struct {
	Token         string
	IssueErr      error
	InvalidateErr error
	Invalidated   []string
}

func (m *MockSessions) Issue(_ context.Context, username string) (string, error) {
	return m.Token, m.IssueErr
}

func (m *MockSessions) Invalidate(_ context.Context, token string) error {
	m.Invalidated = append(m.Invalidated, token)
	return m.InvalidateErr
}

func (m *MockSessions) TTL() time.Duration { return time.Hour }

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.SessionCookie {
			return c
		}
	}
	return nil
}

// =========================================================================
// LOGIN / LOGOUT / ME
// =========================================================================

func TestSessionHandler_HandleLogin(t *testing.T) {
	token := strings.Repeat("ab", 32)

	t.Run("success sets cookie", func(t *testing.T) {
		h := handler.NewSessionHandler(&MockCredentials{AuthUser: "ada"}, &MockSessions{Token: token}, true, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"email":"ada@x.com","password":"p@ss1"}`))
		rr := httptest.NewRecorder()
		h.HandleLogin(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"code":1}`, rr.Body.String())

		c := sessionCookie(t, rr)
		require.NotNil(t, c)
		assert.Equal(t, token, c.Value)
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		assert.Equal(t, 3600, c.MaxAge)
	})

	// Every credential failure must produce the same bytes.
	var bodies []string
	for _, tc := range []struct {
		name string
		body string
		err  error
	}{
		{"unknown email", `{"email":"bob@x.com","password":"p"}`, apperror.NotFound("user", "bob@x.com")},
		{"wrong password", `{"email":"ada@x.com","password":"wrong"}`, apperror.Unauthorized("invalid credentials")},
		{"bad json", `{"email":`, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := handler.NewSessionHandler(&MockCredentials{AuthErr: tc.err}, &MockSessions{Token: token}, false, logger)

			rr := httptest.NewRecorder()
			h.HandleLogin(rr, httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(tc.body)))

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Nil(t, sessionCookie(t, rr))
			bodies = append(bodies, rr.Body.String())
		})
	}
	require.Len(t, bodies, 3)
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[0], bodies[2])
	assert.JSONEq(t, `{"code":0}`, bodies[0])

	t.Run("store down is 503", func(t *testing.T) {
		h := handler.NewSessionHandler(
			&MockCredentials{AuthErr: apperror.Unavailable("credential lookup", errors.New("dial tcp: refused"))},
			&MockSessions{}, false, logger)

		rr := httptest.NewRecorder()
		h.HandleLogin(rr, httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"email":"a@x","password":"p"}`)))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.NotContains(t, rr.Body.String(), "dial tcp")
	})

	t.Run("issue failure is 503", func(t *testing.T) {
		h := handler.NewSessionHandler(&MockCredentials{AuthUser: "ada"},
			&MockSessions{IssueErr: apperror.Unavailable("session insert", errors.New("disk full"))}, false, logger)

		rr := httptest.NewRecorder()
		h.HandleLogin(rr, httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"email":"a@x","password":"p"}`)))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Nil(t, sessionCookie(t, rr))
	})
}

func TestSessionHandler_HandleLogout(t *testing.T) {
	t.Run("with cookie", func(t *testing.T) {
		sessions := &MockSessions{}
		h := handler.NewSessionHandler(&MockCredentials{}, sessions, false, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
		req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: "tok"})
		rr := httptest.NewRecorder()
		h.HandleLogout(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, []string{"tok"}, sessions.Invalidated)
		c := sessionCookie(t, rr)
		require.NotNil(t, c)
		assert.Equal(t, -1, c.MaxAge)
	})

	t.Run("without cookie", func(t *testing.T) {
		sessions := &MockSessions{}
		h := handler.NewSessionHandler(&MockCredentials{}, sessions, false, logger)

		rr := httptest.NewRecorder()
		h.HandleLogout(rr, httptest.NewRequest(http.MethodPost, "/api/logout", nil))

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Empty(t, sessions.Invalidated)
	})

	t.Run("store down", func(t *testing.T) {
		sessions := &MockSessions{InvalidateErr: apperror.Unavailable("session delete", errors.New("x"))}
		h := handler.NewSessionHandler(&MockCredentials{}, sessions, false, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
		req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: "tok"})
		rr := httptest.NewRecorder()
		h.HandleLogout(rr, req)

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func TestSessionHandler_HandleMe(t *testing.T) {
	h := handler.NewSessionHandler(&MockCredentials{}, &MockSessions{}, false, logger)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req = req.WithContext(auth.WithUsername(req.Context(), "ada"))
	rr := httptest.NewRecorder()
	h.HandleMe(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"username":"ada"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	h.HandleMe(rr, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

// =========================================================================
// REGISTER / UPDATE
// =========================================================================

func TestUserHandler_HandleRegister(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		creds := &MockCredentials{}
		h := handler.NewUserHandler(creds, false, logger)

		body := `{"username":"ada","email":"ada@x.com","password":"p@ss1"}`
		rr := httptest.NewRecorder()
		h.HandleRegister(rr, httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(body)))

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.JSONEq(t, `{"id":"cr7f9u2h5l"}`, rr.Body.String())
		assert.Equal(t, service.RegisterInput{Username: "ada", Email: "ada@x.com", Password: "p@ss1"}, creds.CapturedRegister)
	})

	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantBody string
	}{
		{"duplicate", `{"username":"ada","email":"ada@x.com","password":"p"}`, apperror.Conflict("user", "ada"),
			http.StatusConflict, `{"code":"username already taken"}`},
		{"validation", `{"username":"","email":"ada@x.com","password":"p"}`, apperror.ValidationFailed("username", "bad username"),
			http.StatusBadRequest, `{"error":"validation_error","message":"bad username"}`},
		{"bad json", `not json`, nil,
			http.StatusBadRequest, `{"error":"validation_error","message":"request body must be a JSON object"}`},
		{"trailing data", `{"username":"ada"}{"username":"bob"}`, nil,
			http.StatusBadRequest, `{"error":"validation_error","message":"request body must contain a single JSON object"}`},
		{"store down", `{"username":"ada","email":"ada@x.com","password":"p"}`, apperror.Unavailable("credential insert", errors.New("x")),
			http.StatusServiceUnavailable, `{"error":"unavailable","message":"store unavailable during credential insert"}`},
		{"unexpected", `{"username":"ada","email":"ada@x.com","password":"p"}`, errors.New("boom"),
			http.StatusInternalServerError, `{"error":"internal_error","message":"An internal error occurred"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handler.NewUserHandler(&MockCredentials{RegisterErr: tt.err}, false, logger)

			rr := httptest.NewRecorder()
			h.HandleRegister(rr, httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.JSONEq(t, tt.wantBody, rr.Body.String())
		})
	}

	t.Run("oversized body", func(t *testing.T) {
		h := handler.NewUserHandler(&MockCredentials{}, false, logger)
		big := `{"username":"ada","email":"ada@x.com","password":"` + strings.Repeat("p", 64<<10) + `"}`

		rr := httptest.NewRecorder()
		h.HandleRegister(rr, httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewBufferString(big)))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

// patch routes through chi so {username} resolves.
func patch(h *handler.UserHandler, owner, target, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Patch("/api/users/{username}", h.HandleUpdate)

	req := httptest.NewRequest(http.MethodPatch, "/api/users/"+target, strings.NewReader(body))
	if owner != "" {
		req = req.WithContext(auth.WithUsername(req.Context(), owner))
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestUserHandler_HandleUpdate(t *testing.T) {
	t.Run("owner updates", func(t *testing.T) {
		creds := &MockCredentials{Applied: []string{"nickname", "password"}}
		h := handler.NewUserHandler(creds, false, logger)

		rr := patch(h, "ada", "ada", `{"nickname":"Countess","password":"n3w"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"updated":["nickname","password"]}`, rr.Body.String())
		assert.Equal(t, map[string]string{"nickname": "Countess", "password": "n3w"}, creds.CapturedUpdates)
		assert.Nil(t, sessionCookie(t, rr))
	})

	t.Run("someone else's account", func(t *testing.T) {
		creds := &MockCredentials{}
		h := handler.NewUserHandler(creds, false, logger)

		rr := patch(h, "bob", "ada", `{"nickname":"pwned"}`)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Nil(t, creds.CapturedUpdates, "service must not be called")
	})

	t.Run("delete clears cookie", func(t *testing.T) {
		h := handler.NewUserHandler(&MockCredentials{Applied: []string{"delete"}}, false, logger)

		rr := patch(h, "ada", "ada", `{"delete":""}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"updated":["delete"]}`, rr.Body.String())
		c := sessionCookie(t, rr)
		require.NotNil(t, c)
		assert.Equal(t, -1, c.MaxAge)
	})

	t.Run("non-string value", func(t *testing.T) {
		h := handler.NewUserHandler(&MockCredentials{}, false, logger)
		rr := patch(h, "ada", "ada", `{"nickname":42}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("conflict", func(t *testing.T) {
		h := handler.NewUserHandler(&MockCredentials{UpdateErr: apperror.Conflict("user", "ada")}, false, logger)
		rr := patch(h, "ada", "ada", `{"email":"bob@x.com"}`)
		assert.Equal(t, http.StatusConflict, rr.Code)

		var resp handler.ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "conflict", resp.Error)
	})
}

// =========================================================================
// HEALTH
// =========================================================================

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	handler.NewHealthHandler(pinger{}, time.Second, logger).HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	handler.NewHealthHandler(pinger{errors.New("down")}, time.Second, logger).HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
