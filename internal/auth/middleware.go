package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sakif/hypest/internal/apperror"
)

// SessionCookie is the cookie carrying the raw session token.
const SessionCookie = "SESSID"

// contextKey is an unexported type used for context keys in this package.
// Only this package can create a key of type contextKey, so only this
// package can read or write the username stored in the request context.
type contextKey string

const usernameKey contextKey = "username"

// SessionValidator resolves a presented token to the username it
// authenticates. service.SessionAuthority implements it.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (string, error)
}

// RequireSession gates protected routes on a valid SESSID cookie.
//
// A missing, malformed, unknown or expired token gets 403 with an EMPTY body
// and the chain stops. The response never says which of those it was. A store
// outage is not the client's fault, so it gets 503 instead.
func RequireSession(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				w.WriteHeader(http.StatusForbidden)
				return
			}

			username, err := sessions.Validate(r.Context(), cookie.Value)
			if err != nil {
				if errors.Is(err, apperror.ErrUnavailable) {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				w.WriteHeader(http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), usernameKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UsernameFromContext returns the session owner set by RequireSession.
// Returns ("", false) outside a protected route.
func UsernameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(usernameKey).(string)
	return name, ok && name != ""
}

// WithUsername stores username the way RequireSession does. Handlers' tests
// use it to fake an authenticated request.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey, username)
}

// SetSessionCookie hands the raw token to the browser.
//
// HttpOnly keeps it away from page scripts; SameSite=Lax keeps it off
// cross-site POSTs. Secure is configurable so local HTTP development works.
func SetSessionCookie(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie tells the browser to drop the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
