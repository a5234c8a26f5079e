package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/hypest/internal/observability"
)

// Metrics records a request counter and latency histogram per route.
//
// The route label is chi's pattern ("/api/users/{username}"), not the raw
// path, so usernames never become label values. Unmatched requests are
// grouped under "unmatched".
func Metrics(m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrap(w)

			next.ServeHTTP(wrapped, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			m.HTTPRequest(route, r.Method, strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}
