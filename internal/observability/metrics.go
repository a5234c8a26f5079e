// Package observability owns the Prometheus registry and the counters the
// authentication flows report into.
//
// All methods are nil-safe: a nil *Metrics records nothing. Services and
// tests that do not care about metrics simply pass nil.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes. Kept coarse on purpose: the label never distinguishes an
// unknown email from a wrong password.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics is the application's metric set.
type Metrics struct {
	registry *prometheus.Registry

	logins              *prometheus.CounterVec
	registrations       *prometheus.CounterVec
	sessionsIssued      prometheus.Counter
	sessionValidations  *prometheus.CounterVec
	sessionsPruned      prometheus.Counter
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hypest",
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hypest",
			Name:      "registrations_total",
			Help:      "Registration attempts by outcome.",
		}, []string{"outcome"}),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hypest",
			Name:      "sessions_issued_total",
			Help:      "Sessions issued.",
		}),
		sessionValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hypest",
			Name:      "session_validations_total",
			Help:      "Session checks by result.",
		}, []string{"result"}),
		sessionsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hypest",
			Name:      "sessions_pruned_total",
			Help:      "Expired sessions deleted.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hypest",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hypest",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		m.logins,
		m.registrations,
		m.sessionsIssued,
		m.sessionValidations,
		m.sessionsPruned,
		m.httpRequests,
		m.httpRequestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Registration(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionIssued() {
	if m == nil {
		return
	}
	m.sessionsIssued.Inc()
}

// SessionValidation records "valid", "invalid" or "error".
func (m *Metrics) SessionValidation(result string) {
	if m == nil {
		return
	}
	m.sessionValidations.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionsPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsPruned.Add(float64(n))
}

// HTTPRequest records one finished request. route is the chi pattern
// ("/api/users/{username}"), never the raw path, to bound cardinality.
func (m *Metrics) HTTPRequest(route, method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, status).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
