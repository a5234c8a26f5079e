// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware and
// routes, and decides how the server starts and stops.
//
// DEPENDENCY INJECTION FLOW:
// cmd/server creates:
//
//	config.Config → OpenStore → repository.Store
//	              → OpenLimiter → middleware.Limiter (optional)
//
// New() then builds:
//
//	Store → SessionAuthority ─┐
//	      → CredentialManager ┴→ handlers → routes
//
// This is the "composition root" pattern: every dependency is wired in one
// place, nothing reaches for a global.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/hypest/internal/auth"
	"github.com/sakif/hypest/internal/config"
	"github.com/sakif/hypest/internal/handler"
	"github.com/sakif/hypest/internal/middleware"
	"github.com/sakif/hypest/internal/observability"
	"github.com/sakif/hypest/internal/repository"
	"github.com/sakif/hypest/internal/service"
)

// shutdownTimeout is how long in-flight requests get to finish.
const shutdownTimeout = 30 * time.Second

// Deps are the long-lived resources the server is built from. The caller
// opens them; Start closes Store on the way out.
type Deps struct {
	Store   repository.Store
	Limiter middleware.Limiter     // nil disables rate limiting
	Metrics *observability.Metrics // nil disables /metrics
	Hasher  *auth.PasswordHasher
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store and the session janitor. Start stops the
// janitor and closes the store once the HTTP server has drained.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	store   repository.Store
	janitor *service.SessionJanitor
}

// New creates a Server with every route wired.
func New(cfg config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if deps.Hasher == nil {
		h, err := auth.NewPasswordHasher(cfg.Argon2)
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
		deps.Hasher = h
	}

	sessions := service.NewSessionAuthority(deps.Store, service.SessionOptions{
		TTL:          cfg.SessionTTL,
		StoreTimeout: cfg.StoreTimeout,
	}, deps.Metrics, logger.With(slog.String("component", "sessions")))

	creds := service.NewCredentialManager(deps.Store, sessions, deps.Hasher, cfg.StoreTimeout,
		deps.Metrics, logger.With(slog.String("component", "credentials")))

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		store:   deps.Store,
		janitor: service.NewSessionJanitor(sessions, cfg.SessionPruneInterval, logger.With(slog.String("component", "janitor"))),
	}
	s.setupRoutes(creds, sessions, deps)
	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	POST   /api/users              → register            (rate limited)
//	POST   /api/login              → login, sets SESSID  (rate limited)
//	POST   /api/logout             → logout
//	GET    /api/me                 → session owner       (session)
//	PATCH  /api/users/{username}   → change own account  (session)
//	GET    /healthz                → store ping
//	GET    /metrics                → Prometheus
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: unique ID per request, picked up by the logger
//  2. RealIP: client IP from proxy headers, used by the rate limiter
//  3. Recoverer: a panic becomes a 500 instead of a crash
//  4. Logger, Metrics: see the final status
func (s *Server) setupRoutes(creds *service.CredentialManager, sessions *service.SessionAuthority, deps Deps) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics(deps.Metrics))

	sessionHandler := handler.NewSessionHandler(creds, sessions, s.config.CookieSecure, s.logger)
	userHandler := handler.NewUserHandler(creds, s.config.CookieSecure, s.logger)
	healthHandler := handler.NewHealthHandler(s.store, s.config.StoreTimeout, s.logger)

	limited := middleware.RateLimit(deps.Limiter, s.config.RateLimit, s.logger)
	requireSession := auth.RequireSession(sessions)

	s.router.Route("/api", func(r chi.Router) {
		r.With(limited).Post("/users", userHandler.HandleRegister)
		r.With(limited).Post("/login", sessionHandler.HandleLogin)
		r.Post("/logout", sessionHandler.HandleLogout)

		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Get("/me", sessionHandler.HandleMe)
			r.Patch("/users/{username}", userHandler.HandleUpdate)
		})
	})

	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", deps.Metrics.Handler())
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Stop the session janitor
//  4. Close the store
func (s *Server) Start() error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("closing store", slog.Any("error", err))
		}
	}()

	s.janitor.Start()
	defer s.janitor.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("env", s.config.Env),
			slog.String("store", s.config.DBDriver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
