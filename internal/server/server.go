package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gatekit/gatekit/internal/auth"
	"github.com/gatekit/gatekit/internal/config"
	"github.com/gatekit/gatekit/internal/handler"
	"github.com/gatekit/gatekit/internal/model"
	"github.com/gatekit/gatekit/internal/server/middleware"
	"github.com/gatekit/gatekit/internal/store"
)

// Server is the top-level HTTP server for Gatekit. It owns the Chi router,
// the store, and the authentication services, and wires the guard pipeline
// declaratively per route group.
type Server struct {
	cfg        config.Config
	router     chi.Router
	store      *store.Store
	tokens     *auth.TokenService
	verifier   *auth.APIKeyVerifier
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg config.Config, st *store.Store, logger *slog.Logger) *Server {
	tokens := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  cfg.Auth.JWT.AccessSecret,
		RefreshSecret: cfg.Auth.JWT.RefreshSecret,
		AccessTTL:     cfg.Auth.JWT.AccessTTL,
		RefreshTTL:    cfg.Auth.JWT.RefreshTTL,
		Audience:      cfg.Auth.JWT.Audience,
		Issuer:        cfg.Auth.JWT.Issuer,
	})
	verifier := auth.NewAPIKeyVerifier(st, auth.VerifierConfig{
		Mode:               auth.CredentialMode(cfg.Auth.CredentialMode),
		KeyPrefix:          cfg.Auth.KeyPrefix,
		Passphrase:         cfg.Auth.EncryptionPassphrase,
		TimestampTolerance: cfg.Auth.TimestampTolerance,
	})

	s := &Server{
		cfg:      cfg,
		store:    st,
		tokens:   tokens,
		verifier: verifier,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

// Tokens exposes the token service, useful for tests and the CLI.
func (s *Server) Tokens() *auth.TokenService {
	return s.tokens
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "x-timestamp", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	sys := handler.NewSystemHandler(s.store, s.tokens, s.cfg.Auth.KeyPrefix, s.cfg.Auth.JWT.AccessTTL)

	// --- API routes: the guard pipeline ---
	// Order per protected route: timestamp → api-key → access token →
	// role-type allow-list → ability check → resource guards. Each group
	// opts into the subset it needs.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.cfg.Server.RateLimitPerMinute))
		if s.cfg.Auth.RequireTimestamp {
			r.Use(middleware.Timestamp(s.cfg.Auth.TimestampTolerance))
		}
		r.Use(middleware.APIKey(s.verifier, s.cfg.Auth.SecureMode()))

		// Machine-to-machine: a verified API key is sufficient.
		r.Get("/identity", sys.Identity)

		r.Route("/system", func(r chi.Router) {
			// Session endpoints are credential-authenticated themselves.
			r.Post("/user/login", sys.Login)
			r.Post("/user/refresh", sys.Refresh)

			// Everything else needs a user with an admin-class role.
			r.Group(func(r chi.Router) {
				r.Use(middleware.AccessToken(s.tokens))
				r.Use(middleware.RequireRoleTypes(model.RoleAdmin))

				// API key management
				r.With(policy(auth.SubjectAPIKey, auth.ActionRead)).
					Get("/api-key", sys.ListAPIKeys)
				r.With(policy(auth.SubjectAPIKey, auth.ActionCreate)).
					Post("/api-key", sys.CreateAPIKey)
				r.Route("/api-key/{keyID}", func(r chi.Router) {
					r.Use(middleware.LoadAPIKeyParam(s.store))
					r.With(policy(auth.SubjectAPIKey, auth.ActionRead)).
						Get("/", sys.GetAPIKey)
					r.With(policy(auth.SubjectAPIKey, auth.ActionUpdate)).
						Patch("/reset", sys.ResetAPIKey)
					r.With(policy(auth.SubjectAPIKey, auth.ActionUpdate)).
						Patch("/active", sys.ActivateAPIKey)
					r.With(policy(auth.SubjectAPIKey, auth.ActionUpdate)).
						Patch("/inactive", sys.DeactivateAPIKey)
					r.With(policy(auth.SubjectAPIKey, auth.ActionUpdate)).
						Put("/date", sys.UpdateAPIKeyDates)
					r.With(policy(auth.SubjectAPIKey, auth.ActionDelete)).
						Delete("/", sys.DeleteAPIKey)
				})

				// Role management
				r.With(policy(auth.SubjectRole, auth.ActionRead)).
					Get("/role", sys.ListRoles)
				r.With(policy(auth.SubjectRole, auth.ActionCreate)).
					Post("/role", sys.CreateRole)
				r.Route("/role/{roleName}", func(r chi.Router) {
					r.Use(middleware.LoadRoleParam(s.store))
					r.With(policy(auth.SubjectRole, auth.ActionRead)).
						Get("/", sys.GetRole)
					r.With(policy(auth.SubjectRole, auth.ActionUpdate)).
						Put("/", sys.UpdateRole)
					r.With(policy(auth.SubjectRole, auth.ActionUpdate)).
						Put("/permissions", sys.SetRolePermissions)
					r.With(policy(auth.SubjectRole, auth.ActionDelete)).
						Delete("/", sys.DeleteRole)
				})

				// User management
				r.With(policy(auth.SubjectUser, auth.ActionRead)).
					Get("/user", sys.ListUsers)
				r.With(policy(auth.SubjectUser, auth.ActionCreate)).
					Post("/user", sys.CreateUser)
			})
		})
	})

	s.router = r
}

// policy declares a single-group ability requirement for a route.
func policy(subject auth.Subject, actions ...auth.Action) func(http.Handler) http.Handler {
	return middleware.RequirePolicy(auth.Requirement{Subject: subject, Actions: actions})
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store is
// reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received, then drains in-flight requests before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
