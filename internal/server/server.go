// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It decides:
//   - which store backs the app (sqlite, postgres or memory)
//   - which URL patterns map to which handler functions
//   - what middleware runs on which routes
//   - how the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → store (SnippetStore + UserRepository)
//	             → cache.Cache (per-owner snapshots, fed by the store)
//	             → service.SnippetService (store + cache) → handler.SnippetHandler
//	             → service.AuthService (users + tokens + cache) → handler.AuthHandler
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes) rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/auth"
	"github.com/sakif/snippet-vault/internal/cache"
	"github.com/sakif/snippet-vault/internal/config"
	"github.com/sakif/snippet-vault/internal/handler"
	"github.com/sakif/snippet-vault/internal/metrics"
	"github.com/sakif/snippet-vault/internal/middleware"
	"github.com/sakif/snippet-vault/internal/repository"
	"github.com/sakif/snippet-vault/internal/repository/memory"
	"github.com/sakif/snippet-vault/internal/repository/postgres"
	sqliteRepo "github.com/sakif/snippet-vault/internal/repository/sqlite"
	"github.com/sakif/snippet-vault/internal/service"
)

const shutdownTimeout = 30 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Stores is the storage a Server runs on.
type Stores struct {
	Snippets repository.SnippetStore
	Users    repository.UserRepository
	// Close releases the backend. May be nil.
	Close func() error
}

// OpenStores opens the backend selected by cfg.Driver and runs its
// migrations.
//
// IMPORT ALIAS:
// repository/sqlite is imported as sqliteRepo so it isn't confused with the
// sqlite driver package.
func OpenStores(ctx context.Context, cfg config.StoreConfig) (*Stores, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		db, err := sqliteRepo.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Stores{Snippets: db, Users: db, Close: db.Close}, nil

	case config.DriverPostgres:
		store, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return &Stores{
			Snippets: store,
			Users:    store,
			Close:    func() error { store.Close(); return nil },
		}, nil

	case config.DriverMemory:
		return &Stores{Snippets: memory.New(nil), Users: memory.NewUsers(nil)}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns its stores. Start closes them after the HTTP server has
// drained, so no in-flight request loses its connection.
type Server struct {
	router   *chi.Mux
	config   config.Config
	logger   *slog.Logger
	stores   *Stores
	cache    *cache.Cache
	registry *prometheus.Registry
}

// New wires a Server on top of stores.
func New(cfg config.Config, stores *Stores, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		stores: stores,
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(s.registry)
	}

	s.cache = cache.New(stores.Snippets,
		cache.WithLogger(logger.With(slog.String("component", "cache"))),
		cache.WithMetrics(m),
	)

	if err := s.setupRoutes(m); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler returns the root handler. Tests drive it through httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                  → liveness (JSON)
//	GET    /metrics                  → Prometheus scrape endpoint (when enabled)
//	GET    /api/languages            → language registry
//	GET    /auth/github/login        → start GitHub OAuth
//	GET    /auth/github/callback     → finish GitHub OAuth, set session cookie
//	POST   /auth/logout              → drop cached snippets, clear cookie
//	GET    /api/me                   → signed-in user          (auth)
//	*      /api/snippets/...         → snippet API              (auth)
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: assigns an ID to each request (logged by Logger)
//  2. RealIP: extracts the client IP from proxy headers
//  3. Recoverer: turns panics into 500s
//  4. Logger: logs and records metrics for each request
func (s *Server) setupRoutes(m *metrics.Metrics) error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger, m))

	s.router.Get("/healthz", s.handleHealth)
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	s.router.Get("/api/languages", handler.HandleLanguages)

	snippetService := service.NewSnippetService(s.stores.Snippets, s.cache, s.logger,
		service.WithMetrics(m),
		service.WithObserver(service.LogObserver{Logger: s.logger}),
	)
	snippetHandler := handler.NewSnippetHandler(snippetService, s.logger)

	if !s.config.AuthEnabled() {
		s.logger.Warn("JWT secret not set: authentication is disabled and every snippet route answers 401")
		s.router.Route("/api/snippets", func(r chi.Router) {
			r.Use(rejectAll)
			snippetHandler.Routes(r)
		})
		return nil
	}

	tokens, err := auth.NewTokenService(s.config.Auth.JWTSecret)
	if err != nil {
		return err
	}
	provider := auth.NewGitHubProvider(
		s.config.Auth.GitHubClientID,
		s.config.Auth.GitHubClientSecret,
		s.config.Auth.GitHubCallbackURL,
	)
	accounts := service.NewAuthService(s.stores.Users, tokens, s.cache, s.logger)
	authHandler := handler.NewAuthHandler(provider, accounts, s.config.Auth.SecureCookies, s.logger)

	requireAuth := auth.RequireAuth(tokens, handler.WriteUnauthorized)

	s.router.Route("/auth", func(r chi.Router) {
		r.Get("/github/login", authHandler.HandleGitHubLogin)
		r.Get("/github/callback", authHandler.HandleGitHubCallback)
		r.With(auth.OptionalAuth(tokens)).Post("/logout", authHandler.HandleLogout)
	})

	s.router.With(requireAuth).Get("/api/me", authHandler.HandleMe)
	s.router.Route("/api/snippets", func(r chi.Router) {
		r.Use(requireAuth)
		snippetHandler.Routes(r)
	})

	return nil
}

func rejectAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.WriteUnauthorized(w, r, apperror.Unauthorized("authentication is not configured"))
	})
}

type healthResponse struct {
	Status       string `json:"status"`
	Store        string `json:"store"`
	CacheEntries int    `json:"cacheEntries"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp := healthResponse{Status: "ok", Store: s.config.Store.Driver, CacheEntries: s.cache.Len()}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode health response", slog.String("error", err.Error()))
	}
}

// Start starts the HTTP server and blocks until SIGINT/SIGTERM or ctx is
// cancelled.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the stores (flushes the sqlite WAL, releases the pg pool)
func (s *Server) Start(ctx context.Context) error {
	defer func() {
		if s.stores.Close == nil {
			return
		}
		if err := s.stores.Close(); err != nil {
			s.logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("store", s.config.Store.Driver),
			slog.Bool("auth", s.config.AuthEnabled()),
			slog.Bool("metrics", s.registry != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
