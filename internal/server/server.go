// Package server wires the application together: router, middleware, and
// the full dependency chain from database to handlers.
//
// main.go stays minimal; this package is the composition root. Each layer
// receives only what it needs — services get repository interfaces, handlers
// get services, nothing below the handler layer touches HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/ncsstat/ncsstat/internal/authbackend"
	"github.com/ncsstat/ncsstat/internal/callback"
	"github.com/ncsstat/ncsstat/internal/config"
	"github.com/ncsstat/ncsstat/internal/handler"
	"github.com/ncsstat/ncsstat/internal/ledger"
	"github.com/ncsstat/ncsstat/internal/middleware"
	"github.com/ncsstat/ncsstat/internal/orcid"
	sqliteRepo "github.com/ncsstat/ncsstat/internal/repository/sqlite"
	"github.com/ncsstat/ncsstat/internal/service"
	"github.com/ncsstat/ncsstat/internal/session"
)

// bootstrapRateLimit caps profile-creation attempts per client IP.
const (
	bootstrapRateLimit  = 5
	bootstrapRateWindow = time.Minute
)

// Server owns the router and the database handle. The database is closed
// during graceful shutdown.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New assembles the dependency chain and registers all routes.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

func (s *Server) setupRoutes() error {
	secure := s.cfg.IsProduction()

	// === Global middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	// === Auth infrastructure ===
	tokens, err := authbackend.NewTokenService(s.cfg.AuthBackend.JWTSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	backend := authbackend.NewHTTPClient(s.cfg.AuthBackend.BaseURL, s.cfg.AuthBackend.PublicKey, s.logger)
	orcidClient := orcid.New(s.cfg.ORCID.ClientID, s.cfg.ORCID.ClientSecret, s.logger)
	machine := callback.NewMachine(backend, s.logger)

	// === Services ===
	led := ledger.New(s.db, s.db, s.logger)
	rewards := service.NewRewardService(led, s.db, s.cfg.Rewards.ReferralBonus, s.cfg.Rewards.FeedbackBonus, s.logger)
	profiles := service.NewProfileService(s.db, s.db, s.db, rewards, s.cfg.Rewards.ResearcherUnlockCode, s.logger)

	resolver := session.NewResolver(tokens, s.db)

	// === Handlers ===
	orcidHandler := handler.NewORCIDHandler(orcidClient, profiles, s.cfg.Server.PublicURL, secure, s.logger)
	callbackHandler := handler.NewCallbackHandler(machine, tokens, secure, s.logger)
	sessionHandler := handler.NewSessionHandler(backend, tokens, resolver, secure, s.logger)
	profileHandler := handler.NewProfileHandler(profiles, rewards, secure, s.logger)
	ledgerHandler := handler.NewLedgerHandler(led, s.logger)

	// === Auth routes (browser-facing, redirect-based) ===
	s.router.Get("/auth/orcid/login", orcidHandler.HandleLogin)
	s.router.Get("/auth/orcid/callback", orcidHandler.HandleCallback)
	s.router.Get("/auth/callback", callbackHandler.HandleCallback)
	s.router.Post("/auth/logout", sessionHandler.HandleLogout)

	// === API routes (JSON) ===
	s.router.Route("/api", func(r chi.Router) {
		// Identity creation is a standing abuse target.
		r.With(httprate.Limit(
			bootstrapRateLimit, bootstrapRateWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		)).Post("/auth/orcid-profile", profileHandler.HandleBootstrap)

		r.Get("/refresh-session", sessionHandler.HandleRefreshSession)
		r.Post("/refresh-session", sessionHandler.HandleRefreshSession)

		r.Group(func(r chi.Router) {
			r.Use(session.RequireUser(resolver))
			r.Get("/me", sessionHandler.HandleMe)
			r.Get("/balance", ledgerHandler.HandleBalance)
			r.Post("/check-balance", ledgerHandler.HandleCheckBalance)
			r.Post("/unlock-researcher", profileHandler.HandleUnlockResearcher)
			r.Post("/feedback-reward", profileHandler.HandleFeedbackReward)
		})
	})

	return nil
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully: stop accepting connections, drain in-flight requests (30s),
// close the database.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Server.Port),
			slog.String("environment", s.cfg.Server.Environment),
			slog.String("database", s.cfg.Database.Path),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
