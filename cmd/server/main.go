// Package main is the entry point for the ncsStat auth and session server.
//
// main stays minimal: build the logger, load configuration, create the
// server, run it. Everything else lives in internal/.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ncsstat/ncsstat/internal/config"
	"github.com/ncsstat/ncsstat/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if cfg.AuthBackend.JWTSecret == "" {
		logger.Error("AUTH_JWT_SECRET must be set; generate one with: openssl rand -hex 32")
		os.Exit(1)
	}
	if cfg.ORCID.ClientID == "" || cfg.ORCID.ClientSecret == "" {
		logger.Warn("ORCID credentials not set — ORCID login will be unavailable")
	}

	// The SQLite file lives under a data directory; create it up front so
	// the driver doesn't fail on first open.
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("path", cfg.Database.Path),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
