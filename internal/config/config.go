// Package config loads application configuration from environment variables.
//
// CONFIGURATION SOURCES (in order):
//  1. A .env file in the working directory, if present (godotenv — dev convenience)
//  2. Real environment variables (viper.AutomaticEnv — these win over .env)
//  3. Defaults registered below for everything that can safely default
//
// Secrets (the auth backend service key, the ORCID client secret, the
// researcher unlock code) have no defaults: when they are missing, the
// features that need them report a configuration error at the point of use
// rather than making a broken provider call.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the full application configuration.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	AuthBackend AuthBackendConfig
	ORCID       ORCIDConfig
	Rewards     RewardsConfig
}

type ServerConfig struct {
	Port         int
	Environment  string // "development" or "production" — controls Secure cookies
	PublicURL    string // public site URL, used to build OAuth redirect URIs
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Path string // SQLite file path, or ":memory:"
}

// AuthBackendConfig configures the managed-auth backend (the opaque
// session-store service). The service key is server-only and must never be
// exposed to a client.
type AuthBackendConfig struct {
	BaseURL    string
	PublicKey  string
	ServiceKey string
	JWTSecret  string // HMAC secret used to verify session access tokens
}

// ORCIDConfig holds the hand-rolled ORCID OAuth integration credentials.
// Both values are server-only.
type ORCIDConfig struct {
	ClientID     string
	ClientSecret string
}

type RewardsConfig struct {
	ReferralBonus        int64
	FeedbackBonus        int64
	ResearcherUnlockCode string
}

// Load reads configuration from the environment (and an optional .env file).
func Load() (*Config, error) {
	// Missing .env is fine — production sets real env vars.
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("PORT", 8080)
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("PUBLIC_SITE_URL", "http://localhost:8080")
	viper.SetDefault("DB_PATH", "data/ncsstat.db")
	viper.SetDefault("REFERRAL_BONUS", 20000)
	viper.SetDefault("FEEDBACK_BONUS", 10000)

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetInt("PORT"),
			Environment:  viper.GetString("ENVIRONMENT"),
			PublicURL:    viper.GetString("PUBLIC_SITE_URL"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Path: viper.GetString("DB_PATH"),
		},
		AuthBackend: AuthBackendConfig{
			BaseURL:    viper.GetString("AUTH_BACKEND_URL"),
			PublicKey:  viper.GetString("AUTH_BACKEND_PUBLIC_KEY"),
			ServiceKey: viper.GetString("AUTH_BACKEND_SERVICE_KEY"),
			JWTSecret:  viper.GetString("AUTH_JWT_SECRET"),
		},
		ORCID: ORCIDConfig{
			ClientID:     viper.GetString("ORCID_CLIENT_ID"),
			ClientSecret: viper.GetString("ORCID_CLIENT_SECRET"),
		},
		Rewards: RewardsConfig{
			ReferralBonus:        viper.GetInt64("REFERRAL_BONUS"),
			FeedbackBonus:        viper.GetInt64("FEEDBACK_BONUS"),
			ResearcherUnlockCode: viper.GetString("RESEARCHER_UNLOCK_CODE"),
		},
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("config: invalid PORT %d", cfg.Server.Port)
	}

	return cfg, nil
}

// IsProduction reports whether the server runs with production hardening
// (Secure cookies, generic error bodies).
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
