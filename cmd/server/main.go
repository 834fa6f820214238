// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

// Package main is the entry point for the Libratlas registry server.
//
// Libratlas is a library registry: libraries register themselves by
// pointing the registry at their OPDS authentication document, describe
// the geographic areas they serve, and clients discover libraries by
// name or by location through OPDS 2.0 catalog feeds.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults, config file, environment (Koanf v2)
//  2. Database: PostgreSQL with PostGIS for service-area geometry
//  3. Authentication: JWT, Basic Auth, or no-auth mode for the admin API
//  4. Registration pipeline: auth document fetcher (circuit breaker),
//     place resolution, contact validation
//  5. HTTP Server: OPDS feeds, registration protocol, admin API
//
// All long-running components run under a suture supervisor tree so a
// crash in one restarts it without taking the process down.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config file (config.yaml),
// built-in defaults.
//
// Required in production:
//   - DATABASE_URL: PostgreSQL DSN (PostGIS and fuzzystrmatch required)
//   - PUBLIC_URL: base URL advertised in feeds
//   - JWT_SECRET: 32+ character secret (AUTH_MODE=jwt, the default)
//   - ADMIN_USERNAME / ADMIN_PASSWORD: bootstrap admin credentials
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: it stops
// accepting connections, waits up to 10s for in-flight requests, then
// closes the database pool.
//
// # Port 4326
//
// The default port 4326 references EPSG:4326 (WGS 84), the coordinate
// system service areas are stored in.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/libratlas/libratlas/internal/api"
	"github.com/libratlas/libratlas/internal/auth"
	"github.com/libratlas/libratlas/internal/config"
	"github.com/libratlas/libratlas/internal/database"
	"github.com/libratlas/libratlas/internal/logging"
	"github.com/libratlas/libratlas/internal/opds"
	"github.com/libratlas/libratlas/internal/registration"
	"github.com/libratlas/libratlas/internal/supervisor"
	"github.com/libratlas/libratlas/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("public_url", cfg.Server.PublicURL).
		Str("auth_mode", cfg.Security.AuthMode).
		Msg("Starting Libratlas registry")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, &cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized")

	// Bootstrap the admin account so the admin API is usable on a fresh
	// install.
	if cfg.Security.AdminUsername != "" && cfg.Security.AdminPassword != "" {
		hash, err := auth.HashPassword(cfg.Security.AdminPassword)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to hash admin password")
		}
		if err := db.EnsureAdmin(ctx, cfg.Security.AdminUsername, hash); err != nil {
			logging.Fatal().Err(err).Msg("Failed to ensure admin account")
		}
	}

	var jwtManager *auth.JWTManager
	var basicAuthManager *auth.BasicAuthManager

	switch cfg.Security.AuthMode {
	case auth.ModeJWT:
		jwtManager, err = auth.NewJWTManager(&cfg.Security)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
		}
		logging.Info().Msg("JWT authentication enabled")
	case auth.ModeBasic:
		basicAuthManager, err = auth.NewBasicAuthManager(
			cfg.Security.AdminUsername, cfg.Security.AdminPassword)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize Basic Auth manager")
		}
		logging.Info().Msg("Basic authentication enabled")
		logging.Warn().Msg("Basic Auth transmits credentials with each request. Use HTTPS in production!")
	case auth.ModeNone:
		logging.Warn().Msg("Authentication is DISABLED (AUTH_MODE=none); admin endpoints are public")
	default:
		logging.Fatal().Str("auth_mode", cfg.Security.AuthMode).Msg("Unknown auth mode")
	}

	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}

	// Registration pipeline: document fetcher behind a circuit breaker,
	// place resolution against PostGIS, validation secrets relayed
	// through the log notifier.
	fetcher := registration.NewFetcher(&cfg.Registry)
	notifier := registration.NewLogNotifier()
	registrar := registration.NewRegistrar(db, fetcher, notifier)

	// Token login only works in jwt mode; the handler rejects login
	// attempts when no issuer is configured.
	var tokens api.TokenIssuer
	if jwtManager != nil {
		tokens = jwtManager
	}

	builder := opds.NewBuilder(cfg.Server.PublicURL, cfg.Registry.Name)
	handler := api.NewHandler(db, registrar, builder, tokens, cfg)

	router := api.NewRouter(handler,
		api.NewChiMiddleware(&api.ChiMiddlewareConfig{
			CORSAllowedOrigins: cfg.Security.CORSOrigins,
			RateLimitRequests:  cfg.Security.RateLimitReqs,
			RateLimitWindow:    cfg.Security.RateLimitWindow,
			RateLimitDisabled:  cfg.Security.RateLimitDisabled,
		}),
		auth.NewMiddleware(jwtManager, basicAuthManager, cfg.Security.AuthMode))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	tree.AddMaintenanceService(services.NewValidationSweeperService(db, cfg.Registry.ValidationTTL, time.Hour))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server added to supervisor tree")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Registry stopped gracefully")
}
