// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/libratlas/libratlas/internal/metrics"
	"github.com/libratlas/libratlas/internal/problem"
)

// ChiMiddlewareConfig configures the chi-ecosystem middleware: CORS and
// per-group rate limits.
type ChiMiddlewareConfig struct {
	CORSAllowedOrigins []string

	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool
}

// RateLimitConfig tunes one endpoint group's limit.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Per-group rate limits. Registration triggers an outbound document
// fetch per request, so it gets the strictest budget.
var (
	rateLimitRegister = RateLimitConfig{Requests: 10, Window: time.Minute}
	rateLimitLogin    = RateLimitConfig{Requests: 5, Window: 5 * time.Minute}
	rateLimitSearch   = RateLimitConfig{Requests: 300, Window: time.Minute}
	rateLimitHealth   = RateLimitConfig{Requests: 1000, Window: time.Minute}
)

// ChiMiddleware builds chi-compatible middleware from configuration.
type ChiMiddleware struct {
	config *ChiMiddlewareConfig
	cors   func(http.Handler) http.Handler
}

func NewChiMiddleware(config *ChiMiddlewareConfig) *ChiMiddleware {
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: config.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	})

	return &ChiMiddleware{
		config: config,
		cors:   corsHandler,
	}
}

// CORS returns the configured CORS handler.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// rateLimitHandler writes a problem detail and counts the rejection.
func rateLimitHandler(w http.ResponseWriter, r *http.Request) {
	metrics.APIRateLimitHits.WithLabelValues(r.URL.Path).Inc()
	problem.Write(w, r, problem.New(problem.TypeRateLimited, "Too many requests", http.StatusTooManyRequests))
}

// RateLimitCustom returns an IP-keyed limiter for one endpoint group,
// or a no-op when rate limiting is disabled.
func (m *ChiMiddleware) RateLimitCustom(config RateLimitConfig) func(http.Handler) http.Handler {
	if m.config.RateLimitDisabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(rateLimitHandler),
	)
}

// RateLimit returns the default limiter for read endpoints.
func (m *ChiMiddleware) RateLimit() func(http.Handler) http.Handler {
	return m.RateLimitCustom(RateLimitConfig{
		Requests: m.config.RateLimitRequests,
		Window:   m.config.RateLimitWindow,
	})
}

// RateLimitRegister limits registration attempts.
func (m *ChiMiddleware) RateLimitRegister() func(http.Handler) http.Handler {
	return m.RateLimitCustom(rateLimitRegister)
}

// RateLimitLogin limits admin login attempts.
func (m *ChiMiddleware) RateLimitLogin() func(http.Handler) http.Handler {
	return m.RateLimitCustom(rateLimitLogin)
}

// RateLimitSearch limits discovery queries; these hit spatial SQL on
// every request so they get a tighter budget than static feeds.
func (m *ChiMiddleware) RateLimitSearch() func(http.Handler) http.Handler {
	return m.RateLimitCustom(rateLimitSearch)
}

// RateLimitHealth limits health probes without obstructing monitors.
func (m *ChiMiddleware) RateLimitHealth() func(http.Handler) http.Handler {
	return m.RateLimitCustom(rateLimitHealth)
}
