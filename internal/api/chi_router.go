// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/libratlas/libratlas/internal/auth"
	"github.com/libratlas/libratlas/internal/middleware"
)

// chiMiddleware adapts http.HandlerFunc middleware to chi's
// func(http.Handler) http.Handler so both styles compose in one stack.
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// Router assembles the HTTP surface.
type Router struct {
	handler        *Handler
	chiMiddleware  *ChiMiddleware
	authMiddleware *auth.Middleware
}

func NewRouter(handler *Handler, chiMw *ChiMiddleware, authMw *auth.Middleware) *Router {
	return &Router{
		handler:        handler,
		chiMiddleware:  chiMw,
		authMiddleware: authMw,
	}
}

// Setup builds the route table.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	// Public discovery surface: feeds and search.
	r.Group(func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Use(chiMiddleware(middleware.Compression))

		r.Get("/", router.handler.Root)
		r.Get("/libraries", router.handler.Libraries)
		r.Get("/library/{uuid}", router.handler.LibraryDetail)
	})

	r.Group(func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitSearch())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Use(chiMiddleware(middleware.Compression))

		r.Get("/libraries/search", router.handler.Search)
		r.Get("/libraries/nearby", router.handler.Nearby)
	})

	// Registration protocol.
	r.Group(func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitRegister())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))

		r.Post("/register", router.handler.Register)
		r.Get("/confirm/{secret}", router.handler.Confirm)
		r.Post("/confirm/{secret}", router.handler.Confirm)
	})

	// QA feed and admin API require authentication.
	r.Group(func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Use(chiMiddleware(router.authMiddleware.Authenticate))

		r.Get("/libraries/qa", router.handler.LibrariesQA)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(chiMiddleware(middleware.PrometheusMetrics))

		r.With(router.chiMiddleware.RateLimitLogin()).Post("/login", router.handler.Login)

		r.Group(func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimit())
			r.Use(chiMiddleware(router.authMiddleware.Authenticate))

			r.Get("/libraries", router.handler.AdminLibraries)
			r.Get("/libraries/{uuid}", router.handler.AdminLibraryDetail)
			r.Post("/libraries/{uuid}/stage", router.handler.AdminSetStage)
			r.Post("/libraries/{uuid}/secret", router.handler.AdminRotateSecret)
			r.Post("/libraries/{uuid}/contacts/resend", router.handler.AdminResendValidation)
			r.Post("/places", router.handler.AdminCreatePlace)
			r.Get("/settings", router.handler.AdminListSettings)
			r.Put("/settings", router.handler.AdminPutSetting)
		})
	})

	// Operational endpoints.
	r.Route("/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
