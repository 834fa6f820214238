// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/libratlas/libratlas/internal/logging"
	"github.com/libratlas/libratlas/internal/problem"
)

type contextKey string

// ClaimsContextKey locates admin claims in a request context.
const ClaimsContextKey contextKey = "claims"

// Auth modes selecting how admin endpoints authenticate.
const (
	ModeJWT   = "jwt"
	ModeBasic = "basic"
	ModeNone  = "none"
)

// Middleware enforces admin authentication on wrapped handlers.
type Middleware struct {
	jwtManager       *JWTManager
	basicAuthManager *BasicAuthManager
	mode             string
}

func NewMiddleware(jwtManager *JWTManager, basicAuthManager *BasicAuthManager, mode string) *Middleware {
	return &Middleware{
		jwtManager:       jwtManager,
		basicAuthManager: basicAuthManager,
		mode:             mode,
	}
}

// Authenticate wraps a handler so it only runs for authenticated admin
// requests.
func (m *Middleware) Authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch m.mode {
		case ModeNone:
			next(w, r)
		case ModeBasic:
			m.handleBasicAuth(w, r, next)
		default:
			m.handleJWTAuth(w, r, next)
		}
	}
}

func (m *Middleware) handleBasicAuth(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		w.Header().Set("WWW-Authenticate", m.basicAuthManager.WWWAuthenticateHeader())
		problem.Write(w, r, problem.InvalidCredentials("authentication required"))
		return
	}

	username, err := m.basicAuthManager.ValidateCredentials(authHeader)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Basic auth validation failed")
		w.Header().Set("WWW-Authenticate", m.basicAuthManager.WWWAuthenticateHeader())
		problem.Write(w, r, problem.InvalidCredentials("invalid credentials"))
		return
	}

	ctx := context.WithValue(r.Context(), ClaimsContextKey, &Claims{Username: username})
	next(w, r.WithContext(ctx))
}

func (m *Middleware) handleJWTAuth(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	token, ok := extractBearerToken(r)
	if !ok {
		problem.Write(w, r, problem.InvalidCredentials("missing bearer token"))
		return
	}

	claims, err := m.jwtManager.ValidateToken(token)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Token validation failed")
		problem.Write(w, r, problem.InvalidCredentials("invalid token"))
		return
	}

	ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
	next(w, r.WithContext(ctx))
}

// extractBearerToken pulls a token from the Authorization header, with
// a cookie fallback for browser clients.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		cookie, err := r.Cookie("token")
		if err != nil {
			return "", false
		}
		return cookie.Value, true
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

// ClaimsFromContext returns the admin claims stored by Authenticate.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*Claims)
	return claims, ok
}
