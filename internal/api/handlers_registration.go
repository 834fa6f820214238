// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/libratlas/libratlas/internal/database"
	"github.com/libratlas/libratlas/internal/logging"
	"github.com/libratlas/libratlas/internal/opds"
	"github.com/libratlas/libratlas/internal/problem"
	"github.com/libratlas/libratlas/internal/registration"
)

// registrationResponse is returned from a successful registration. The
// shared secret appears only when newly issued or rotated.
type registrationResponse struct {
	Catalog      opds.Catalog `json:"catalog"`
	SharedSecret string       `json:"shared_secret,omitempty"`
}

// Register handles the registration protocol endpoint. Accepts both
// form-encoded and JSON bodies.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	form, ok := h.decodeRegisterForm(w, r)
	if !ok {
		return
	}

	req := &registration.RegisterRequest{
		URL:          form.URL,
		Contact:      form.Contact,
		Stage:        form.Stage,
		BearerSecret: bearerSecret(r),
	}

	result, err := h.registrar.Register(r.Context(), req)
	if err != nil {
		problem.Write(w, r, registrationProblem(err))
		return
	}

	// New or re-registered libraries may change the production feed.
	h.feedCache.Clear()

	resp := registrationResponse{
		Catalog:      h.builder.Entry(&result.Library),
		SharedSecret: result.SharedSecret,
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, resp)
}

func (h *Handler) decodeRegisterForm(w http.ResponseWriter, r *http.Request) (*registerForm, bool) {
	var form registerForm

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
			problem.Write(w, r, problem.InvalidRequest("invalid JSON body"))
			return nil, false
		}
	} else {
		if err := r.ParseForm(); err != nil {
			problem.Write(w, r, problem.InvalidRequest("invalid form body"))
			return nil, false
		}
		form.URL = r.PostFormValue("url")
		form.Contact = r.PostFormValue("contact")
		form.Stage = r.PostFormValue("stage")
	}

	if !validateRequest(w, r, &form) {
		return nil, false
	}
	return &form, true
}

// bearerSecret extracts a shared secret presented as a Bearer token.
func bearerSecret(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// registrationProblem maps registration protocol failures to problem
// details.
func registrationProblem(err error) *problem.Detail {
	switch {
	case errors.Is(err, registration.ErrBadRequest):
		return problem.InvalidRequest(err.Error())
	case errors.Is(err, registration.ErrUnreachable):
		return problem.Unreachable(err.Error())
	case errors.Is(err, registration.ErrTooLarge),
		errors.Is(err, registration.ErrInvalidDocument):
		return problem.InvalidAuthDocument(err.Error())
	case errors.Is(err, registration.ErrIDMismatch):
		return problem.RegistrationIDChanged(err.Error())
	case errors.Is(err, registration.ErrInvalidCredentials):
		return problem.InvalidCredentials("shared secret does not match")
	case errors.Is(err, registration.ErrUnknownPlace):
		return problem.UnknownPlace(err.Error())
	case errors.Is(err, registration.ErrAmbiguousPlace):
		return problem.AmbiguousPlace(err.Error())
	default:
		return problem.Internal()
	}
}

// Confirm handles contact validation confirmation links. Idempotent:
// confirming an already-confirmed secret succeeds again.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	secret := chi.URLParam(r, "secret")
	if secret == "" {
		problem.Write(w, r, problem.InvalidRequest("missing validation secret"))
		return
	}

	href, err := h.store.ConfirmValidation(r.Context(), secret, h.cfg.Registry.ValidationTTL)
	switch {
	case errors.Is(err, database.ErrNotFound):
		problem.Write(w, r, problem.NotFound("unknown validation secret"))
		return
	case errors.Is(err, database.ErrValidationExpired):
		problem.Write(w, r, problem.ExpiredSecret("the confirmation link has expired; re-register to receive a new one"))
		return
	case err != nil:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Validation confirmation failed")
		problem.Write(w, r, problem.Internal())
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "confirmed",
		"contact": href,
	})
}
