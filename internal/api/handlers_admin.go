// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/libratlas/libratlas/internal/auth"
	"github.com/libratlas/libratlas/internal/database"
	"github.com/libratlas/libratlas/internal/logging"
	"github.com/libratlas/libratlas/internal/metrics"
	"github.com/libratlas/libratlas/internal/models"
	"github.com/libratlas/libratlas/internal/problem"
	"github.com/libratlas/libratlas/internal/registration"
)

// Login authenticates an admin against the database and issues a
// session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil {
		problem.Write(w, r, problem.InvalidRequest("token login is not enabled; use the configured auth mode"))
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, problem.InvalidRequest("invalid JSON body"))
		return
	}
	if !validateRequest(w, r, &req) {
		return
	}

	admin, err := h.store.AdminByUsername(r.Context(), req.Username)
	if errors.Is(err, database.ErrNotFound) {
		// Burn a hash comparison anyway so unknown usernames take as
		// long as wrong passwords.
		auth.CheckPassword("$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW", req.Password)
		problem.Write(w, r, problem.InvalidCredentials("unknown username or wrong password"))
		return
	}
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Admin lookup failed")
		problem.Write(w, r, problem.Internal())
		return
	}

	if !auth.CheckPassword(admin.PasswordHash, req.Password) {
		logging.Ctx(r.Context()).Warn().Str("username", req.Username).Msg("Failed admin login")
		problem.Write(w, r, problem.InvalidCredentials("unknown username or wrong password"))
		return
	}

	token, err := h.tokens.GenerateToken(admin.Username)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Token generation failed")
		problem.Write(w, r, problem.Internal())
		return
	}

	logging.Ctx(r.Context()).Info().Str("username", admin.Username).Msg("Admin login")
	writeJSON(w, r, http.StatusOK, map[string]string{"token": token})
}

// adminLibraryView is the admin API's full view of a library, including
// stages and contact validation state the public feeds hide.
type adminLibraryView struct {
	models.Library
	URN          string                    `json:"urn"`
	ServiceAreas []models.ServiceAreaPlace `json:"service_areas,omitempty"`
	Contacts     []models.ContactStatus    `json:"contacts,omitempty"`
}

// AdminLibraries lists every library at any stage.
func (h *Handler) AdminLibraries(w http.ResponseWriter, r *http.Request) {
	libraries, err := h.store.AllLibraries(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to list libraries")
		problem.Write(w, r, problem.Internal())
		return
	}

	views := make([]adminLibraryView, 0, len(libraries))
	for _, lib := range libraries {
		views = append(views, adminLibraryView{Library: lib, URN: lib.URN()})
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"libraries": views})
}

// AdminLibraryDetail returns one library with its service areas and
// contact validation status.
func (h *Handler) AdminLibraryDetail(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	library, err := h.store.LibraryByUUID(r.Context(), uuid)
	if errors.Is(err, database.ErrNotFound) {
		problem.Write(w, r, problem.NotFound("no library with that identifier"))
		return
	}
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to load library")
		problem.Write(w, r, problem.Internal())
		return
	}

	areas, err := h.store.ServiceAreas(r.Context(), library.ID)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to load service areas")
		problem.Write(w, r, problem.Internal())
		return
	}
	contacts, err := h.store.ContactsForLibrary(r.Context(), library.ID)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to load contacts")
		problem.Write(w, r, problem.Internal())
		return
	}

	writeJSON(w, r, http.StatusOK, adminLibraryView{
		Library:      library,
		URN:          library.URN(),
		ServiceAreas: areas,
		Contacts:     contacts,
	})
}

// AdminSetStage changes a library's registry stage. Moving a library
// out of production immediately removes it from public discovery.
func (h *Handler) AdminSetStage(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	var req stageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, problem.InvalidRequest("invalid JSON body"))
		return
	}
	if !validateRequest(w, r, &req) {
		return
	}

	library, err := h.store.SetRegistryStage(r.Context(), uuid, models.Stage(req.Stage))
	if errors.Is(err, database.ErrNotFound) {
		problem.Write(w, r, problem.NotFound("no library with that identifier"))
		return
	}
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to set registry stage")
		problem.Write(w, r, problem.Internal())
		return
	}

	h.feedCache.Clear()

	logging.Ctx(r.Context()).Info().
		Str("library", library.UUID).
		Str("registry_stage", string(library.RegistryStage)).
		Msg("Registry stage changed")
	writeJSON(w, r, http.StatusOK, adminLibraryView{Library: library, URN: library.URN()})
}

// AdminRotateSecret issues a new shared secret for a library without
// the library re-registering. The new secret is returned once.
func (h *Handler) AdminRotateSecret(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	library, err := h.store.LibraryByUUID(r.Context(), uuid)
	if errors.Is(err, database.ErrNotFound) {
		problem.Write(w, r, problem.NotFound("no library with that identifier"))
		return
	}
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to load library")
		problem.Write(w, r, problem.Internal())
		return
	}

	secret, err := registration.NewSecret()
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Secret generation failed")
		problem.Write(w, r, problem.Internal())
		return
	}
	if err := h.store.UpdateSharedSecret(r.Context(), library.ID, secret); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Secret rotation failed")
		problem.Write(w, r, problem.Internal())
		return
	}

	metrics.SecretRotations.Inc()
	logging.Ctx(r.Context()).Info().Str("library", library.UUID).Msg("Shared secret rotated by admin")
	writeJSON(w, r, http.StatusOK, map[string]string{"shared_secret": secret})
}

// AdminResendValidation re-issues a contact validation secret and
// re-dispatches the notification. The previous secret stops working.
func (h *Handler) AdminResendValidation(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	library, err := h.store.LibraryByUUID(r.Context(), uuid)
	if errors.Is(err, database.ErrNotFound) {
		problem.Write(w, r, problem.NotFound("no library with that identifier"))
		return
	}
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to load library")
		problem.Write(w, r, problem.Internal())
		return
	}

	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, problem.InvalidRequest("invalid JSON body"))
		return
	}
	if !validateRequest(w, r, &req) {
		return
	}

	err = h.registrar.ResendValidation(r.Context(), library.Name, req.Href)
	switch {
	case errors.Is(err, database.ErrNotFound):
		problem.Write(w, r, problem.NotFound("no registered contact with that href"))
		return
	case errors.Is(err, registration.ErrThrottled):
		problem.Write(w, r, problem.New(problem.TypeRateLimited,
			"Validation notifications are rate limited", http.StatusTooManyRequests))
		return
	case err != nil:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Validation resend failed")
		problem.Write(w, r, problem.Internal())
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("library", library.UUID).
		Str("href", req.Href).
		Msg("Validation notification re-sent")
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "sent", "contact": req.Href})
}

// AdminCreatePlace inserts a place with GeoJSON geometry.
func (h *Handler) AdminCreatePlace(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, problem.InvalidRequest("invalid JSON body"))
		return
	}
	if !validateRequest(w, r, &req) {
		return
	}

	place := &models.Place{
		Type: models.PlaceType(req.Type),
		Name: req.Name,
	}
	if req.Abbreviated != "" {
		place.AbbreviatedName = sql.NullString{String: req.Abbreviated, Valid: true}
	}
	if req.ParentUUID != "" {
		parent, err := h.store.PlaceByUUID(r.Context(), req.ParentUUID)
		if errors.Is(err, database.ErrNotFound) {
			problem.Write(w, r, problem.UnknownPlace("no parent place with that identifier"))
			return
		}
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Parent place lookup failed")
			problem.Write(w, r, problem.Internal())
			return
		}
		place.ParentID = sql.NullInt64{Int64: parent.ID, Valid: true}
	}

	created, err := h.store.CreatePlace(r.Context(), place, req.GeoJSON)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Place creation failed")
		problem.Write(w, r, problem.InvalidRequest("could not create place: "+err.Error()))
		return
	}

	writeJSON(w, r, http.StatusCreated, created)
}

// AdminListSettings lists settings for the site or, with ?library_id,
// one library.
func (h *Handler) AdminListSettings(w http.ResponseWriter, r *http.Request) {
	libraryID, ok := parseLibraryID(r)
	if !ok {
		problem.Write(w, r, problem.InvalidRequest("library_id must be an integer"))
		return
	}

	settings, err := h.store.ListSettings(r.Context(), libraryID)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to list settings")
		problem.Write(w, r, problem.Internal())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"settings": settings})
}

// AdminPutSetting writes one setting, site-wide or library-scoped.
func (h *Handler) AdminPutSetting(w http.ResponseWriter, r *http.Request) {
	libraryID, ok := parseLibraryID(r)
	if !ok {
		problem.Write(w, r, problem.InvalidRequest("library_id must be an integer"))
		return
	}

	var req settingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, problem.InvalidRequest("invalid JSON body"))
		return
	}
	if !validateRequest(w, r, &req) {
		return
	}

	if err := h.store.SetSetting(r.Context(), req.Key, req.Value, libraryID); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to write setting")
		problem.Write(w, r, problem.Internal())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"key": req.Key, "value": req.Value})
}

func parseLibraryID(r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("library_id")
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
