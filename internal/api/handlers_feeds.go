// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/libratlas/libratlas/internal/database"
	"github.com/libratlas/libratlas/internal/logging"
	"github.com/libratlas/libratlas/internal/problem"
)

const productionFeedKey = "feed:production"

// Root serves the discovery document advertising the registry's entry
// points.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeFeed(w, r, h.builder.Root())
}

// Libraries serves the production feed: only libraries whose library
// and registry stages are both production.
func (h *Handler) Libraries(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.feedCache.Get(productionFeedKey); ok {
		writeRawFeed(w, cached.([]byte))
		return
	}

	libraries, err := h.store.Libraries(r.Context(), true)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to load production libraries")
		problem.Write(w, r, problem.Internal())
		return
	}

	feed := h.builder.LibraryFeed(h.cfg.Registry.Name, "/libraries", libraries)
	body, err := json.Marshal(feed)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to render feed")
		problem.Write(w, r, problem.Internal())
		return
	}

	h.feedCache.Set(productionFeedKey, body)
	writeRawFeed(w, body)
}

// LibrariesQA serves the QA feed: testing and production libraries.
// The router guards it with admin authentication; it is never cached so
// admins always see current state.
func (h *Handler) LibrariesQA(w http.ResponseWriter, r *http.Request) {
	libraries, err := h.store.Libraries(r.Context(), false)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to load QA libraries")
		problem.Write(w, r, problem.Internal())
		return
	}

	writeFeed(w, r, h.builder.LibraryFeed(h.cfg.Registry.Name+" (QA)", "/libraries/qa", libraries))
}

// LibraryDetail serves a single-entry feed for one library. Only
// production libraries are visible here; everything else 404s so the
// public surface does not leak registrations in progress.
func (h *Handler) LibraryDetail(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	library, err := h.store.LibraryByUUID(r.Context(), uuid)
	switch {
	case errors.Is(err, database.ErrNotFound):
		problem.Write(w, r, problem.NotFound("no library with that identifier"))
		return
	case err != nil:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to load library")
		problem.Write(w, r, problem.Internal())
		return
	}

	if !library.InProduction() {
		problem.Write(w, r, problem.NotFound("no library with that identifier"))
		return
	}

	writeFeed(w, r, h.builder.SingleLibraryFeed(&library))
}
