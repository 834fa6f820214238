// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

// Package api provides the registry's HTTP surface: discovery feeds,
// the registration protocol, contact confirmation, and the admin API,
// routed through chi.
package api

import (
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/libratlas/libratlas/internal/logging"
	"github.com/libratlas/libratlas/internal/opds"
)

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeFeed writes an OPDS feed document.
func writeFeed(w http.ResponseWriter, r *http.Request, feed *opds.Feed) {
	w.Header().Set("Content-Type", opds.FeedType)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(feed); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to encode feed")
	}
}

// writeRawFeed writes a pre-rendered feed body, used for cached feeds.
func writeRawFeed(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", opds.FeedType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
