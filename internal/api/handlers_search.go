// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/libratlas/libratlas/internal/database"
	"github.com/libratlas/libratlas/internal/logging"
	"github.com/libratlas/libratlas/internal/metrics"
	"github.com/libratlas/libratlas/internal/models"
	"github.com/libratlas/libratlas/internal/opds"
	"github.com/libratlas/libratlas/internal/problem"
)

// Search serves name and place search over production libraries. The
// query is matched against library names first; when it also resolves
// to a known place, libraries serving that place are appended.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req := searchRequest{Query: r.URL.Query().Get("query")}
	if !validateRequest(w, r, &req) {
		return
	}

	ctx := r.Context()

	byName, err := h.store.SearchLibraries(ctx, req.Query, true)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Library search failed")
		problem.Write(w, r, problem.Internal())
		return
	}

	libraries := make([]models.Library, 0, len(byName))
	seen := make(map[string]bool, len(byName))
	for _, hit := range byName {
		libraries = append(libraries, hit.Library)
		seen[hit.UUID] = true
	}

	// The query might name a place rather than a library.
	place, err := h.store.LookupInside(ctx, req.Query)
	switch {
	case err == nil:
		serving, err := h.store.LibrariesServingPlace(ctx, place.ID, true)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("Place-serving lookup failed")
			problem.Write(w, r, problem.Internal())
			return
		}
		for _, lib := range serving {
			if !seen[lib.UUID] {
				libraries = append(libraries, lib)
				seen[lib.UUID] = true
			}
		}
	case errors.Is(err, database.ErrNotFound), errors.Is(err, database.ErrAmbiguous):
		// Name-only results stand.
	default:
		logging.Ctx(ctx).Error().Err(err).Msg("Place lookup failed")
		problem.Write(w, r, problem.Internal())
		return
	}

	metrics.RecordSearch("name", time.Since(start), len(libraries))

	writeFeed(w, r, h.builder.LibraryFeed("Search results", "/libraries/search?query="+req.Query, libraries))
}

// Nearby serves proximity search: production libraries whose focus
// areas fall within the radius of the given point, nearest first.
func (h *Handler) Nearby(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.URL.Query().Get("lat") == "" || r.URL.Query().Get("lon") == "" {
		problem.Write(w, r, problem.InvalidRequest("lat and lon are required"))
		return
	}
	lat, ok := parseFloat(r, "lat", 0)
	if !ok {
		problem.Write(w, r, problem.InvalidRequest("lat must be a number"))
		return
	}
	lon, ok := parseFloat(r, "lon", 0)
	if !ok {
		problem.Write(w, r, problem.InvalidRequest("lon must be a number"))
		return
	}
	radius, ok := parseFloat(r, "radius", h.cfg.Registry.SearchRadiusMeters)
	if !ok {
		problem.Write(w, r, problem.InvalidRequest("radius must be a number"))
		return
	}
	if radius <= 0 {
		radius = h.cfg.Registry.SearchRadiusMeters
	}

	req := nearbyRequest{Latitude: lat, Longitude: lon, RadiusMeters: radius}
	if !validateRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	results, err := h.store.NearbyLibraries(ctx, lon, lat, radius, true)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Nearby search failed")
		problem.Write(w, r, problem.Internal())
		return
	}

	metrics.RecordSearch("nearby", time.Since(start), len(results))

	feed := &opds.Feed{
		Metadata: opds.Metadata{Title: "Libraries near you"},
		Links: []opds.Link{
			{Rel: opds.RelStart, Href: h.cfg.Server.PublicURL + "/", Type: opds.FeedType},
		},
		Catalogs: make([]opds.Catalog, 0, len(results)),
	}
	for i := range results {
		entry := h.builder.Entry(&results[i].Library)
		distance := results[i].DistanceMeters
		entry.Metadata.Distance = &distance
		feed.Catalogs = append(feed.Catalogs, entry)
	}

	writeFeed(w, r, feed)
}
