// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/libratlas/libratlas/internal/metrics"
	"github.com/libratlas/libratlas/internal/models"
)

const libraryColumns = `id, uuid, name, description, auth_document_url, auth_document_id, opds_url, web_url, logo_url, shared_secret, library_stage, registry_stage, created_at, updated_at`

// stageFilter returns the WHERE fragment limiting visibility. Public
// discovery sees only dual-production libraries; QA sees everything
// not cancelled on either side.
func stageFilter(alias string, productionOnly bool) string {
	if productionOnly {
		return fmt.Sprintf("%s.library_stage = 'production' AND %s.registry_stage = 'production'", alias, alias)
	}
	return fmt.Sprintf("%s.library_stage <> 'cancelled' AND %s.registry_stage <> 'cancelled'", alias, alias)
}

// LibraryByUUID fetches one library by its public identifier.
func (db *DB) LibraryByUUID(ctx context.Context, id string) (library models.Library, err error) {
	start := time.Now()
	defer func() { record("SELECT", "libraries", start, err) }()

	err = db.conn.GetContext(ctx, &library,
		`SELECT `+libraryColumns+` FROM libraries WHERE uuid = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return library, ErrNotFound
	}
	return library, err
}

// LibraryByAuthURL fetches the library registered for an
// authentication document URL.
func (db *DB) LibraryByAuthURL(ctx context.Context, url string) (library models.Library, err error) {
	start := time.Now()
	defer func() { record("SELECT", "libraries", start, err) }()

	err = db.conn.GetContext(ctx, &library,
		`SELECT `+libraryColumns+` FROM libraries WHERE auth_document_url = $1`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return library, ErrNotFound
	}
	return library, err
}

// Libraries lists libraries for feed rendering. productionOnly selects
// the public production feed; otherwise the QA view (testing and
// production, cancelled excluded).
func (db *DB) Libraries(ctx context.Context, productionOnly bool) (libraries []models.Library, err error) {
	start := time.Now()
	defer func() { record("SELECT", "libraries", start, err) }()

	err = db.conn.SelectContext(ctx, &libraries,
		`SELECT `+libraryColumns+` FROM libraries WHERE `+stageFilter("libraries", productionOnly)+` ORDER BY name, uuid`)
	return libraries, err
}

// AllLibraries lists every library at any stage for the admin API.
func (db *DB) AllLibraries(ctx context.Context) (libraries []models.Library, err error) {
	start := time.Now()
	defer func() { record("SELECT", "libraries", start, err) }()

	err = db.conn.SelectContext(ctx, &libraries,
		`SELECT `+libraryColumns+` FROM libraries ORDER BY name, uuid`)
	return libraries, err
}

// NearbyLibraries finds libraries whose focus areas lie within
// radiusMeters of the point, ordered by distance ascending. The filter
// runs on geography for correct meter semantics; the reported distance
// uses ST_DistanceSphere.
func (db *DB) NearbyLibraries(ctx context.Context, lon, lat, radiusMeters float64, productionOnly bool) (results []models.NearbyLibrary, err error) {
	start := time.Now()
	defer func() { record("SELECT", "libraries", start, err) }()

	metrics.DBSpatialOperations.WithLabelValues("dwithin").Inc()
	metrics.DBSpatialOperations.WithLabelValues("distance_sphere").Inc()

	err = db.conn.SelectContext(ctx, &results, `
		SELECT `+prefixed(libraryColumns, "l.")+`,
		       MIN(ST_DistanceSphere(pl.geometry, ST_SetSRID(ST_MakePoint($1, $2), 4326))) AS distance_meters
		FROM libraries l
		JOIN service_areas sa ON sa.library_id = l.id AND sa.type = 'focus'
		JOIN places pl ON pl.id = sa.place_id AND pl.geometry IS NOT NULL
		WHERE `+stageFilter("l", productionOnly)+`
		  AND ST_DWithin(pl.geometry::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		GROUP BY l.id
		ORDER BY distance_meters, l.name`,
		lon, lat, radiusMeters)
	return results, err
}

// SearchLibraries matches libraries by name: exact and prefix matches
// score 0, everything else its levenshtein distance, filtered by a
// relative threshold (a third of the query length, at least 2 edits).
// Ordered by distance then name for stable output.
func (db *DB) SearchLibraries(ctx context.Context, query string, productionOnly bool) (results []models.SearchResult, err error) {
	start := time.Now()
	defer func() { record("SELECT", "libraries", start, err) }()

	if len(query) > maxFuzzyQueryLen {
		return nil, fmt.Errorf("query too long for fuzzy matching (%d bytes)", len(query))
	}

	threshold := len(query) / 3
	if threshold < 2 {
		threshold = 2
	}

	err = db.conn.SelectContext(ctx, &results, `
		WITH scored AS (
			SELECT `+prefixed(libraryColumns, "l.")+`,
			       CASE
					WHEN lower(l.name) = lower($1) THEN 0
					WHEN lower(l.name) LIKE lower($1) || '%' THEN 0
					ELSE levenshtein(lower(l.name), lower($1))
			       END AS distance
			FROM libraries l
			WHERE `+stageFilter("l", productionOnly)+`
		)
		SELECT * FROM scored
		WHERE distance <= $2
		ORDER BY distance, name, uuid`,
		query, threshold)
	return results, err
}

// LibrariesServingPlace returns libraries whose service areas cover
// the given place: the place itself, one of its ancestors, the
// everywhere place, or an area whose geometry spatially covers it.
func (db *DB) LibrariesServingPlace(ctx context.Context, placeID int64, productionOnly bool) (libraries []models.Library, err error) {
	start := time.Now()
	defer func() { record("SELECT", "libraries", start, err) }()

	metrics.DBSpatialOperations.WithLabelValues("contains").Inc()

	err = db.conn.SelectContext(ctx, &libraries, `
		WITH RECURSIVE target_chain(id) AS (
			SELECT id FROM places WHERE id = $1
			UNION ALL
			SELECT p.parent_id FROM places p
			JOIN target_chain tc ON p.id = tc.id
			WHERE p.parent_id IS NOT NULL
		)
		SELECT DISTINCT `+prefixed(libraryColumns, "l.")+`
		FROM libraries l
		JOIN service_areas sa ON sa.library_id = l.id
		JOIN places sp ON sp.id = sa.place_id
		WHERE `+stageFilter("l", productionOnly)+`
		  AND (
			sa.place_id IN (SELECT id FROM target_chain)
			OR sp.type = 'everywhere'
			OR (sp.geometry IS NOT NULL AND EXISTS (
				SELECT 1 FROM places tp
				WHERE tp.id = $1 AND tp.geometry IS NOT NULL
				  AND ST_Covers(sp.geometry, tp.geometry)
			))
		  )
		ORDER BY l.name, l.uuid`,
		placeID)
	return libraries, err
}

// ServiceAreas returns a library's service areas with their places.
func (db *DB) ServiceAreas(ctx context.Context, libraryID int64) (areas []models.ServiceAreaPlace, err error) {
	start := time.Now()
	defer func() { record("SELECT", "service_areas", start, err) }()

	err = db.conn.SelectContext(ctx, &areas, `
		SELECT `+prefixed(placeColumns, "p.")+`, sa.type AS area_type
		FROM service_areas sa
		JOIN places p ON p.id = sa.place_id
		WHERE sa.library_id = $1
		ORDER BY sa.type, p.name`,
		libraryID)
	return areas, err
}

// SetRegistryStage updates the registry's side of a library's stage.
func (db *DB) SetRegistryStage(ctx context.Context, uuid string, stage models.Stage) (library models.Library, err error) {
	start := time.Now()
	defer func() { record("UPDATE", "libraries", start, err) }()

	if !stage.Valid() {
		return library, fmt.Errorf("invalid stage %q", stage)
	}

	err = db.conn.GetContext(ctx, &library, `
		UPDATE libraries
		SET registry_stage = $2, updated_at = now()
		WHERE uuid = $1
		RETURNING `+libraryColumns,
		uuid, stage)
	if errors.Is(err, sql.ErrNoRows) {
		return library, ErrNotFound
	}
	return library, err
}

// UpdateSharedSecret replaces a library's shared secret.
func (db *DB) UpdateSharedSecret(ctx context.Context, libraryID int64, secret string) (err error) {
	start := time.Now()
	defer func() { record("UPDATE", "libraries", start, err) }()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE libraries SET shared_secret = $2, updated_at = now() WHERE id = $1`,
		libraryID, secret)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
