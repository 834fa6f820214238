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
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/libratlas/libratlas/internal/metrics"
	"github.com/libratlas/libratlas/internal/models"
)

const placeColumns = `id, uuid, type, external_id, name, abbreviated_name, parent_id, created_at`

// PlaceByName finds places matching name exactly (case-insensitive),
// checking canonical names, abbreviations, and aliases. An optional
// placeType narrows the match.
func (db *DB) PlaceByName(ctx context.Context, name string, placeType models.PlaceType) (places []models.Place, err error) {
	start := time.Now()
	defer func() { record("SELECT", "places", start, err) }()

	query := `
		SELECT DISTINCT ` + prefixed(placeColumns, "p.") + `
		FROM places p
		LEFT JOIN place_aliases a ON a.place_id = p.id
		WHERE (lower(p.name) = lower($1)
		   OR lower(p.abbreviated_name) = lower($1)
		   OR lower(a.name) = lower($1))`
	args := []interface{}{name}
	if placeType != "" {
		query += ` AND p.type = $2`
		args = append(args, placeType)
	}
	query += ` ORDER BY p.name, p.id`

	err = db.conn.SelectContext(ctx, &places, query, args...)
	return places, err
}

// PlaceByUUID fetches a single place by its external identifier.
func (db *DB) PlaceByUUID(ctx context.Context, id string) (place models.Place, err error) {
	start := time.Now()
	defer func() { record("SELECT", "places", start, err) }()

	err = db.conn.GetContext(ctx, &place,
		`SELECT `+placeColumns+` FROM places WHERE uuid = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return place, ErrNotFound
	}
	return place, err
}

// placeByID fetches a place by primary key.
func (db *DB) placeByID(ctx context.Context, id int64) (place models.Place, err error) {
	start := time.Now()
	defer func() { record("SELECT", "places", start, err) }()

	err = db.conn.GetContext(ctx, &place,
		`SELECT `+placeColumns+` FROM places WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return place, ErrNotFound
	}
	return place, err
}

// Everywhere returns the singleton catch-all place, creating it on
// first use. A partial unique index guarantees at most one row exists
// even under concurrent creation.
func (db *DB) Everywhere(ctx context.Context) (place models.Place, err error) {
	start := time.Now()
	defer func() { record("UPSERT", "places", start, err) }()

	err = db.conn.GetContext(ctx, &place, `
		INSERT INTO places (uuid, type, name)
		VALUES ($1, 'everywhere', 'everywhere')
		ON CONFLICT (type) WHERE type = 'everywhere' DO UPDATE SET name = places.name
		RETURNING `+placeColumns,
		uuid.New().String())
	return place, err
}

// CreatePlace inserts a place with MultiPolygon GeoJSON geometry.
// ST_Multi promotes plain Polygons so both input forms are accepted.
// The parent chain is walked first to reject cycles and missing parents.
func (db *DB) CreatePlace(ctx context.Context, p *models.Place, geojson string) (created models.Place, err error) {
	start := time.Now()
	defer func() { record("INSERT", "places", start, err) }()

	if !p.Type.Valid() {
		return created, fmt.Errorf("invalid place type %q", p.Type)
	}

	if p.ParentID.Valid {
		if err = db.checkParentChain(ctx, p.ParentID.Int64); err != nil {
			return created, err
		}
	}

	metrics.DBSpatialOperations.WithLabelValues("geojson").Inc()

	var geom interface{}
	if geojson != "" {
		geom = geojson
	}

	err = db.conn.GetContext(ctx, &created, `
		INSERT INTO places (uuid, type, external_id, name, abbreviated_name, parent_id, geometry)
		VALUES ($1, $2, $3, $4, $5, $6, ST_Multi(ST_SetSRID(ST_GeomFromGeoJSON($7::text), 4326)))
		RETURNING `+placeColumns,
		uuid.New().String(), p.Type, p.ExternalID, p.Name, p.AbbreviatedName, p.ParentID, geom)
	return created, err
}

// checkParentChain walks up from parentID verifying every ancestor
// exists and the chain terminates. Depth is bounded well above any
// legitimate hierarchy (nation > state > county > city > postal code).
func (db *DB) checkParentChain(ctx context.Context, parentID int64) error {
	const maxDepth = 16
	current := parentID
	for i := 0; i < maxDepth; i++ {
		place, err := db.placeByID(ctx, current)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("parent place %d does not exist", current)
		}
		if err != nil {
			return err
		}
		if !place.ParentID.Valid {
			return nil
		}
		current = place.ParentID.Int64
	}
	return fmt.Errorf("place hierarchy too deep starting at parent %d (cycle?)", parentID)
}

// AddPlaceAlias records an alternate name for a place.
func (db *DB) AddPlaceAlias(ctx context.Context, placeID int64, name, language string) (err error) {
	start := time.Now()
	defer func() { record("INSERT", "place_aliases", start, err) }()

	if language == "" {
		language = "en"
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO place_aliases (place_id, name, language) VALUES ($1, $2, $3)`,
		placeID, name, language)
	return err
}

// PlacesServedBy returns places whose geometry covers the given point,
// most specific first. The everywhere place is excluded; it covers
// every point by definition and callers handle it separately.
func (db *DB) PlacesServedBy(ctx context.Context, lon, lat float64) (places []models.Place, err error) {
	start := time.Now()
	defer func() { record("SELECT", "places", start, err) }()

	metrics.DBSpatialOperations.WithLabelValues("contains").Inc()

	err = db.conn.SelectContext(ctx, &places, `
		SELECT `+placeColumns+`
		FROM places
		WHERE geometry IS NOT NULL
		  AND ST_Covers(geometry, ST_SetSRID(ST_MakePoint($1, $2), 4326))
		ORDER BY CASE type
			WHEN 'postal_code' THEN 0
			WHEN 'city' THEN 1
			WHEN 'county' THEN 2
			WHEN 'state' THEN 3
			WHEN 'nation' THEN 4
			ELSE 5 END, name`,
		lon, lat)
	return places, err
}

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(columns, prefix string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}
