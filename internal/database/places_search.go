// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/libratlas/libratlas/internal/metrics"
	"github.com/libratlas/libratlas/internal/models"
)

// levenshtein() in fuzzystrmatch rejects arguments longer than 255 bytes.
const maxFuzzyQueryLen = 255

// FuzzyPlacesByName finds places whose name is within maxDistance edits
// of the query. Results are ordered for deterministic resolution:
// lowest edit distance first, then the more specific place type (a city
// beats a county of the same name), then alphabetically.
func (db *DB) FuzzyPlacesByName(ctx context.Context, name string, placeType models.PlaceType, maxDistance int) (matches []models.FuzzyMatch, err error) {
	start := time.Now()
	defer func() { record("SELECT", "places", start, err) }()

	if len(name) > maxFuzzyQueryLen {
		return nil, fmt.Errorf("query too long for fuzzy matching (%d bytes)", len(name))
	}

	query := `
		SELECT ` + prefixed(placeColumns, "p.") + `,
		       levenshtein(lower(p.name), lower($1)) AS distance
		FROM places p
		WHERE p.type <> 'everywhere'
		  AND levenshtein(lower(p.name), lower($1)) <= $2`
	args := []interface{}{name, maxDistance}
	if placeType != "" {
		query += ` AND p.type = $3`
		args = append(args, placeType)
	}
	query += `
		ORDER BY distance,
			CASE p.type
				WHEN 'postal_code' THEN 0
				WHEN 'city' THEN 1
				WHEN 'county' THEN 2
				WHEN 'state' THEN 3
				WHEN 'nation' THEN 4
				ELSE 5 END,
			p.name
		LIMIT 20`

	err = db.conn.SelectContext(ctx, &matches, query, args...)
	return matches, err
}

// LookupInside resolves a nested place query like "Springfield, IL":
// comma-separated components with the outermost place last. The leaf
// place must lie inside the resolved outer place, checked spatially
// when both have geometry and through the parent chain otherwise.
//
// Returns ErrNotFound when no place matches a component and
// ErrAmbiguous when a component matches more than one candidate.
func (db *DB) LookupInside(ctx context.Context, query string) (models.Place, error) {
	parts := strings.Split(query, ",")
	components := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			components = append(components, p)
		}
	}
	if len(components) == 0 {
		return models.Place{}, fmt.Errorf("%w: empty place query", ErrNotFound)
	}

	return db.lookupInside(ctx, components)
}

func (db *DB) lookupInside(ctx context.Context, components []string) (models.Place, error) {
	leaf := components[0]

	if len(components) == 1 {
		candidates, err := db.PlaceByName(ctx, leaf, "")
		if err != nil {
			return models.Place{}, err
		}
		return onePlace(leaf, candidates)
	}

	outer, err := db.lookupInside(ctx, components[1:])
	if err != nil {
		return models.Place{}, err
	}

	candidates, err := db.placesNamedInside(ctx, leaf, outer.ID)
	if err != nil {
		return models.Place{}, err
	}
	return onePlace(leaf, candidates)
}

// onePlace reduces a candidate list to exactly one place or a
// distinguishable error.
func onePlace(name string, candidates []models.Place) (models.Place, error) {
	switch len(candidates) {
	case 0:
		return models.Place{}, fmt.Errorf("%w: no place named %q", ErrNotFound, name)
	case 1:
		return candidates[0], nil
	default:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.FullName() + " [" + string(c.Type) + "]"
		}
		return models.Place{}, fmt.Errorf("%w: %q matches %s", ErrAmbiguous, name, strings.Join(names, ", "))
	}
}

// placesNamedInside finds places matching name that lie within the
// outer place, either spatially (geometry intersection) or through the
// parent chain when geometry is missing.
func (db *DB) placesNamedInside(ctx context.Context, name string, outerID int64) (places []models.Place, err error) {
	start := time.Now()
	defer func() { record("SELECT", "places", start, err) }()

	metrics.DBSpatialOperations.WithLabelValues("contains").Inc()

	err = db.conn.SelectContext(ctx, &places, `
		SELECT DISTINCT `+prefixed(placeColumns, "p.")+`
		FROM places p
		JOIN places o ON o.id = $2
		LEFT JOIN place_aliases a ON a.place_id = p.id
		WHERE p.id <> o.id
		  AND (lower(p.name) = lower($1)
		    OR lower(p.abbreviated_name) = lower($1)
		    OR lower(a.name) = lower($1))
		  AND (
			(p.geometry IS NOT NULL AND o.geometry IS NOT NULL
			 AND ST_Intersects(p.geometry, o.geometry))
			OR EXISTS (
				WITH RECURSIVE ancestors(id) AS (
					SELECT parent_id FROM places WHERE id = p.id AND parent_id IS NOT NULL
					UNION ALL
					SELECT pl.parent_id FROM places pl
					JOIN ancestors an ON pl.id = an.id
					WHERE pl.parent_id IS NOT NULL
				)
				SELECT 1 FROM ancestors WHERE id = o.id
			)
		  )
		ORDER BY p.name, p.id`,
		name, outerID)
	return places, err
}
