// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package database

import (
	"context"
	"fmt"

	"github.com/libratlas/libratlas/internal/logging"
)

// requiredExtensions must be installable in the target database.
// postgis provides the spatial functions (ST_DWithin, ST_DistanceSphere,
// ST_Covers, ST_GeomFromGeoJSON); fuzzystrmatch provides levenshtein().
var requiredExtensions = []string{"postgis", "fuzzystrmatch"}

// schemaStatements creates the registry schema. Statements are
// idempotent so startup is safe against an already-initialized database.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS places (
		id               BIGSERIAL PRIMARY KEY,
		uuid             UUID NOT NULL UNIQUE,
		type             TEXT NOT NULL CHECK (type IN ('nation','state','county','city','postal_code','everywhere')),
		external_id      TEXT,
		name             TEXT NOT NULL,
		abbreviated_name TEXT,
		parent_id        BIGINT REFERENCES places(id),
		geometry         geometry(MULTIPOLYGON, 4326),
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_places_geometry ON places USING GIST (geometry)`,
	`CREATE INDEX IF NOT EXISTS idx_places_name_lower ON places (lower(name))`,
	`CREATE INDEX IF NOT EXISTS idx_places_type ON places (type)`,
	`CREATE INDEX IF NOT EXISTS idx_places_parent ON places (parent_id)`,
	// Exactly one catch-all place
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_places_everywhere ON places (type) WHERE type = 'everywhere'`,

	`CREATE TABLE IF NOT EXISTS place_aliases (
		id       BIGSERIAL PRIMARY KEY,
		place_id BIGINT NOT NULL REFERENCES places(id) ON DELETE CASCADE,
		name     TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT 'en'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_place_aliases_name_lower ON place_aliases (lower(name))`,

	`CREATE TABLE IF NOT EXISTS libraries (
		id                BIGSERIAL PRIMARY KEY,
		uuid              UUID NOT NULL UNIQUE,
		name              TEXT NOT NULL,
		description       TEXT,
		auth_document_url TEXT NOT NULL UNIQUE,
		auth_document_id  TEXT NOT NULL,
		opds_url          TEXT,
		web_url           TEXT,
		logo_url          TEXT,
		shared_secret     TEXT NOT NULL,
		library_stage     TEXT NOT NULL DEFAULT 'testing' CHECK (library_stage IN ('testing','production','cancelled')),
		registry_stage    TEXT NOT NULL DEFAULT 'testing' CHECK (registry_stage IN ('testing','production','cancelled')),
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_libraries_name_lower ON libraries (lower(name))`,
	`CREATE INDEX IF NOT EXISTS idx_libraries_stages ON libraries (library_stage, registry_stage)`,

	`CREATE TABLE IF NOT EXISTS service_areas (
		id         BIGSERIAL PRIMARY KEY,
		library_id BIGINT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
		place_id   BIGINT NOT NULL REFERENCES places(id),
		type       TEXT NOT NULL CHECK (type IN ('eligibility','focus')),
		UNIQUE (library_id, place_id, type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_service_areas_library ON service_areas (library_id)`,
	`CREATE INDEX IF NOT EXISTS idx_service_areas_place ON service_areas (place_id)`,

	`CREATE TABLE IF NOT EXISTS resources (
		id   BIGSERIAL PRIMARY KEY,
		href TEXT NOT NULL UNIQUE
	)`,

	// One validation per resource
	`CREATE TABLE IF NOT EXISTS validations (
		id          BIGSERIAL PRIMARY KEY,
		resource_id BIGINT NOT NULL UNIQUE REFERENCES resources(id) ON DELETE CASCADE,
		secret      TEXT NOT NULL UNIQUE,
		started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		success_at  TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS hyperlinks (
		id          BIGSERIAL PRIMARY KEY,
		library_id  BIGINT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
		rel         TEXT NOT NULL,
		resource_id BIGINT NOT NULL REFERENCES resources(id),
		UNIQUE (library_id, rel)
	)`,

	`CREATE TABLE IF NOT EXISTS settings (
		id         BIGSERIAL PRIMARY KEY,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		library_id BIGINT REFERENCES libraries(id) ON DELETE CASCADE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_settings_scope ON settings (key, COALESCE(library_id, 0))`,

	`CREATE TABLE IF NOT EXISTS admins (
		id            BIGSERIAL PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// initSchema enables the required extensions and creates all tables.
func (db *DB) initSchema(ctx context.Context) error {
	for _, ext := range requiredExtensions {
		if _, err := db.conn.ExecContext(ctx, fmt.Sprintf("CREATE EXTENSION IF NOT EXISTS %s", ext)); err != nil {
			return fmt.Errorf("extension %s is not available (is it installed on the server?): %w", ext, err)
		}
	}

	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	logging.Info().Msg("Database schema initialized")
	return nil
}
