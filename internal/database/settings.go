// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/libratlas/libratlas/internal/models"
)

// GetSetting reads a configuration value. When libraryID is non-zero
// the library-scoped value is preferred, falling back to the site-wide
// value when the library has none set.
func (db *DB) GetSetting(ctx context.Context, key string, libraryID int64) (value string, err error) {
	start := time.Now()
	defer func() { record("SELECT", "settings", start, err) }()

	if libraryID != 0 {
		err = db.conn.GetContext(ctx, &value,
			`SELECT value FROM settings WHERE key = $1 AND library_id = $2`, key, libraryID)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
	}

	err = db.conn.GetContext(ctx, &value,
		`SELECT value FROM settings WHERE key = $1 AND library_id IS NULL`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// SetSetting writes a configuration value in the given scope
// (libraryID zero means site-wide).
func (db *DB) SetSetting(ctx context.Context, key, value string, libraryID int64) (err error) {
	start := time.Now()
	defer func() { record("UPSERT", "settings", start, err) }()

	var scope interface{}
	if libraryID != 0 {
		scope = libraryID
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO settings (key, value, library_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (key, COALESCE(library_id, 0))
		DO UPDATE SET value = EXCLUDED.value`,
		key, value, scope)
	return err
}

// ListSettings returns all settings in a scope, site-wide when
// libraryID is zero.
func (db *DB) ListSettings(ctx context.Context, libraryID int64) (settings []models.ConfigurationSetting, err error) {
	start := time.Now()
	defer func() { record("SELECT", "settings", start, err) }()

	if libraryID != 0 {
		err = db.conn.SelectContext(ctx, &settings,
			`SELECT id, key, value, library_id FROM settings WHERE library_id = $1 ORDER BY key`,
			libraryID)
	} else {
		err = db.conn.SelectContext(ctx, &settings,
			`SELECT id, key, value, library_id FROM settings WHERE library_id IS NULL ORDER BY key`)
	}
	return settings, err
}

// DeleteSetting removes a key from a scope. Missing keys are a no-op.
func (db *DB) DeleteSetting(ctx context.Context, key string, libraryID int64) (err error) {
	start := time.Now()
	defer func() { record("DELETE", "settings", start, err) }()

	if libraryID != 0 {
		_, err = db.conn.ExecContext(ctx,
			`DELETE FROM settings WHERE key = $1 AND library_id = $2`, key, libraryID)
	} else {
		_, err = db.conn.ExecContext(ctx,
			`DELETE FROM settings WHERE key = $1 AND library_id IS NULL`, key)
	}
	return err
}
