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

// AdminByUsername fetches an admin account.
func (db *DB) AdminByUsername(ctx context.Context, username string) (admin models.Admin, err error) {
	start := time.Now()
	defer func() { record("SELECT", "admins", start, err) }()

	err = db.conn.GetContext(ctx, &admin,
		`SELECT id, username, password_hash, created_at FROM admins WHERE username = $1`,
		username)
	if errors.Is(err, sql.ErrNoRows) {
		return admin, ErrNotFound
	}
	return admin, err
}

// EnsureAdmin creates the bootstrap admin account if it does not exist
// and refreshes its password hash if it does, so rotating the
// configured password takes effect on restart.
func (db *DB) EnsureAdmin(ctx context.Context, username, passwordHash string) (err error) {
	start := time.Now()
	defer func() { record("UPSERT", "admins", start, err) }()

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO admins (username, password_hash)
		VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET password_hash = EXCLUDED.password_hash`,
		username, passwordHash)
	return err
}
