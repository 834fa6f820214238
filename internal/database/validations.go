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

	"github.com/libratlas/libratlas/internal/metrics"
	"github.com/libratlas/libratlas/internal/models"
)

// ErrValidationExpired is returned when a confirmation secret is past
// its TTL.
var ErrValidationExpired = errors.New("validation secret expired")

// ValidationBySecret fetches a validation and its resource href.
func (db *DB) ValidationBySecret(ctx context.Context, secret string) (validation models.Validation, href string, err error) {
	start := time.Now()
	defer func() { record("SELECT", "validations", start, err) }()

	row := struct {
		models.Validation
		Href string `db:"href"`
	}{}
	err = db.conn.GetContext(ctx, &row, `
		SELECT v.id, v.resource_id, v.secret, v.started_at, v.success_at, r.href
		FROM validations v
		JOIN resources r ON r.id = v.resource_id
		WHERE v.secret = $1`,
		secret)
	if errors.Is(err, sql.ErrNoRows) {
		return validation, "", ErrNotFound
	}
	return row.Validation, row.Href, err
}

// ConfirmValidation marks the validation matching secret as successful.
// Confirming an already-confirmed validation is idempotent. Expired
// secrets return ErrValidationExpired; unknown ones ErrNotFound.
func (db *DB) ConfirmValidation(ctx context.Context, secret string, ttl time.Duration) (href string, err error) {
	start := time.Now()
	defer func() { record("UPDATE", "validations", start, err) }()

	validation, href, err := db.ValidationBySecret(ctx, secret)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.ValidationConfirmations.WithLabelValues("not_found").Inc()
		}
		return "", err
	}

	if validation.Confirmed() {
		metrics.ValidationConfirmations.WithLabelValues("already_confirmed").Inc()
		return href, nil
	}

	if validation.Expired(ttl, time.Now()) {
		metrics.ValidationConfirmations.WithLabelValues("expired").Inc()
		return "", ErrValidationExpired
	}

	_, err = db.conn.ExecContext(ctx,
		`UPDATE validations SET success_at = now() WHERE id = $1 AND success_at IS NULL`,
		validation.ID)
	if err != nil {
		return "", err
	}

	metrics.ValidationConfirmations.WithLabelValues("success").Inc()
	return href, nil
}

// RestartValidation issues a fresh secret for a resource and resets the
// expiry clock. Any prior success is kept: restarting a confirmed
// validation is rejected by the caller, not here.
func (db *DB) RestartValidation(ctx context.Context, resourceID int64, newSecret string) (err error) {
	start := time.Now()
	defer func() { record("UPDATE", "validations", start, err) }()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE validations
		SET secret = $2, started_at = now(), success_at = NULL
		WHERE resource_id = $1`,
		resourceID, newSecret)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	metrics.ValidationSecretsIssued.Inc()
	return nil
}

// PurgeExpiredValidations deletes unconfirmed validations whose secrets
// are past the TTL. Confirmed validations are kept as the durable record
// that a contact was verified. Returns the number of rows removed.
func (db *DB) PurgeExpiredValidations(ctx context.Context, ttl time.Duration) (purged int64, err error) {
	start := time.Now()
	defer func() { record("DELETE", "validations", start, err) }()

	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM validations
		WHERE success_at IS NULL AND started_at < $1`,
		time.Now().Add(-ttl))
	if err != nil {
		return 0, err
	}
	purged, _ = res.RowsAffected()
	return purged, nil
}

// ResourceByHref fetches a resource by its href.
func (db *DB) ResourceByHref(ctx context.Context, href string) (resource models.Resource, err error) {
	start := time.Now()
	defer func() { record("SELECT", "resources", start, err) }()

	err = db.conn.GetContext(ctx, &resource,
		`SELECT id, href FROM resources WHERE href = $1`, href)
	if errors.Is(err, sql.ErrNoRows) {
		return resource, ErrNotFound
	}
	return resource, err
}

// ContactsForLibrary summarizes a library's contact hyperlinks and
// their validation state for the admin API.
func (db *DB) ContactsForLibrary(ctx context.Context, libraryID int64) (contacts []models.ContactStatus, err error) {
	start := time.Now()
	defer func() { record("SELECT", "hyperlinks", start, err) }()

	err = db.conn.SelectContext(ctx, &contacts, `
		SELECT h.rel, r.href,
		       (v.success_at IS NOT NULL) AS validated,
		       v.started_at
		FROM hyperlinks h
		JOIN resources r ON r.id = h.resource_id
		LEFT JOIN validations v ON v.resource_id = r.id
		WHERE h.library_id = $1
		ORDER BY h.rel`,
		libraryID)
	return contacts, err
}
