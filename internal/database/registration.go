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

	"github.com/google/uuid"

	"github.com/libratlas/libratlas/internal/logging"
	"github.com/libratlas/libratlas/internal/models"
)

// ServiceAreaRef names a resolved place for a library's service area.
type ServiceAreaRef struct {
	PlaceID int64
	Type    models.ServiceAreaType
}

// ContactRef is a contact hyperlink to persist during registration.
// ValidationSecret is consumed only when a new validation row is
// created for the contact's resource.
type ContactRef struct {
	Rel              string
	Href             string
	ValidationSecret string
}

// RegistrationUpsert carries everything the registration transaction
// writes. The registrar assembles it after fetching and validating the
// authentication document and resolving service areas.
type RegistrationUpsert struct {
	AuthDocumentURL string
	AuthDocumentID  string
	Name            string
	Description     string
	OPDSURL         string
	WebURL          string
	LogoURL         string
	LibraryStage    models.Stage
	SharedSecret    string // used on create only
	ServiceAreas    []ServiceAreaRef
	Contacts        []ContactRef
}

// PendingValidation reports a validation created during registration;
// the caller dispatches a confirmation notification for each.
type PendingValidation struct {
	Href   string
	Secret string
}

// UpsertRegistration creates or updates a library registration in a
// single transaction: the library row, a full replacement of its
// service areas, and contact resources with pending validations.
// Any failure rolls the whole registration back.
func (db *DB) UpsertRegistration(ctx context.Context, reg *RegistrationUpsert) (library models.Library, created bool, pending []PendingValidation, err error) {
	start := time.Now()
	defer func() { record("UPSERT", "libraries", start, err) }()

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return library, false, nil, err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logging.Ctx(ctx).Error().Err(rbErr).Msg("Registration rollback failed")
			}
		}
	}()

	nullable := func(s string) interface{} {
		if s == "" {
			return nil
		}
		return s
	}

	// Lock the existing row if there is one so concurrent
	// re-registrations for the same URL serialize.
	var existingID int64
	err = tx.GetContext(ctx, &existingID,
		`SELECT id FROM libraries WHERE auth_document_url = $1 FOR UPDATE`,
		reg.AuthDocumentURL)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
		err = tx.GetContext(ctx, &library, `
			INSERT INTO libraries (uuid, name, description, auth_document_url, auth_document_id,
			                       opds_url, web_url, logo_url, shared_secret, library_stage)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+libraryColumns,
			uuid.New().String(), reg.Name, nullable(reg.Description), reg.AuthDocumentURL,
			reg.AuthDocumentID, nullable(reg.OPDSURL), nullable(reg.WebURL),
			nullable(reg.LogoURL), reg.SharedSecret, reg.LibraryStage)
	case err == nil:
		err = tx.GetContext(ctx, &library, `
			UPDATE libraries
			SET name = $2, description = $3, auth_document_id = $4,
			    opds_url = $5, web_url = $6, logo_url = $7,
			    library_stage = $8, updated_at = now()
			WHERE id = $1
			RETURNING `+libraryColumns,
			existingID, reg.Name, nullable(reg.Description), reg.AuthDocumentID,
			nullable(reg.OPDSURL), nullable(reg.WebURL), nullable(reg.LogoURL),
			reg.LibraryStage)
	}
	if err != nil {
		return library, created, nil, err
	}

	// Service areas are replaced wholesale; the document is the source
	// of truth on every registration.
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM service_areas WHERE library_id = $1`, library.ID); err != nil {
		return library, created, nil, err
	}
	for _, area := range reg.ServiceAreas {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO service_areas (library_id, place_id, type)
			VALUES ($1, $2, $3)
			ON CONFLICT (library_id, place_id, type) DO NOTHING`,
			library.ID, area.PlaceID, area.Type); err != nil {
			return library, created, nil, err
		}
	}

	for _, contact := range reg.Contacts {
		var resourceID int64
		err = tx.GetContext(ctx, &resourceID, `
			INSERT INTO resources (href) VALUES ($1)
			ON CONFLICT (href) DO UPDATE SET href = EXCLUDED.href
			RETURNING id`,
			contact.Href)
		if err != nil {
			return library, created, nil, err
		}

		if _, err = tx.ExecContext(ctx, `
			INSERT INTO hyperlinks (library_id, rel, resource_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (library_id, rel) DO UPDATE SET resource_id = EXCLUDED.resource_id`,
			library.ID, contact.Rel, resourceID); err != nil {
			return library, created, nil, err
		}

		// A resource keeps its validation across registrations; a new
		// one gets a pending validation with the supplied secret.
		var validationID int64
		err = tx.GetContext(ctx, &validationID, `
			INSERT INTO validations (resource_id, secret)
			VALUES ($1, $2)
			ON CONFLICT (resource_id) DO NOTHING
			RETURNING id`,
			resourceID, contact.ValidationSecret)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			err = nil // validation already existed
		case err == nil:
			pending = append(pending, PendingValidation{Href: contact.Href, Secret: contact.ValidationSecret})
		default:
			return library, created, nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return library, created, nil, err
	}

	return library, created, pending, nil
}
