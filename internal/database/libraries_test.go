// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/libratlas/libratlas/internal/models"
)

// registerTestLibrary creates a library with one focus area.
func registerTestLibrary(t *testing.T, db *DB, name string, placeID int64, stage models.Stage) models.Library {
	t.Helper()

	library, created, _, err := db.UpsertRegistration(context.Background(), &RegistrationUpsert{
		AuthDocumentURL: fmt.Sprintf("https://%s.example.org/authentication_document", name),
		AuthDocumentID:  fmt.Sprintf("urn:uuid:doc-%s", name),
		Name:            name,
		LibraryStage:    stage,
		SharedSecret:    "secret-" + name,
		ServiceAreas: []ServiceAreaRef{
			{PlaceID: placeID, Type: models.AreaFocus},
			{PlaceID: placeID, Type: models.AreaEligibility},
		},
	})
	if err != nil {
		t.Fatalf("failed to register %s: %v", name, err)
	}
	if !created {
		t.Fatalf("expected %s to be newly created", name)
	}
	return library
}

func TestUpsertRegistrationCreateAndUpdate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	place := insertTestPlace(t, db, "Brooklyn", models.PlaceCity, 0, -73.95, 40.65, 0.2)

	reg := &RegistrationUpsert{
		AuthDocumentURL: "https://nypl.example.org/authentication_document",
		AuthDocumentID:  "urn:uuid:stable-id",
		Name:            "Brooklyn Public Library",
		LibraryStage:    models.StageTesting,
		SharedSecret:    "initial-secret",
		ServiceAreas:    []ServiceAreaRef{{PlaceID: place.ID, Type: models.AreaFocus}},
		Contacts: []ContactRef{
			{Rel: models.RelHelp, Href: "mailto:help@bpl.example.org", ValidationSecret: "vsecret-1"},
		},
	}

	library, created, pending, err := db.UpsertRegistration(ctx, reg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Error("expected created=true on first registration")
	}
	if len(pending) != 1 || pending[0].Secret != "vsecret-1" {
		t.Errorf("expected one pending validation, got %+v", pending)
	}
	if library.SharedSecret != "initial-secret" {
		t.Errorf("unexpected shared secret %q", library.SharedSecret)
	}

	// Re-registration updates in place, keeps the secret, and does not
	// re-create the contact validation.
	reg.Name = "Brooklyn Public Library (renamed)"
	reg.SharedSecret = "should-be-ignored"
	reg.Contacts[0].ValidationSecret = "vsecret-2"

	updated, created, pending, err := db.UpsertRegistration(ctx, reg)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if created {
		t.Error("expected created=false on re-registration")
	}
	if updated.ID != library.ID {
		t.Errorf("expected same row, got id %d and %d", library.ID, updated.ID)
	}
	if updated.Name != "Brooklyn Public Library (renamed)" {
		t.Errorf("name not updated: %q", updated.Name)
	}
	if updated.SharedSecret != "initial-secret" {
		t.Errorf("shared secret must not change on update, got %q", updated.SharedSecret)
	}
	if len(pending) != 0 {
		t.Errorf("expected no new validations on re-registration, got %+v", pending)
	}
}

func TestUpsertRegistrationRollsBackOnBadPlace(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, _, _, err := db.UpsertRegistration(ctx, &RegistrationUpsert{
		AuthDocumentURL: "https://broken.example.org/authentication_document",
		AuthDocumentID:  "urn:uuid:broken",
		Name:            "Broken Library",
		LibraryStage:    models.StageTesting,
		SharedSecret:    "s",
		ServiceAreas:    []ServiceAreaRef{{PlaceID: 999999, Type: models.AreaFocus}},
	})
	if err == nil {
		t.Fatal("expected foreign key error")
	}

	// The library row must not survive the rollback.
	_, err = db.LibraryByAuthURL(ctx, "https://broken.example.org/authentication_document")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after rollback, got %v", err)
	}
}

func TestNearbyLibraries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Two cities ~50km apart, one far away.
	near := insertTestPlace(t, db, "Nearville", models.PlaceCity, 0, -73.95, 40.65, 0.1)
	mid := insertTestPlace(t, db, "Midtown", models.PlaceCity, 0, -73.5, 40.9, 0.1)
	far := insertTestPlace(t, db, "Faraway", models.PlaceCity, 0, -100.0, 45.0, 0.1)

	nearLib := registerTestLibrary(t, db, "near-library", near.ID, models.StageProduction)
	midLib := registerTestLibrary(t, db, "mid-library", mid.ID, models.StageProduction)
	registerTestLibrary(t, db, "far-library", far.ID, models.StageProduction)

	for _, name := range []string{"near-library", "mid-library", "far-library"} {
		lib, err := db.LibraryByAuthURL(ctx, fmt.Sprintf("https://%s.example.org/authentication_document", name))
		if err != nil {
			t.Fatalf("lookup %s: %v", name, err)
		}
		if _, err := db.SetRegistryStage(ctx, lib.UUID, models.StageProduction); err != nil {
			t.Fatalf("stage %s: %v", name, err)
		}
	}

	results, err := db.NearbyLibraries(ctx, -73.95, 40.65, 150_000, true)
	if err != nil {
		t.Fatalf("NearbyLibraries: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 nearby libraries, got %d", len(results))
	}
	if results[0].UUID != nearLib.UUID {
		t.Errorf("expected nearest library first, got %s", results[0].Name)
	}
	if results[1].UUID != midLib.UUID {
		t.Errorf("expected mid library second, got %s", results[1].Name)
	}
	if results[0].DistanceMeters > results[1].DistanceMeters {
		t.Errorf("distances out of order: %f > %f", results[0].DistanceMeters, results[1].DistanceMeters)
	}
}

func TestProductionVisibility(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	place := insertTestPlace(t, db, "Testville", models.PlaceCity, 0, -73.95, 40.65, 0.1)

	// library_stage production but registry_stage still testing
	halfLib := registerTestLibrary(t, db, "half-production", place.ID, models.StageProduction)

	// both production
	fullLib := registerTestLibrary(t, db, "full-production", place.ID, models.StageProduction)
	if _, err := db.SetRegistryStage(ctx, fullLib.UUID, models.StageProduction); err != nil {
		t.Fatalf("SetRegistryStage: %v", err)
	}

	production, err := db.Libraries(ctx, true)
	if err != nil {
		t.Fatalf("Libraries(production): %v", err)
	}
	if len(production) != 1 || production[0].UUID != fullLib.UUID {
		t.Errorf("production feed must contain only dual-production libraries, got %d", len(production))
	}

	qa, err := db.Libraries(ctx, false)
	if err != nil {
		t.Fatalf("Libraries(qa): %v", err)
	}
	if len(qa) != 2 {
		t.Errorf("qa feed should contain both libraries, got %d", len(qa))
	}

	// Cancelling at either level removes from both feeds.
	if _, err := db.SetRegistryStage(ctx, halfLib.UUID, models.StageCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	qa, err = db.Libraries(ctx, false)
	if err != nil {
		t.Fatalf("Libraries(qa) after cancel: %v", err)
	}
	if len(qa) != 1 {
		t.Errorf("cancelled library must leave the qa feed, got %d entries", len(qa))
	}
}

func TestSearchLibraries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	place := insertTestPlace(t, db, "Anytown", models.PlaceCity, 0, -73.95, 40.65, 0.1)

	for _, name := range []string{"Anytown Public Library", "Anytown Athenaeum", "Other City Library"} {
		lib := registerTestLibrary(t, db, name, place.ID, models.StageProduction)
		if _, err := db.SetRegistryStage(ctx, lib.UUID, models.StageProduction); err != nil {
			t.Fatalf("stage: %v", err)
		}
	}

	t.Run("prefix match scores zero", func(t *testing.T) {
		results, err := db.SearchLibraries(ctx, "Anytown", true)
		if err != nil {
			t.Fatalf("SearchLibraries: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("expected 2 prefix matches, got %d", len(results))
		}
		for _, r := range results {
			if r.Distance != 0 {
				t.Errorf("prefix match should score 0, got %d for %s", r.Distance, r.Name)
			}
		}
	})

	t.Run("typo within threshold matches", func(t *testing.T) {
		results, err := db.SearchLibraries(ctx, "Anytown Public Librry", true)
		if err != nil {
			t.Fatalf("SearchLibraries: %v", err)
		}
		if len(results) == 0 {
			t.Fatal("expected fuzzy match for single-character typo")
		}
		if results[0].Name != "Anytown Public Library" {
			t.Errorf("expected best match first, got %s", results[0].Name)
		}
	})

	t.Run("nonsense query matches nothing", func(t *testing.T) {
		results, err := db.SearchLibraries(ctx, "zzzzqqqqxxxx", true)
		if err != nil {
			t.Fatalf("SearchLibraries: %v", err)
		}
		if len(results) != 0 {
			t.Errorf("expected no matches, got %d", len(results))
		}
	})
}

func TestLibrariesServingPlace(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	state := insertTestPlace(t, db, "Illinois", models.PlaceState, 0, -89.0, 40.0, 3.0)
	city := insertTestPlace(t, db, "Springfield", models.PlaceCity, state.ID, -89.65, 39.78, 0.2)
	everywhere, err := db.Everywhere(ctx)
	if err != nil {
		t.Fatalf("Everywhere: %v", err)
	}

	stateLib := registerTestLibrary(t, db, "state-library", state.ID, models.StageProduction)
	globalLib := registerTestLibrary(t, db, "global-library", everywhere.ID, models.StageProduction)
	for _, lib := range []models.Library{stateLib, globalLib} {
		if _, err := db.SetRegistryStage(ctx, lib.UUID, models.StageProduction); err != nil {
			t.Fatalf("stage: %v", err)
		}
	}

	// Both the state library (ancestor/coverage) and the everywhere
	// library serve the city.
	libraries, err := db.LibrariesServingPlace(ctx, city.ID, true)
	if err != nil {
		t.Fatalf("LibrariesServingPlace: %v", err)
	}
	if len(libraries) != 2 {
		t.Errorf("expected 2 libraries serving the city, got %d", len(libraries))
	}
}

func TestSharedSecretRotation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	place := insertTestPlace(t, db, "Secretville", models.PlaceCity, 0, -73.95, 40.65, 0.1)
	lib := registerTestLibrary(t, db, "rotating", place.ID, models.StageTesting)

	if err := db.UpdateSharedSecret(ctx, lib.ID, "new-secret"); err != nil {
		t.Fatalf("UpdateSharedSecret: %v", err)
	}
	got, err := db.LibraryByUUID(ctx, lib.UUID)
	if err != nil {
		t.Fatalf("LibraryByUUID: %v", err)
	}
	if got.SharedSecret != "new-secret" {
		t.Errorf("secret not rotated, got %q", got.SharedSecret)
	}

	if err := db.UpdateSharedSecret(ctx, 999999, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing library, got %v", err)
	}
}

func TestValidationLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	place := insertTestPlace(t, db, "Mailtown", models.PlaceCity, 0, -73.95, 40.65, 0.1)
	library, _, pending, err := db.UpsertRegistration(ctx, &RegistrationUpsert{
		AuthDocumentURL: "https://mail.example.org/authentication_document",
		AuthDocumentID:  "urn:uuid:mail",
		Name:            "Mailtown Library",
		LibraryStage:    models.StageTesting,
		SharedSecret:    "s",
		ServiceAreas:    []ServiceAreaRef{{PlaceID: place.ID, Type: models.AreaFocus}},
		Contacts: []ContactRef{
			{Rel: models.RelHelp, Href: "mailto:help@mail.example.org", ValidationSecret: "confirm-me"},
		},
	})
	if err != nil {
		t.Fatalf("registration: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending validation, got %d", len(pending))
	}

	t.Run("unknown secret", func(t *testing.T) {
		_, err := db.ConfirmValidation(ctx, "wrong-secret", 24*time.Hour)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("confirm succeeds and is idempotent", func(t *testing.T) {
		href, err := db.ConfirmValidation(ctx, "confirm-me", 24*time.Hour)
		if err != nil {
			t.Fatalf("ConfirmValidation: %v", err)
		}
		if href != "mailto:help@mail.example.org" {
			t.Errorf("unexpected href %q", href)
		}

		// Second confirmation is a no-op success.
		if _, err := db.ConfirmValidation(ctx, "confirm-me", 24*time.Hour); err != nil {
			t.Errorf("repeat confirmation should succeed, got %v", err)
		}

		contacts, err := db.ContactsForLibrary(ctx, library.ID)
		if err != nil {
			t.Fatalf("ContactsForLibrary: %v", err)
		}
		if len(contacts) != 1 || !contacts[0].Validated {
			t.Errorf("expected validated contact, got %+v", contacts)
		}
	})

	t.Run("expired secret", func(t *testing.T) {
		resource, err := db.ResourceByHref(ctx, "mailto:help@mail.example.org")
		if err != nil {
			t.Fatalf("ResourceByHref: %v", err)
		}
		if err := db.RestartValidation(ctx, resource.ID, "fresh-secret"); err != nil {
			t.Fatalf("RestartValidation: %v", err)
		}

		// Backdate the restart beyond the TTL.
		if _, err := db.conn.Exec(
			`UPDATE validations SET started_at = now() - interval '25 hours' WHERE resource_id = $1`,
			resource.ID); err != nil {
			t.Fatalf("backdate: %v", err)
		}

		_, err = db.ConfirmValidation(ctx, "fresh-secret", 24*time.Hour)
		if !errors.Is(err, ErrValidationExpired) {
			t.Errorf("expected ErrValidationExpired, got %v", err)
		}
	})
}

func TestSettingsInheritance(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	place := insertTestPlace(t, db, "Settington", models.PlaceCity, 0, -73.95, 40.65, 0.1)
	lib := registerTestLibrary(t, db, "settings-library", place.ID, models.StageTesting)

	if err := db.SetSetting(ctx, models.SettingContactEmail, "admin@registry.example.org", 0); err != nil {
		t.Fatalf("SetSetting site: %v", err)
	}

	// Library scope falls back to site-wide.
	value, err := db.GetSetting(ctx, models.SettingContactEmail, lib.ID)
	if err != nil {
		t.Fatalf("GetSetting fallback: %v", err)
	}
	if value != "admin@registry.example.org" {
		t.Errorf("expected site-wide fallback, got %q", value)
	}

	// Library override wins.
	if err := db.SetSetting(ctx, models.SettingContactEmail, "lib@example.org", lib.ID); err != nil {
		t.Fatalf("SetSetting library: %v", err)
	}
	value, err = db.GetSetting(ctx, models.SettingContactEmail, lib.ID)
	if err != nil {
		t.Fatalf("GetSetting override: %v", err)
	}
	if value != "lib@example.org" {
		t.Errorf("expected library override, got %q", value)
	}

	// Unknown key
	if _, err := db.GetSetting(ctx, "registry.unknown", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Delete removes the override, restoring fallback.
	if err := db.DeleteSetting(ctx, models.SettingContactEmail, lib.ID); err != nil {
		t.Fatalf("DeleteSetting: %v", err)
	}
	value, _ = db.GetSetting(ctx, models.SettingContactEmail, lib.ID)
	if value != "admin@registry.example.org" {
		t.Errorf("expected fallback after delete, got %q", value)
	}
}

func TestEnsureAdmin(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.EnsureAdmin(ctx, "admin", "hash-1"); err != nil {
		t.Fatalf("EnsureAdmin create: %v", err)
	}
	if err := db.EnsureAdmin(ctx, "admin", "hash-2"); err != nil {
		t.Fatalf("EnsureAdmin update: %v", err)
	}

	admin, err := db.AdminByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("AdminByUsername: %v", err)
	}
	if admin.PasswordHash != "hash-2" {
		t.Errorf("expected refreshed hash, got %q", admin.PasswordHash)
	}

	if _, err := db.AdminByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
