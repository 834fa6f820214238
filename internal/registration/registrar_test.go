// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package registration

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libratlas/libratlas/internal/database"
	"github.com/libratlas/libratlas/internal/models"
)

// fakeStore is an in-memory Store for exercising the registrar without
// Postgres.
type fakeStore struct {
	libraries   map[string]models.Library // keyed by auth document URL
	places      map[string]models.Place   // keyed by lookup query
	everywhere  models.Place
	nextID      int64
	lastUpsert  *database.RegistrationUpsert
	rotatedTo   string
	ambiguous   map[string]bool
	resources   map[string]models.Resource
	restartedID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		libraries:  make(map[string]models.Library),
		places:     make(map[string]models.Place),
		everywhere: models.Place{ID: 1, Type: models.PlaceEverywhere, Name: "Everywhere"},
		nextID:     100,
		ambiguous:  make(map[string]bool),
		resources:  make(map[string]models.Resource),
	}
}

func (s *fakeStore) LibraryByAuthURL(_ context.Context, url string) (models.Library, error) {
	lib, ok := s.libraries[url]
	if !ok {
		return models.Library{}, database.ErrNotFound
	}
	return lib, nil
}

func (s *fakeStore) UpsertRegistration(_ context.Context, reg *database.RegistrationUpsert) (models.Library, bool, []database.PendingValidation, error) {
	s.lastUpsert = reg
	lib, exists := s.libraries[reg.AuthDocumentURL]
	created := !exists
	if created {
		s.nextID++
		lib = models.Library{
			ID:            s.nextID,
			UUID:          fmt.Sprintf("uuid-%d", s.nextID),
			SharedSecret:  reg.SharedSecret,
			RegistryStage: models.StageTesting,
		}
	}
	lib.Name = reg.Name
	lib.AuthDocumentURL = reg.AuthDocumentURL
	lib.AuthDocumentID = reg.AuthDocumentID
	lib.LibraryStage = reg.LibraryStage
	s.libraries[reg.AuthDocumentURL] = lib

	var pending []database.PendingValidation
	for _, c := range reg.Contacts {
		if _, seen := s.resources[c.Href]; !seen {
			s.nextID++
			s.resources[c.Href] = models.Resource{ID: s.nextID, Href: c.Href}
			pending = append(pending, database.PendingValidation{Href: c.Href, Secret: c.ValidationSecret})
		}
	}
	return lib, created, pending, nil
}

func (s *fakeStore) UpdateSharedSecret(_ context.Context, libraryID int64, secret string) error {
	s.rotatedTo = secret
	for url, lib := range s.libraries {
		if lib.ID == libraryID {
			lib.SharedSecret = secret
			s.libraries[url] = lib
		}
	}
	return nil
}

func (s *fakeStore) LookupInside(_ context.Context, query string) (models.Place, error) {
	if s.ambiguous[query] {
		return models.Place{}, database.ErrAmbiguous
	}
	p, ok := s.places[query]
	if !ok {
		return models.Place{}, database.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) Everywhere(_ context.Context) (models.Place, error) {
	return s.everywhere, nil
}

func (s *fakeStore) ResourceByHref(_ context.Context, href string) (models.Resource, error) {
	res, ok := s.resources[href]
	if !ok {
		return models.Resource{}, database.ErrNotFound
	}
	return res, nil
}

func (s *fakeStore) RestartValidation(_ context.Context, resourceID int64, _ string) error {
	s.restartedID = resourceID
	return nil
}

func newTestRegistrar(store *fakeStore) *Registrar {
	return NewRegistrar(store, testFetcher(), NewLogNotifier())
}

func TestRegisterCreatesLibrary(t *testing.T) {
	srv := authDocServer(t, AuthDocumentType, `{
		"id": "urn:uuid:springfield",
		"title": "Springfield Public Library",
		"links": [{"rel": "help", "href": "mailto:help@spl.example.org"}],
		"service_area": "Springfield, IL"
	}`)

	store := newFakeStore()
	store.places["Springfield, IL"] = models.Place{ID: 7, Type: models.PlaceCity, Name: "Springfield"}

	result, err := newTestRegistrar(store).Register(context.Background(), &RegisterRequest{URL: srv.URL})
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.NotEmpty(t, result.SharedSecret)
	assert.Equal(t, "Springfield Public Library", result.Library.Name)
	assert.False(t, result.SecretRotated)
	require.Len(t, result.PendingValidations, 1)
	assert.Equal(t, "mailto:help@spl.example.org", result.PendingValidations[0].Href)

	// With only a service_area declared, it covers both area types.
	require.Len(t, store.lastUpsert.ServiceAreas, 2)
	assert.Equal(t, int64(7), store.lastUpsert.ServiceAreas[0].PlaceID)
	assert.Equal(t, int64(7), store.lastUpsert.ServiceAreas[1].PlaceID)
	types := []models.ServiceAreaType{store.lastUpsert.ServiceAreas[0].Type, store.lastUpsert.ServiceAreas[1].Type}
	assert.ElementsMatch(t, []models.ServiceAreaType{models.AreaEligibility, models.AreaFocus}, types)
}

func TestRegisterDefaultsToEverywhere(t *testing.T) {
	srv := authDocServer(t, AuthDocumentType, `{
		"id": "urn:uuid:open",
		"title": "Open Library"
	}`)

	store := newFakeStore()
	result, err := newTestRegistrar(store).Register(context.Background(), &RegisterRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.True(t, result.Created)

	require.Len(t, store.lastUpsert.ServiceAreas, 2)
	for _, ref := range store.lastUpsert.ServiceAreas {
		assert.Equal(t, store.everywhere.ID, ref.PlaceID)
	}
}

func TestRegisterUpdateKeepsSecret(t *testing.T) {
	srv := authDocServer(t, AuthDocumentType, `{
		"id": "urn:uuid:stable",
		"title": "Renamed Library"
	}`)

	store := newFakeStore()
	reg := newTestRegistrar(store)

	first, err := reg.Register(context.Background(), &RegisterRequest{URL: srv.URL})
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := reg.Register(context.Background(), &RegisterRequest{URL: srv.URL})
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Empty(t, second.SharedSecret, "no new secret without bearer proof")
	assert.Equal(t, first.SharedSecret, store.libraries[srv.URL].SharedSecret)
}

func TestRegisterRotatesSecretWithBearerProof(t *testing.T) {
	srv := authDocServer(t, AuthDocumentType, `{
		"id": "urn:uuid:rotating",
		"title": "Rotating Library"
	}`)

	store := newFakeStore()
	reg := newTestRegistrar(store)

	first, err := reg.Register(context.Background(), &RegisterRequest{URL: srv.URL})
	require.NoError(t, err)

	second, err := reg.Register(context.Background(), &RegisterRequest{
		URL:          srv.URL,
		BearerSecret: first.SharedSecret,
	})
	require.NoError(t, err)

	assert.True(t, second.SecretRotated)
	assert.NotEmpty(t, second.SharedSecret)
	assert.NotEqual(t, first.SharedSecret, second.SharedSecret)
	assert.Equal(t, second.SharedSecret, store.rotatedTo)
}

func TestRegisterRejectsWrongBearerSecret(t *testing.T) {
	srv := authDocServer(t, AuthDocumentType, `{
		"id": "urn:uuid:guarded",
		"title": "Guarded Library"
	}`)

	store := newFakeStore()
	reg := newTestRegistrar(store)

	_, err := reg.Register(context.Background(), &RegisterRequest{URL: srv.URL})
	require.NoError(t, err)

	_, err = reg.Register(context.Background(), &RegisterRequest{
		URL:          srv.URL,
		BearerSecret: "not-the-secret",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterRejectsChangedDocumentID(t *testing.T) {
	store := newFakeStore()
	reg := newTestRegistrar(store)

	srv := authDocServer(t, AuthDocumentType, `{"id": "urn:uuid:original", "title": "Library"}`)
	_, err := reg.Register(context.Background(), &RegisterRequest{URL: srv.URL})
	require.NoError(t, err)

	// Same URL now serves a document claiming a different identity.
	changed := store.libraries[srv.URL]
	changed.AuthDocumentID = "urn:uuid:original"
	store.libraries[srv.URL] = changed

	srv2 := authDocServer(t, AuthDocumentType, `{"id": "urn:uuid:impostor", "title": "Library"}`)
	lib := store.libraries[srv.URL]
	delete(store.libraries, srv.URL)
	lib.AuthDocumentURL = srv2.URL
	store.libraries[srv2.URL] = lib

	_, err = reg.Register(context.Background(), &RegisterRequest{URL: srv2.URL})
	assert.ErrorIs(t, err, ErrIDMismatch)
}

func TestRegisterRejectsUnknownPlace(t *testing.T) {
	srv := authDocServer(t, AuthDocumentType, `{
		"id": "urn:uuid:lost",
		"title": "Lost Library",
		"service_area": "Atlantis"
	}`)

	_, err := newTestRegistrar(newFakeStore()).Register(context.Background(), &RegisterRequest{URL: srv.URL})
	assert.ErrorIs(t, err, ErrUnknownPlace)
}

func TestRegisterRejectsAmbiguousPlace(t *testing.T) {
	srv := authDocServer(t, AuthDocumentType, `{
		"id": "urn:uuid:vague",
		"title": "Vague Library",
		"service_area": "Springfield"
	}`)

	store := newFakeStore()
	store.ambiguous["Springfield"] = true

	_, err := newTestRegistrar(store).Register(context.Background(), &RegisterRequest{URL: srv.URL})
	assert.ErrorIs(t, err, ErrAmbiguousPlace)
}

func TestRegisterSeparateFocusArea(t *testing.T) {
	srv := authDocServer(t, AuthDocumentType, `{
		"id": "urn:uuid:statewide",
		"title": "State Library",
		"service_area": "Kansas",
		"focus_area": "Topeka, KS"
	}`)

	store := newFakeStore()
	store.places["Kansas"] = models.Place{ID: 10, Type: models.PlaceState, Name: "Kansas"}
	store.places["Topeka, KS"] = models.Place{ID: 11, Type: models.PlaceCity, Name: "Topeka"}

	_, err := newTestRegistrar(store).Register(context.Background(), &RegisterRequest{URL: srv.URL})
	require.NoError(t, err)

	require.Len(t, store.lastUpsert.ServiceAreas, 2)
	assert.Equal(t, database.ServiceAreaRef{PlaceID: 10, Type: models.AreaEligibility}, store.lastUpsert.ServiceAreas[0])
	assert.Equal(t, database.ServiceAreaRef{PlaceID: 11, Type: models.AreaFocus}, store.lastUpsert.ServiceAreas[1])
}

func TestRegisterContactParam(t *testing.T) {
	srv := authDocServer(t, AuthDocumentType, `{
		"id": "urn:uuid:quiet",
		"title": "Quiet Library"
	}`)

	store := newFakeStore()
	result, err := newTestRegistrar(store).Register(context.Background(), &RegisterRequest{
		URL:     srv.URL,
		Contact: "mailto:admin@quiet.example.org",
	})
	require.NoError(t, err)

	require.Len(t, result.PendingValidations, 1)
	assert.Equal(t, "mailto:admin@quiet.example.org", result.PendingValidations[0].Href)
	require.Len(t, store.lastUpsert.Contacts, 1)
	assert.Equal(t, models.RelHelp, store.lastUpsert.Contacts[0].Rel)
}

func TestRegisterValidatesRequest(t *testing.T) {
	reg := newTestRegistrar(newFakeStore())

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"empty url", RegisterRequest{}},
		{"relative url", RegisterRequest{URL: "/auth_document"}},
		{"bad scheme", RegisterRequest{URL: "ftp://example.org/doc"}},
		{"non-mailto contact", RegisterRequest{URL: "https://example.org/doc", Contact: "help@example.org"}},
		{"bad stage", RegisterRequest{URL: "https://example.org/doc", Stage: "cancelled"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Register(context.Background(), &tt.req)
			assert.ErrorIs(t, err, ErrBadRequest)
		})
	}
}

func TestResendValidation(t *testing.T) {
	store := newFakeStore()
	store.resources["mailto:help@example.org"] = models.Resource{ID: 42, Href: "mailto:help@example.org"}

	reg := newTestRegistrar(store)
	err := reg.ResendValidation(context.Background(), "Some Library", "mailto:help@example.org")
	require.NoError(t, err)
	assert.Equal(t, int64(42), store.restartedID)
}

func TestResendValidationUnknownContact(t *testing.T) {
	reg := newTestRegistrar(newFakeStore())
	err := reg.ResendValidation(context.Background(), "Some Library", "mailto:nobody@example.org")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestNotifierThrottle(t *testing.T) {
	n := NewLogNotifier()
	ctx := context.Background()

	require.NoError(t, n.NotifyValidation(ctx, "Lib", "mailto:a@example.org", "s1"))
	require.NoError(t, n.NotifyValidation(ctx, "Lib", "mailto:a@example.org", "s2"))
	assert.ErrorIs(t, n.NotifyValidation(ctx, "Lib", "mailto:a@example.org", "s3"), ErrThrottled)

	// A different contact has its own budget.
	assert.NoError(t, n.NotifyValidation(ctx, "Lib", "mailto:b@example.org", "s4"))
}

func TestNewSecretUniqueness(t *testing.T) {
	a, err := NewSecret()
	require.NoError(t, err)
	b, err := NewSecret()
	require.NoError(t, err)

	assert.Len(t, a, 96)
	assert.NotEqual(t, a, b)
}
