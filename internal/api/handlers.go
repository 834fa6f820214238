// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package api

import (
	"context"
	"time"

	"github.com/libratlas/libratlas/internal/cache"
	"github.com/libratlas/libratlas/internal/config"
	"github.com/libratlas/libratlas/internal/models"
	"github.com/libratlas/libratlas/internal/opds"
	"github.com/libratlas/libratlas/internal/registration"
)

// Store is the persistence surface handlers read from and write to.
// *database.DB satisfies it; tests substitute an in-memory fake.
type Store interface {
	Ping(ctx context.Context) error

	Libraries(ctx context.Context, productionOnly bool) ([]models.Library, error)
	AllLibraries(ctx context.Context) ([]models.Library, error)
	LibraryByUUID(ctx context.Context, uuid string) (models.Library, error)
	NearbyLibraries(ctx context.Context, lon, lat, radiusMeters float64, productionOnly bool) ([]models.NearbyLibrary, error)
	SearchLibraries(ctx context.Context, query string, productionOnly bool) ([]models.SearchResult, error)
	LibrariesServingPlace(ctx context.Context, placeID int64, productionOnly bool) ([]models.Library, error)
	ServiceAreas(ctx context.Context, libraryID int64) ([]models.ServiceAreaPlace, error)
	SetRegistryStage(ctx context.Context, uuid string, stage models.Stage) (models.Library, error)
	UpdateSharedSecret(ctx context.Context, libraryID int64, secret string) error

	LookupInside(ctx context.Context, query string) (models.Place, error)
	PlaceByUUID(ctx context.Context, uuid string) (models.Place, error)
	CreatePlace(ctx context.Context, p *models.Place, geojson string) (models.Place, error)

	ConfirmValidation(ctx context.Context, secret string, ttl time.Duration) (string, error)
	ContactsForLibrary(ctx context.Context, libraryID int64) ([]models.ContactStatus, error)

	AdminByUsername(ctx context.Context, username string) (models.Admin, error)

	GetSetting(ctx context.Context, key string, libraryID int64) (string, error)
	SetSetting(ctx context.Context, key, value string, libraryID int64) error
	ListSettings(ctx context.Context, libraryID int64) ([]models.ConfigurationSetting, error)
	DeleteSetting(ctx context.Context, key string, libraryID int64) error
}

// Registrar drives the registration protocol for the register endpoint.
type Registrar interface {
	Register(ctx context.Context, req *registration.RegisterRequest) (*registration.RegisterResult, error)
	ResendValidation(ctx context.Context, libraryName, href string) error
}

// TokenIssuer issues admin session tokens after a successful login.
type TokenIssuer interface {
	GenerateToken(username string) (string, error)
}

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	store     Store
	registrar Registrar
	builder   *opds.Builder
	tokens    TokenIssuer
	cfg       *config.Config

	// feedCache holds rendered production feeds; registration and stage
	// changes clear it.
	feedCache *cache.Cache
}

// NewHandler wires a Handler. The feed cache TTL bounds staleness for
// feeds rendered between invalidations.
func NewHandler(store Store, registrar Registrar, builder *opds.Builder, tokens TokenIssuer, cfg *config.Config) *Handler {
	return &Handler{
		store:     store,
		registrar: registrar,
		builder:   builder,
		tokens:    tokens,
		cfg:       cfg,
		feedCache: cache.New("feed", 5*time.Minute),
	}
}
