// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package models

import (
	"database/sql"
	"time"
)

// Stage is a visibility stage for a library. Both the library and the
// registry hold one; a library is publicly discoverable only when both
// are StageProduction.
type Stage string

const (
	StageTesting    Stage = "testing"
	StageProduction Stage = "production"
	StageCancelled  Stage = "cancelled"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageTesting, StageProduction, StageCancelled:
		return true
	}
	return false
}

// Library is a registered OPDS catalog provider.
type Library struct {
	ID          int64          `json:"-" db:"id"`
	UUID        string         `json:"uuid" db:"uuid"`
	Name        string         `json:"name" db:"name"`
	Description sql.NullString `json:"description,omitempty" db:"description"`

	// AuthDocumentURL is the URL the library registered with; the
	// authentication document fetched from it drives all other metadata.
	AuthDocumentURL string         `json:"authentication_url" db:"auth_document_url"`
	OPDSURL         sql.NullString `json:"opds_url,omitempty" db:"opds_url"`
	WebURL          sql.NullString `json:"web_url,omitempty" db:"web_url"`
	LogoURL         sql.NullString `json:"logo,omitempty" db:"logo_url"`

	// AuthDocumentID is the stable identifier the library's document
	// declares; re-registration with a different id is rejected.
	AuthDocumentID string `json:"-" db:"auth_document_id"`

	// SharedSecret authenticates the library on re-registration and
	// secret rotation. Hex-encoded, never exposed in feeds.
	SharedSecret string `json:"-" db:"shared_secret"`

	LibraryStage  Stage `json:"library_stage" db:"library_stage"`
	RegistryStage Stage `json:"registry_stage" db:"registry_stage"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// URN returns the library's stable URN identifier.
func (l *Library) URN() string {
	return "urn:uuid:" + l.UUID
}

// InProduction reports whether the library is visible in production
// discovery responses. Both stages must agree.
func (l *Library) InProduction() bool {
	return l.LibraryStage == StageProduction && l.RegistryStage == StageProduction
}

// Cancelled reports whether either side has cancelled the registration.
func (l *Library) Cancelled() bool {
	return l.LibraryStage == StageCancelled || l.RegistryStage == StageCancelled
}

// ServiceAreaType distinguishes where a library may serve patrons from
// where it concentrates outreach.
type ServiceAreaType string

const (
	// AreaEligibility covers everywhere the library will issue cards.
	AreaEligibility ServiceAreaType = "eligibility"
	// AreaFocus covers the area the library actively serves; nearby
	// search matches against focus areas.
	AreaFocus ServiceAreaType = "focus"
)

// ServiceArea links a library to a place it serves.
type ServiceArea struct {
	ID        int64           `json:"-" db:"id"`
	LibraryID int64           `json:"-" db:"library_id"`
	PlaceID   int64           `json:"-" db:"place_id"`
	Type      ServiceAreaType `json:"type" db:"type"`
}

// ServiceAreaPlace is a service area joined with its place, as
// returned by service-area queries.
type ServiceAreaPlace struct {
	Place
	AreaType ServiceAreaType `json:"area_type" db:"area_type"`
}

// NearbyLibrary is a search result carrying the distance in meters from
// the query point to the library's nearest focus area.
type NearbyLibrary struct {
	Library
	DistanceMeters float64 `json:"distance_meters" db:"distance_meters"`
}

// SearchResult is a name-search hit with its match quality. Lower
// Distance is better; 0 means exact or prefix match.
type SearchResult struct {
	Library
	Distance int `json:"-" db:"distance"`
}
