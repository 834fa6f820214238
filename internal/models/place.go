// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package models

import (
	"database/sql"
	"time"
)

// PlaceType identifies a level in the geographic hierarchy.
type PlaceType string

const (
	PlaceNation     PlaceType = "nation"
	PlaceState      PlaceType = "state"
	PlaceCounty     PlaceType = "county"
	PlaceCity       PlaceType = "city"
	PlacePostalCode PlaceType = "postal_code"
	// PlaceEverywhere is the singleton catch-all place. It has no parent
	// and no geometry; a library serving "everywhere" links to it.
	PlaceEverywhere PlaceType = "everywhere"
)

// placeSpecificity orders place types from broadest to most specific.
// Used to break ties in fuzzy matching: a city beats a county of the
// same name at the same edit distance.
var placeSpecificity = map[PlaceType]int{
	PlaceEverywhere: 0,
	PlaceNation:     1,
	PlaceState:      2,
	PlaceCounty:     3,
	PlaceCity:       4,
	PlacePostalCode: 5,
}

// Specificity returns a rank where higher means more specific.
func (t PlaceType) Specificity() int {
	return placeSpecificity[t]
}

// Valid reports whether t is a known place type.
func (t PlaceType) Valid() bool {
	_, ok := placeSpecificity[t]
	return ok
}

// Place is a named geographic area in the registry's hierarchy.
// Geometry is stored as MULTIPOLYGON with SRID 4326 and only ever
// accessed through spatial SQL; it is not scanned into this struct.
type Place struct {
	ID              int64          `json:"-" db:"id"`
	UUID            string         `json:"uuid" db:"uuid"`
	Type            PlaceType      `json:"type" db:"type"`
	ExternalID      sql.NullString `json:"external_id,omitempty" db:"external_id"` // GeoNames / FIPS identifier
	Name            string         `json:"name" db:"name"`
	AbbreviatedName sql.NullString `json:"abbreviated_name,omitempty" db:"abbreviated_name"`
	ParentID        sql.NullInt64  `json:"-" db:"parent_id"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

// FullName renders the place with its abbreviation when one exists,
// e.g. "New York (NY)".
func (p *Place) FullName() string {
	if p.AbbreviatedName.Valid && p.AbbreviatedName.String != "" {
		return p.Name + " (" + p.AbbreviatedName.String + ")"
	}
	return p.Name
}

// IsEverywhere reports whether this is the catch-all place.
func (p *Place) IsEverywhere() bool {
	return p.Type == PlaceEverywhere
}

// PlaceAlias is an alternate name for a place, optionally tagged with
// a BCP 47 language code.
type PlaceAlias struct {
	ID       int64  `json:"-" db:"id"`
	PlaceID  int64  `json:"-" db:"place_id"`
	Name     string `json:"name" db:"name"`
	Language string `json:"language,omitempty" db:"language"`
}

// FuzzyMatch is a place candidate from Levenshtein matching along with
// its edit distance from the query.
type FuzzyMatch struct {
	Place
	Distance int `json:"distance" db:"distance"`
}
