// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

// Package opds renders OPDS 2.0 JSON catalog documents: the root
// discovery document, library feeds, and per-library catalog entries.
package opds

import (
	"strings"
	"time"

	"github.com/libratlas/libratlas/internal/models"
	"github.com/libratlas/libratlas/internal/registration"
)

// Media types for feed documents and links.
const (
	FeedType   = "application/opds+json"
	SearchType = "application/opensearchdescription+xml"
)

// Link rel values defined by OPDS.
const (
	RelSelf     = "self"
	RelStart    = "start"
	RelAuthDoc  = "http://opds-spec.org/auth/document"
	RelCatalog  = "http://opds-spec.org/catalog"
	RelRegister = "register"
	RelSearch   = "search"
	RelNearby   = "http://librarysimplified.org/rel/registry/library-list"
	RelWeb      = "alternate"
	RelLogo     = "http://opds-spec.org/image/thumbnail"
)

// Link is an OPDS feed link.
type Link struct {
	Rel      string `json:"rel"`
	Href     string `json:"href"`
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	Template bool   `json:"templated,omitempty"`
}

// Metadata describes a feed or a catalog entry.
type Metadata struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Updated     *time.Time `json:"updated,omitempty"`

	// Distance in meters from the query point, set on nearby results.
	Distance *float64 `json:"distance,omitempty"`
}

// Catalog is one library's entry inside a catalog-of-catalogs feed.
type Catalog struct {
	Metadata Metadata `json:"metadata"`
	Links    []Link   `json:"links"`
}

// Feed is an OPDS 2.0 catalog document.
type Feed struct {
	Metadata Metadata  `json:"metadata"`
	Links    []Link    `json:"links"`
	Catalogs []Catalog `json:"catalogs"`
}

// Builder renders feeds rooted at the registry's public URL.
type Builder struct {
	baseURL      string
	registryName string
}

func NewBuilder(publicURL, registryName string) *Builder {
	return &Builder{
		baseURL:      strings.TrimRight(publicURL, "/"),
		registryName: registryName,
	}
}

func (b *Builder) href(path string) string {
	return b.baseURL + path
}

// Root builds the discovery document advertising the registry's
// entry points.
func (b *Builder) Root() *Feed {
	return &Feed{
		Metadata: Metadata{Title: b.registryName},
		Catalogs: []Catalog{},
		Links: []Link{
			{Rel: RelSelf, Href: b.href("/"), Type: FeedType},
			{Rel: RelCatalog, Href: b.href("/libraries"), Type: FeedType},
			{Rel: RelRegister, Href: b.href("/register"), Type: FeedType},
			{Rel: RelSearch, Href: b.href("/libraries/search{?query}"), Type: FeedType, Template: true},
			{Rel: RelNearby, Href: b.href("/libraries/nearby{?lat,lon,radius}"), Type: FeedType, Template: true},
		},
	}
}

// LibraryFeed builds a catalog-of-catalogs for the given libraries at
// the given path.
func (b *Builder) LibraryFeed(title, path string, libraries []models.Library) *Feed {
	feed := &Feed{
		Metadata: Metadata{Title: title},
		Links: []Link{
			{Rel: RelSelf, Href: b.href(path), Type: FeedType},
			{Rel: RelStart, Href: b.href("/"), Type: FeedType},
		},
		Catalogs: make([]Catalog, 0, len(libraries)),
	}
	for i := range libraries {
		feed.Catalogs = append(feed.Catalogs, b.Entry(&libraries[i]))
	}
	return feed
}

// SingleLibraryFeed builds a one-entry feed for a library detail page.
func (b *Builder) SingleLibraryFeed(library *models.Library) *Feed {
	return &Feed{
		Metadata: Metadata{Title: library.Name},
		Links: []Link{
			{Rel: RelSelf, Href: b.href("/library/" + library.UUID), Type: FeedType},
			{Rel: RelStart, Href: b.href("/"), Type: FeedType},
		},
		Catalogs: []Catalog{b.Entry(library)},
	}
}

// Entry renders one library as a catalog entry. The shared secret and
// internal ids never appear here.
func (b *Builder) Entry(library *models.Library) Catalog {
	updated := library.UpdatedAt
	entry := Catalog{
		Metadata: Metadata{
			ID:          library.URN(),
			Title:       library.Name,
			Description: library.Description.String,
			Updated:     &updated,
		},
		Links: []Link{
			{Rel: RelSelf, Href: b.href("/library/" + library.UUID), Type: FeedType},
			{Rel: RelAuthDoc, Href: library.AuthDocumentURL, Type: registration.AuthDocumentType},
		},
	}
	if library.OPDSURL.Valid {
		entry.Links = append(entry.Links, Link{Rel: RelStart, Href: library.OPDSURL.String, Type: FeedType})
	}
	if library.WebURL.Valid {
		entry.Links = append(entry.Links, Link{Rel: RelWeb, Href: library.WebURL.String, Type: "text/html"})
	}
	if library.LogoURL.Valid {
		entry.Links = append(entry.Links, Link{Rel: RelLogo, Href: library.LogoURL.String})
	}
	return entry
}
