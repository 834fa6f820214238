// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package opds

import (
	"database/sql"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libratlas/libratlas/internal/models"
)

func testLibrary() models.Library {
	return models.Library{
		ID:              1,
		UUID:            "0c51f4c2-0000-4000-8000-000000000001",
		Name:            "Springfield Public Library",
		Description:     sql.NullString{String: "Serving Springfield", Valid: true},
		AuthDocumentURL: "https://spl.example.org/authentication_document",
		OPDSURL:         sql.NullString{String: "https://spl.example.org/opds", Valid: true},
		WebURL:          sql.NullString{String: "https://spl.example.org", Valid: true},
		UpdatedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func linkByRel(t *testing.T, links []Link, rel string) Link {
	t.Helper()
	for _, l := range links {
		if l.Rel == rel {
			return l
		}
	}
	t.Fatalf("no link with rel %q", rel)
	return Link{}
}

func TestRootCatalog(t *testing.T) {
	feed := NewBuilder("https://registry.example.org/", "Test Registry").Root()

	assert.Equal(t, "Test Registry", feed.Metadata.Title)
	assert.Equal(t, "https://registry.example.org/", linkByRel(t, feed.Links, RelSelf).Href)
	assert.Equal(t, "https://registry.example.org/register", linkByRel(t, feed.Links, RelRegister).Href)

	search := linkByRel(t, feed.Links, RelSearch)
	assert.True(t, search.Template)
	assert.Contains(t, search.Href, "{?query}")
}

func TestLibraryFeed(t *testing.T) {
	lib := testLibrary()
	feed := NewBuilder("https://registry.example.org", "Test Registry").
		LibraryFeed("Libraries", "/libraries", []models.Library{lib})

	assert.Equal(t, "Libraries", feed.Metadata.Title)
	assert.Equal(t, "https://registry.example.org/libraries", linkByRel(t, feed.Links, RelSelf).Href)
	require.Len(t, feed.Catalogs, 1)

	entry := feed.Catalogs[0]
	assert.Equal(t, "urn:uuid:"+lib.UUID, entry.Metadata.ID)
	assert.Equal(t, lib.Name, entry.Metadata.Title)
	assert.Equal(t, "Serving Springfield", entry.Metadata.Description)
	assert.Equal(t, lib.AuthDocumentURL, linkByRel(t, entry.Links, RelAuthDoc).Href)
	assert.Equal(t, "https://spl.example.org/opds", linkByRel(t, entry.Links, RelStart).Href)
	assert.Equal(t, "https://spl.example.org", linkByRel(t, entry.Links, RelWeb).Href)
}

func TestEntryOmitsOptionalLinks(t *testing.T) {
	lib := testLibrary()
	lib.OPDSURL = sql.NullString{}
	lib.WebURL = sql.NullString{}
	lib.LogoURL = sql.NullString{}

	entry := NewBuilder("https://registry.example.org", "R").Entry(&lib)

	rels := make([]string, 0, len(entry.Links))
	for _, l := range entry.Links {
		rels = append(rels, l.Rel)
	}
	assert.ElementsMatch(t, []string{RelSelf, RelAuthDoc}, rels)
}

func TestSingleLibraryFeed(t *testing.T) {
	lib := testLibrary()
	feed := NewBuilder("https://registry.example.org", "R").SingleLibraryFeed(&lib)

	assert.Equal(t, lib.Name, feed.Metadata.Title)
	require.Len(t, feed.Catalogs, 1)
	assert.Equal(t, "https://registry.example.org/library/"+lib.UUID,
		linkByRel(t, feed.Links, RelSelf).Href)
}

func TestFeedSerializationHidesSecrets(t *testing.T) {
	lib := testLibrary()
	lib.SharedSecret = "topsecret"
	lib.AuthDocumentID = "urn:uuid:internal"

	feed := NewBuilder("https://registry.example.org", "R").
		LibraryFeed("Libraries", "/libraries", []models.Library{lib})

	data, err := json.Marshal(feed)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "topsecret")
	assert.NotContains(t, string(data), "urn:uuid:internal")
}

func TestEmptyFeedMarshalsCatalogsAbsent(t *testing.T) {
	feed := NewBuilder("https://registry.example.org", "R").
		LibraryFeed("Libraries", "/libraries", nil)

	data, err := json.Marshal(feed)
	require.NoError(t, err)
	// An empty registry renders an empty list, not a missing key.
	assert.Contains(t, string(data), `"catalogs":[]`)
}
