// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package registration

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// Everywhere is the literal a document uses to claim universal service.
const Everywhere = "everywhere"

// AreaQueries is the decoded form of a service_area or focus_area value.
// Queries hold place lookup strings ("Springfield, IL"); Everywhere is
// set when the document claims universal coverage.
type AreaQueries struct {
	Queries    []string
	Everywhere bool
}

// ParseAreaValue decodes the polymorphic service area shapes documents
// use:
//
//	"everywhere"
//	"Kansas"
//	["Kansas", "Missouri"]
//	{"US": "everywhere"}
//	{"US": ["11104", "Brooklyn"]}
//
// Map values are country-scoped: each entry becomes a lookup string
// with the country appended ("Brooklyn, US"), and "everywhere" under a
// country key means the whole nation.
func ParseAreaValue(raw json.RawMessage) (AreaQueries, error) {
	var out AreaQueries
	if len(raw) == 0 {
		return out, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		addQuery(&out, asString, "")
		return out, nil
	}

	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		for _, s := range asList {
			addQuery(&out, s, "")
		}
		return out, nil
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err == nil {
		for country, value := range asMap {
			var vs string
			if err := json.Unmarshal(value, &vs); err == nil {
				if strings.EqualFold(strings.TrimSpace(vs), Everywhere) {
					// The whole nation, looked up by its own name.
					addQuery(&out, country, "")
				} else {
					addQuery(&out, vs, country)
				}
				continue
			}
			var vl []string
			if err := json.Unmarshal(value, &vl); err == nil {
				for _, s := range vl {
					addQuery(&out, s, country)
				}
				continue
			}
			return AreaQueries{}, fmt.Errorf("%w: unsupported service area value under %q", ErrInvalidDocument, country)
		}
		return out, nil
	}

	return AreaQueries{}, fmt.Errorf("%w: unsupported service area shape", ErrInvalidDocument)
}

func addQuery(out *AreaQueries, value, country string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if strings.EqualFold(value, Everywhere) {
		out.Everywhere = true
		return
	}
	if country != "" {
		value = value + ", " + country
	}
	out.Queries = append(out.Queries, value)
}
