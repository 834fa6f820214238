// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package models

import "database/sql"

// Well-known site-wide setting keys.
const (
	SettingRegistryName   = "registry.name"
	SettingContactEmail   = "registry.contact_email"
	SettingTermsOfService = "registry.terms_of_service_url"
	SettingWebClientURL   = "registry.web_client_url"
)

// ConfigurationSetting is a key/value row scoped either site-wide
// (LibraryID null) or to a single library. Library-scoped reads fall
// back to the site-wide value when the key is unset for the library.
type ConfigurationSetting struct {
	ID        int64         `json:"-" db:"id"`
	Key       string        `json:"key" db:"key"`
	Value     string        `json:"value" db:"value"`
	LibraryID sql.NullInt64 `json:"-" db:"library_id"`
}
