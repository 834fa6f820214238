// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package models

import (
	"database/sql"
	"time"
)

// Hyperlink associates a library with a contact resource under a
// relation such as "help" or "copyright_designated_agent".
type Hyperlink struct {
	ID         int64  `json:"-" db:"id"`
	LibraryID  int64  `json:"-" db:"library_id"`
	Rel        string `json:"rel" db:"rel"`
	ResourceID int64  `json:"-" db:"resource_id"`
}

// Contact hyperlink relations used by the registration protocol.
const (
	RelHelp            = "help"
	RelCopyrightAgent  = "copyright_designated_agent"
	RelIntegrationTest = "integration"
)

// Resource is a contact target (typically a mailto: URI) shared across
// libraries. Each resource has at most one Validation.
type Resource struct {
	ID   int64  `json:"-" db:"id"`
	Href string `json:"href" db:"href"`
}

// Validation tracks whether a resource's owner has confirmed control of
// it. A validation succeeds at most once; restarting one regenerates
// the secret and resets the clock.
type Validation struct {
	ID         int64        `json:"-" db:"id"`
	ResourceID int64        `json:"-" db:"resource_id"`
	Secret     string       `json:"-" db:"secret"`
	StartedAt  time.Time    `json:"started_at" db:"started_at"`
	SuccessAt  sql.NullTime `json:"success_at,omitempty" db:"success_at"`
}

// Confirmed reports whether the validation has succeeded.
func (v *Validation) Confirmed() bool {
	return v.SuccessAt.Valid
}

// Expired reports whether the secret is past its ttl relative to now.
func (v *Validation) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(v.StartedAt) > ttl
}

// ContactStatus summarizes a library contact for the admin API.
type ContactStatus struct {
	Rel       string     `json:"rel" db:"rel"`
	Href      string     `json:"href" db:"href"`
	Validated bool       `json:"validated" db:"validated"`
	StartedAt *time.Time `json:"validation_started_at,omitempty" db:"started_at"`
}
