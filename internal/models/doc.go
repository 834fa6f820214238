// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

// Package models defines the registry's domain types: places in the
// geographic hierarchy, libraries and their service areas, contact
// validation state, configuration settings, and admin accounts.
//
// Types carry both json tags (API serialization) and db tags (sqlx
// row scanning). Geometry columns are never scanned directly; queries
// project them through ST_AsGeoJSON or spatial predicates.
package models
