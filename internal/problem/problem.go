// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

// Package problem implements RFC 7807 problem details for HTTP APIs.
// All error responses from the registry use the application/problem+json
// media type so that registering libraries and discovery clients can
// handle failures programmatically.
package problem

import (
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/libratlas/libratlas/internal/logging"
)

// ContentType is the media type for problem detail responses.
const ContentType = "application/problem+json"

// Problem type URIs. The URI identifies the error class; clients dispatch
// on Type rather than parsing Title or Detail.
const (
	TypeInvalidRequest        = "https://libratlas.org/problem/invalid-request"
	TypeNoAuthDocument        = "https://libratlas.org/problem/no-auth-document"
	TypeInvalidAuthDocument   = "https://libratlas.org/problem/invalid-auth-document"
	TypeUnreachable           = "https://libratlas.org/problem/remote-integration-failed"
	TypeRegistrationIDChanged = "https://libratlas.org/problem/registration-id-changed"
	TypeInvalidCredentials    = "https://libratlas.org/problem/invalid-credentials"
	TypeNotFound              = "https://libratlas.org/problem/not-found"
	TypeAmbiguousPlace        = "https://libratlas.org/problem/ambiguous-place"
	TypeUnknownPlace          = "https://libratlas.org/problem/unknown-place"
	TypeExpiredSecret         = "https://libratlas.org/problem/expired-validation-secret"
	TypeAlreadyValidated      = "https://libratlas.org/problem/already-validated"
	TypeRateLimited           = "https://libratlas.org/problem/rate-limited"
	TypeInternal              = "https://libratlas.org/problem/internal-error"
)

// Detail is an RFC 7807 problem details document. Extension members carry
// machine-readable context beyond the standard fields.
type Detail struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`

	// Extension members
	Fields  interface{} `json:"invalid_fields,omitempty"`
	DebugID string      `json:"debug_id,omitempty"`
}

// Error implements the error interface so a Detail can travel through
// error returns before being written.
func (d *Detail) Error() string {
	if d.Detail != "" {
		return d.Title + ": " + d.Detail
	}
	return d.Title
}

// New constructs a problem detail with the given type URI, title, and status.
func New(typeURI, title string, status int) *Detail {
	return &Detail{Type: typeURI, Title: title, Status: status}
}

// WithDetail returns a copy with the human-readable detail set.
func (d *Detail) WithDetail(detail string) *Detail {
	clone := *d
	clone.Detail = detail
	return &clone
}

// WithFields returns a copy carrying per-field validation errors.
func (d *Detail) WithFields(fields interface{}) *Detail {
	clone := *d
	clone.Fields = fields
	return &clone
}

// Common reusable problem constructors.

// InvalidRequest is a 400 for malformed or failed-validation requests.
func InvalidRequest(detail string) *Detail {
	return New(TypeInvalidRequest, "Invalid request", http.StatusBadRequest).WithDetail(detail)
}

// NotFound is a 404 for missing libraries, places, or resources.
func NotFound(detail string) *Detail {
	return New(TypeNotFound, "Not found", http.StatusNotFound).WithDetail(detail)
}

// Unreachable is a 502 when the library's authentication document
// cannot be fetched.
func Unreachable(detail string) *Detail {
	return New(TypeUnreachable, "Could not reach the library", http.StatusBadGateway).WithDetail(detail)
}

// InvalidAuthDocument is a 400 when the fetched document fails validation.
func InvalidAuthDocument(detail string) *Detail {
	return New(TypeInvalidAuthDocument, "Invalid authentication document", http.StatusBadRequest).WithDetail(detail)
}

// RegistrationIDChanged is a 409 when a URL re-registers with a
// different stable identifier without proving secret possession.
func RegistrationIDChanged(detail string) *Detail {
	return New(TypeRegistrationIDChanged, "Registration identifier changed", http.StatusConflict).WithDetail(detail)
}

// InvalidCredentials is a 401 for failed admin logins or secret proofs.
func InvalidCredentials(detail string) *Detail {
	return New(TypeInvalidCredentials, "Invalid credentials", http.StatusUnauthorized).WithDetail(detail)
}

// AmbiguousPlace is a 400 when a place name matches multiple places.
func AmbiguousPlace(detail string) *Detail {
	return New(TypeAmbiguousPlace, "Ambiguous place name", http.StatusBadRequest).WithDetail(detail)
}

// UnknownPlace is a 400 when a service area names a place the registry
// does not know.
func UnknownPlace(detail string) *Detail {
	return New(TypeUnknownPlace, "Unknown place", http.StatusBadRequest).WithDetail(detail)
}

// ExpiredSecret is a 400 when a validation secret is past its TTL.
func ExpiredSecret(detail string) *Detail {
	return New(TypeExpiredSecret, "Validation secret expired", http.StatusBadRequest).WithDetail(detail)
}

// Internal is a 500 that deliberately hides the underlying error.
func Internal() *Detail {
	return New(TypeInternal, "Internal server error", http.StatusInternalServerError)
}

// Write serializes the problem detail to w with the proper content type
// and status code. The request's ID is attached as debug_id so operators
// can correlate client reports with logs.
func Write(w http.ResponseWriter, r *http.Request, d *Detail) {
	if id := logging.RequestIDFromContext(r.Context()); id != "" {
		clone := *d
		clone.DebugID = id
		d = &clone
	}

	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(d.Status)

	if err := json.NewEncoder(w).Encode(d); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to encode problem detail")
	}

	if d.Status >= http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().
			Str("problem_type", d.Type).
			Int("status", d.Status).
			Str("detail", d.Detail).
			Msg("Request failed")
	}
}
