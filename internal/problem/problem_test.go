// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package problem

import (
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libratlas/libratlas/internal/logging"
)

func TestWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/register", nil)

	Write(rec, req, Unreachable("fetching http://library.example.org/authentication_document: connection refused"))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))

	var d Detail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, TypeUnreachable, d.Type)
	assert.Equal(t, "Could not reach the library", d.Title)
	assert.Equal(t, http.StatusBadGateway, d.Status)
	assert.Contains(t, d.Detail, "connection refused")
}

func TestWriteIncludesDebugID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/library/xyz", nil)
	ctx := logging.ContextWithRequestID(req.Context(), "req-789")

	Write(rec, req.WithContext(ctx), NotFound("no library with that identifier"))

	var d Detail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "req-789", d.DebugID)
}

func TestWithDetailDoesNotMutate(t *testing.T) {
	base := New(TypeInvalidRequest, "Invalid request", http.StatusBadRequest)
	derived := base.WithDetail("name is required")

	assert.Empty(t, base.Detail)
	assert.Equal(t, "name is required", derived.Detail)
	assert.Equal(t, base.Type, derived.Type)
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "Not found: no such place", NotFound("no such place").Error())
	assert.Equal(t, "Internal server error", Internal().Error())
}

func TestWithFields(t *testing.T) {
	d := InvalidRequest("validation failed").WithFields([]map[string]string{
		{"field": "contact", "message": "contact must be a valid email address"},
	})

	body, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(body), "invalid_fields")
	assert.Contains(t, string(body), "valid email address")
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		detail *Detail
		status int
	}{
		{InvalidRequest("x"), http.StatusBadRequest},
		{NotFound("x"), http.StatusNotFound},
		{Unreachable("x"), http.StatusBadGateway},
		{InvalidAuthDocument("x"), http.StatusBadRequest},
		{RegistrationIDChanged("x"), http.StatusConflict},
		{InvalidCredentials("x"), http.StatusUnauthorized},
		{AmbiguousPlace("x"), http.StatusBadRequest},
		{UnknownPlace("x"), http.StatusBadRequest},
		{ExpiredSecret("x"), http.StatusBadRequest},
		{Internal(), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, tt.detail.Status, tt.detail.Type)
	}
}
