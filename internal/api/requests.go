// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package api

import (
	"net/http"
	"strconv"

	"github.com/libratlas/libratlas/internal/problem"
	"github.com/libratlas/libratlas/internal/validation"
)

// searchRequest is the decoded query for library search.
type searchRequest struct {
	Query string `validate:"required,min=1,max=255"`
}

// nearbyRequest is the decoded query for proximity search.
type nearbyRequest struct {
	Latitude     float64 `validate:"min=-90,max=90"`
	Longitude    float64 `validate:"min=-180,max=180"`
	RadiusMeters float64 `validate:"min=0,max=1000000"`
}

// registerForm is the decoded registration submission. It arrives as a
// form POST per the registration protocol; JSON bodies use the same
// field names.
type registerForm struct {
	URL     string `json:"url" validate:"required,url"`
	Contact string `json:"contact" validate:"omitempty,startswith=mailto:"`
	Stage   string `json:"stage" validate:"omitempty,oneof=testing production"`
}

// loginRequest is an admin login submission.
type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// stageRequest changes a library's registry stage.
type stageRequest struct {
	Stage string `json:"stage" validate:"required,librarystage"`
}

// resendRequest re-dispatches a contact validation notification.
type resendRequest struct {
	Href string `json:"href" validate:"required,startswith=mailto:"`
}

// placeRequest creates a place through the admin API.
type placeRequest struct {
	Type        string `json:"type" validate:"required,placetype"`
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Abbreviated string `json:"abbreviated_name" validate:"omitempty,max=64"`
	ParentUUID  string `json:"parent" validate:"omitempty,uuid"`
	GeoJSON     string `json:"geometry" validate:"required"`
}

// settingRequest writes one configuration setting.
type settingRequest struct {
	Key   string `json:"key" validate:"required,min=1,max=255"`
	Value string `json:"value" validate:"required"`
}

// validateRequest runs struct validation and writes a problem detail on
// failure. Returns false when the request was rejected.
func validateRequest(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if ve := validation.ValidateStruct(req); ve != nil {
		problem.Write(w, r, problem.InvalidRequest("request validation failed").WithFields(ve.Fields()))
		return false
	}
	return true
}

// parseFloat parses a query parameter as float64, substituting def when
// the parameter is absent.
func parseFloat(r *http.Request, name string, def float64) (float64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
