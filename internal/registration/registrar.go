// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package registration

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/libratlas/libratlas/internal/database"
	"github.com/libratlas/libratlas/internal/logging"
	"github.com/libratlas/libratlas/internal/metrics"
	"github.com/libratlas/libratlas/internal/models"
)

// Registration protocol failures surfaced to the API layer.
var (
	ErrIDMismatch         = errors.New("authentication document id changed")
	ErrInvalidCredentials = errors.New("invalid shared secret")
	ErrUnknownPlace       = errors.New("unknown place in service area")
	ErrAmbiguousPlace     = errors.New("ambiguous place in service area")
	ErrBadRequest         = errors.New("invalid registration request")
)

// Store is the persistence surface the registrar needs. *database.DB
// satisfies it.
type Store interface {
	LibraryByAuthURL(ctx context.Context, url string) (models.Library, error)
	UpsertRegistration(ctx context.Context, reg *database.RegistrationUpsert) (models.Library, bool, []database.PendingValidation, error)
	UpdateSharedSecret(ctx context.Context, libraryID int64, secret string) error
	LookupInside(ctx context.Context, query string) (models.Place, error)
	Everywhere(ctx context.Context) (models.Place, error)
	ResourceByHref(ctx context.Context, href string) (models.Resource, error)
	RestartValidation(ctx context.Context, resourceID int64, newSecret string) error
}

// RegisterRequest is a decoded registration form submission.
type RegisterRequest struct {
	URL     string // authentication document URL
	Contact string // optional mailto: contact
	Stage   string // requested library stage, defaults to testing

	// BearerSecret is the shared secret presented in the Authorization
	// header, if any. Presenting the current secret on re-registration
	// rotates it.
	BearerSecret string
}

// RegisterResult reports a completed registration.
type RegisterResult struct {
	Library            models.Library
	Created            bool
	SecretRotated      bool
	SharedSecret       string // set when newly issued or rotated
	PendingValidations []database.PendingValidation
}

// Registrar drives the registration protocol: fetch the authentication
// document, resolve its service areas against known places, persist
// everything transactionally, and dispatch contact validations.
type Registrar struct {
	store    Store
	fetcher  *Fetcher
	notifier Notifier
}

func NewRegistrar(store Store, fetcher *Fetcher, notifier Notifier) *Registrar {
	return &Registrar{store: store, fetcher: fetcher, notifier: notifier}
}

// Register processes a registration request end to end.
func (r *Registrar) Register(ctx context.Context, req *RegisterRequest) (*RegisterResult, error) {
	start := time.Now()
	result, err := r.register(ctx, req)
	metrics.RecordRegistration(registrationOutcome(result, err), time.Since(start))
	return result, err
}

func registrationOutcome(result *RegisterResult, err error) string {
	switch {
	case err == nil && result.Created:
		return "created"
	case err == nil:
		return "updated"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	default:
		return "rejected"
	}
}

func (r *Registrar) register(ctx context.Context, req *RegisterRequest) (*RegisterResult, error) {
	authURL, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	stage := models.StageTesting
	if req.Stage != "" {
		stage = models.Stage(req.Stage)
		if stage != models.StageTesting && stage != models.StageProduction {
			return nil, fmt.Errorf("%w: stage must be testing or production", ErrBadRequest)
		}
	}

	// An existing registration for this URL gates secret handling: a
	// wrong bearer secret is rejected outright, a matching one earns a
	// rotation after the update lands.
	existing, err := r.store.LibraryByAuthURL(ctx, authURL)
	exists := err == nil
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	rotate := false
	if exists && req.BearerSecret != "" {
		if subtle.ConstantTimeCompare([]byte(req.BearerSecret), []byte(existing.SharedSecret)) != 1 {
			return nil, ErrInvalidCredentials
		}
		rotate = true
	}

	doc, err := r.fetcher.Fetch(ctx, authURL)
	if err != nil {
		return nil, err
	}

	if exists && existing.AuthDocumentID != "" && doc.ID != existing.AuthDocumentID {
		return nil, fmt.Errorf("%w: was %q, document now claims %q",
			ErrIDMismatch, existing.AuthDocumentID, doc.ID)
	}

	areas, err := r.resolveAreas(ctx, doc)
	if err != nil {
		return nil, err
	}

	contacts, err := r.assembleContacts(doc, req.Contact)
	if err != nil {
		return nil, err
	}

	upsert := &database.RegistrationUpsert{
		AuthDocumentURL: authURL,
		AuthDocumentID:  doc.ID,
		Name:            doc.Title,
		Description:     doc.Description,
		OPDSURL:         doc.LinkByRel("start"),
		WebURL:          doc.LinkByRel("alternate"),
		LogoURL:         doc.LinkByRel("logo"),
		LibraryStage:    stage,
		ServiceAreas:    areas,
		Contacts:        contacts,
	}

	var issuedSecret string
	if !exists {
		issuedSecret, err = NewSecret()
		if err != nil {
			return nil, err
		}
		upsert.SharedSecret = issuedSecret
	}

	library, created, pending, err := r.store.UpsertRegistration(ctx, upsert)
	if err != nil {
		return nil, err
	}

	if rotate {
		issuedSecret, err = NewSecret()
		if err != nil {
			return nil, err
		}
		if err := r.store.UpdateSharedSecret(ctx, library.ID, issuedSecret); err != nil {
			return nil, err
		}
		library.SharedSecret = issuedSecret
		metrics.SecretRotations.Inc()
		logging.Ctx(ctx).Info().Str("library", library.UUID).Msg("Shared secret rotated")
	}

	for _, p := range pending {
		if err := r.notifier.NotifyValidation(ctx, library.Name, p.Href, p.Secret); err != nil && !errors.Is(err, ErrThrottled) {
			logging.Ctx(ctx).Error().Err(err).Str("contact", p.Href).Msg("Validation notification failed")
		}
	}

	logging.Ctx(ctx).Info().
		Str("library", library.UUID).
		Str("name", library.Name).
		Bool("created", created).
		Int("service_areas", len(areas)).
		Msg("Library registration complete")

	return &RegisterResult{
		Library:            library,
		Created:            created,
		SecretRotated:      rotate,
		SharedSecret:       issuedSecret,
		PendingValidations: pending,
	}, nil
}

func validateRequest(req *RegisterRequest) (string, error) {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrBadRequest)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: url must be an absolute http(s) URL", ErrBadRequest)
	}
	if req.Contact != "" && !strings.HasPrefix(strings.ToLower(req.Contact), "mailto:") {
		return "", fmt.Errorf("%w: contact must be a mailto: URI", ErrBadRequest)
	}
	return u.String(), nil
}

// resolveAreas turns the document's service_area and focus_area values
// into place references. A service_area with no focus_area serves as
// both; no declared area at all means eligibility everywhere.
func (r *Registrar) resolveAreas(ctx context.Context, doc *AuthDocument) ([]database.ServiceAreaRef, error) {
	service, err := ParseAreaValue(doc.ServiceArea)
	if err != nil {
		return nil, err
	}
	focus, err := ParseAreaValue(doc.FocusArea)
	if err != nil {
		return nil, err
	}

	hasFocus := focus.Everywhere || len(focus.Queries) > 0
	hasService := service.Everywhere || len(service.Queries) > 0

	var refs []database.ServiceAreaRef

	if !hasService && !hasFocus {
		everywhere, err := r.store.Everywhere(ctx)
		if err != nil {
			return nil, err
		}
		return []database.ServiceAreaRef{
			{PlaceID: everywhere.ID, Type: models.AreaEligibility},
			{PlaceID: everywhere.ID, Type: models.AreaFocus},
		}, nil
	}

	eligibility := service
	if !hasService {
		eligibility = focus
	}
	focusArea := focus
	if !hasFocus {
		focusArea = service
	}

	for _, pair := range []struct {
		area     AreaQueries
		areaType models.ServiceAreaType
	}{
		{eligibility, models.AreaEligibility},
		{focusArea, models.AreaFocus},
	} {
		if pair.area.Everywhere {
			everywhere, err := r.store.Everywhere(ctx)
			if err != nil {
				return nil, err
			}
			refs = append(refs, database.ServiceAreaRef{PlaceID: everywhere.ID, Type: pair.areaType})
			continue
		}
		for _, q := range pair.area.Queries {
			place, err := r.store.LookupInside(ctx, q)
			switch {
			case errors.Is(err, database.ErrAmbiguous):
				return nil, fmt.Errorf("%w: %q: %s", ErrAmbiguousPlace, q, err.Error())
			case errors.Is(err, database.ErrNotFound):
				return nil, fmt.Errorf("%w: %q", ErrUnknownPlace, q)
			case err != nil:
				return nil, err
			}
			refs = append(refs, database.ServiceAreaRef{PlaceID: place.ID, Type: pair.areaType})
		}
	}

	return refs, nil
}

// assembleContacts collects contact links from the document plus the
// explicit contact parameter, each with a fresh validation secret. The
// secret is only consumed when the contact's resource has no validation
// yet.
func (r *Registrar) assembleContacts(doc *AuthDocument, contactParam string) ([]database.ContactRef, error) {
	links := doc.MailtoLinks()
	if contactParam != "" {
		if _, taken := links[models.RelHelp]; !taken {
			links[models.RelHelp] = contactParam
		}
	}

	var contacts []database.ContactRef
	for rel, href := range links {
		secret, err := NewSecret()
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, database.ContactRef{
			Rel:              rel,
			Href:             href,
			ValidationSecret: secret,
		})
	}
	return contacts, nil
}

// ResendValidation issues a fresh secret for an already-registered
// contact and re-dispatches the notification. The previous secret stops
// working.
func (r *Registrar) ResendValidation(ctx context.Context, libraryName, href string) error {
	resource, err := r.store.ResourceByHref(ctx, href)
	if err != nil {
		return err
	}
	secret, err := NewSecret()
	if err != nil {
		return err
	}
	if err := r.store.RestartValidation(ctx, resource.ID, secret); err != nil {
		return err
	}
	return r.notifier.NotifyValidation(ctx, libraryName, href, secret)
}

// DecodeAreaParam decodes a service area value arriving as a raw form
// parameter rather than inside a document. Plain text that is not valid
// JSON is treated as a single place name.
func DecodeAreaParam(value string) json.RawMessage {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if json.Valid([]byte(value)) {
		return json.RawMessage(value)
	}
	quoted, _ := json.Marshal(value)
	return json.RawMessage(quoted)
}
