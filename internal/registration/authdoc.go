// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

// Package registration implements the library registration protocol:
// fetching and validating OPDS authentication documents, resolving
// declared service areas to known places, and managing shared secrets.
package registration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/libratlas/libratlas/internal/config"
	"github.com/libratlas/libratlas/internal/logging"
	"github.com/libratlas/libratlas/internal/metrics"
)

// AuthDocumentType is the OPDS authentication document media type.
const AuthDocumentType = "application/vnd.opds.authentication.v1.0+json"

// Fetch failure classes. The API layer maps these to problem details.
var (
	ErrUnreachable     = errors.New("authentication document unreachable")
	ErrTooLarge        = errors.New("authentication document too large")
	ErrInvalidDocument = errors.New("invalid authentication document")
)

// Link is a hyperlink inside an authentication document.
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

// AuthDocument is the subset of the OPDS authentication document the
// registry consumes. Service area values are kept raw; their shape
// varies (string, list, or country-keyed map) and areas.go decodes them.
type AuthDocument struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Links       []Link          `json:"links,omitempty"`
	ServiceArea json.RawMessage `json:"service_area,omitempty"`
	FocusArea   json.RawMessage `json:"focus_area,omitempty"`
}

// Validate checks the document invariants the protocol requires.
func (d *AuthDocument) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidDocument)
	}
	if d.Title == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidDocument)
	}
	return nil
}

// LinkByRel returns the href of the first link with the given rel.
func (d *AuthDocument) LinkByRel(rel string) string {
	for _, l := range d.Links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}

// MailtoLinks returns contact links whose href is a mailto: URI,
// keyed by rel.
func (d *AuthDocument) MailtoLinks() map[string]string {
	out := make(map[string]string)
	for _, l := range d.Links {
		if strings.HasPrefix(strings.ToLower(l.Href), "mailto:") {
			if _, seen := out[l.Rel]; !seen {
				out[l.Rel] = l.Href
			}
		}
	}
	return out
}

// Fetcher retrieves authentication documents with a timeout, a size
// cap, and circuit breaker protection so a slow or flapping library
// cannot tie up registration workers.
type Fetcher struct {
	client   *http.Client
	cb       *gobreaker.CircuitBreaker[*AuthDocument]
	maxBytes int64
}

// NewFetcher builds a Fetcher from registry configuration.
// Circuit breaker configuration:
// - Max 3 concurrent requests in half-open state
// - 1 minute measurement window
// - 2 minute timeout before attempting recovery
// - Opens after 60% failure rate with minimum 10 requests
func NewFetcher(cfg *config.RegistryConfig) *Fetcher {
	const cbName = "auth-document-fetch"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[*AuthDocument](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.AuthDocumentTimeout,
		},
		cb:       cb,
		maxBytes: cfg.AuthDocumentMaxBytes,
	}
}

// Fetch retrieves and parses the authentication document at url.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*AuthDocument, error) {
	start := time.Now()
	doc, err := f.cb.Execute(func() (*AuthDocument, error) {
		return f.fetch(ctx, url)
	})
	metrics.AuthDocumentFetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues("auth-document-fetch", "rejected").Inc()
			return nil, fmt.Errorf("%w: %s", ErrUnreachable, err.Error())
		}
		metrics.CircuitBreakerRequests.WithLabelValues("auth-document-fetch", "failure").Inc()
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues("auth-document-fetch", "success").Inc()
	return doc, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string) (*AuthDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, err.Error())
	}
	req.Header.Set("Accept", AuthDocumentType+", application/json")
	req.Header.Set("User-Agent", "libratlas-registry")

	resp, err := f.client.Do(req)
	if err != nil {
		metrics.AuthDocumentFetchErrors.WithLabelValues("timeout").Inc()
		return nil, fmt.Errorf("%w: fetching %s: %s", ErrUnreachable, url, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		metrics.AuthDocumentFetchErrors.WithLabelValues("http_error").Inc()
		return nil, fmt.Errorf("%w: %s returned status %d", ErrUnreachable, url, resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); !acceptableContentType(ct) {
		metrics.AuthDocumentFetchErrors.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: unexpected content type %q", ErrInvalidDocument, ct)
	}

	// Read one byte past the cap to distinguish at-limit from over it.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		metrics.AuthDocumentFetchErrors.WithLabelValues("timeout").Inc()
		return nil, fmt.Errorf("%w: reading %s: %s", ErrUnreachable, url, err.Error())
	}
	if int64(len(body)) > f.maxBytes {
		metrics.AuthDocumentFetchErrors.WithLabelValues("too_large").Inc()
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, f.maxBytes)
	}

	var doc AuthDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		metrics.AuthDocumentFetchErrors.WithLabelValues("invalid_json").Inc()
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, err.Error())
	}

	if err := doc.Validate(); err != nil {
		metrics.AuthDocumentFetchErrors.WithLabelValues("rejected").Inc()
		return nil, err
	}

	return &doc, nil
}

// acceptableContentType accepts the OPDS authentication type, plain
// JSON, and any +json media type.
func acceptableContentType(header string) bool {
	if header == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	return mediaType == AuthDocumentType ||
		mediaType == "application/json" ||
		strings.HasSuffix(mediaType, "+json")
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
