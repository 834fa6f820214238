// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package registration

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/libratlas/libratlas/internal/logging"
)

// Notifier delivers a validation secret to a contact address so the
// contact can confirm ownership.
type Notifier interface {
	NotifyValidation(ctx context.Context, libraryName, href, secret string) error
}

// LogNotifier writes validation notifications to the log. It stands in
// for an outbound mail integration; operators relay the confirmation
// link manually or scrape it from the log in development.
type LogNotifier struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLogNotifier builds a LogNotifier with per-contact throttling so a
// misbehaving client cannot spam one address with resend requests.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{
		limiters: make(map[string]*rate.Limiter),
	}
}

// one notification per contact per 5 minutes, burst of 2
func (n *LogNotifier) limiter(href string) *rate.Limiter {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.limiters[href]
	if !ok {
		l = rate.NewLimiter(rate.Limit(1.0/300.0), 2)
		n.limiters[href] = l
	}
	return l
}

// ErrThrottled reports a notification dropped by the resend throttle.
var ErrThrottled = errThrottled{}

type errThrottled struct{}

func (errThrottled) Error() string { return "validation notification throttled" }

func (n *LogNotifier) NotifyValidation(ctx context.Context, libraryName, href, secret string) error {
	if !n.limiter(href).Allow() {
		logging.Ctx(ctx).Warn().
			Str("library", libraryName).
			Str("contact", href).
			Msg("Validation notification throttled")
		return ErrThrottled
	}

	logging.Ctx(ctx).Info().
		Str("library", libraryName).
		Str("contact", href).
		Str("secret", secret).
		Msg("Contact validation pending confirmation")
	return nil
}
