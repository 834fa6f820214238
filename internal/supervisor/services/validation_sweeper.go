// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package services

import (
	"context"
	"time"

	"github.com/libratlas/libratlas/internal/logging"
)

// ValidationPurger deletes expired, unconfirmed contact validations.
// Satisfied by *database.DB.
type ValidationPurger interface {
	PurgeExpiredValidations(ctx context.Context, ttl time.Duration) (int64, error)
}

// ValidationSweeperService periodically removes contact validations
// whose secrets expired unconfirmed, so stale secrets cannot pile up
// in the database. Confirmed validations are never touched.
type ValidationSweeperService struct {
	purger   ValidationPurger
	ttl      time.Duration
	interval time.Duration
	name     string
}

// NewValidationSweeperService builds a sweeper. A non-positive interval
// defaults to one hour.
func NewValidationSweeperService(purger ValidationPurger, ttl, interval time.Duration) *ValidationSweeperService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ValidationSweeperService{
		purger:   purger,
		ttl:      ttl,
		interval: interval,
		name:     "validation-sweeper",
	}
}

// Serve implements suture.Service. Purge failures are logged and
// retried on the next tick rather than crashing the service.
func (s *ValidationSweeperService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ValidationSweeperService) sweep(ctx context.Context) {
	purged, err := s.purger.PurgeExpiredValidations(ctx, s.ttl)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Validation sweep failed")
		return
	}
	if purged > 0 {
		logging.Ctx(ctx).Info().Int64("purged", purged).Msg("Removed expired contact validations")
	}
}

// String implements fmt.Stringer; suture uses it in log messages.
func (s *ValidationSweeperService) String() string {
	return s.name
}
