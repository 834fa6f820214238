// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for missing or malformed values.
// It returns an error describing the first problem found.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if err := validatePostgresURL(c.Database.URL); err != nil {
		return fmt.Errorf("DATABASE_URL is invalid: %w", err)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.PublicURL != "" {
		if _, err := url.ParseRequestURI(c.Server.PublicURL); err != nil {
			return fmt.Errorf("PUBLIC_URL is invalid: %w", err)
		}
	}

	if c.Registry.SearchRadiusMeters <= 0 {
		return fmt.Errorf("search radius must be positive, got %f", c.Registry.SearchRadiusMeters)
	}
	if c.Registry.ValidationTTL <= 0 {
		return fmt.Errorf("validation TTL must be positive, got %s", c.Registry.ValidationTTL)
	}

	if c.API.DefaultPageSize < 1 || c.API.DefaultPageSize > c.API.MaxPageSize {
		return fmt.Errorf("default page size %d must be between 1 and max page size %d",
			c.API.DefaultPageSize, c.API.MaxPageSize)
	}

	return c.validateSecurity()
}

// validateSecurity checks auth-mode-specific requirements.
func (c *Config) validateSecurity() error {
	switch c.Security.AuthMode {
	case "jwt":
		if c.Security.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when AUTH_MODE=jwt")
		}
		if len(c.Security.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters, got %d", len(c.Security.JWTSecret))
		}
		if c.Security.AdminUsername == "" || c.Security.AdminPassword == "" {
			return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required when AUTH_MODE=jwt")
		}
	case "basic":
		if c.Security.AdminUsername == "" || c.Security.AdminPassword == "" {
			return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required when AUTH_MODE=basic")
		}
		if len(c.Security.AdminPassword) < 8 {
			return fmt.Errorf("ADMIN_PASSWORD must be at least 8 characters")
		}
	case "none":
		// Explicitly allowed for development; main() logs a warning.
	default:
		return fmt.Errorf("AUTH_MODE must be jwt, basic, or none, got %q", c.Security.AuthMode)
	}
	return nil
}

// validatePostgresURL checks that the URL looks like a Postgres connection URL.
func validatePostgresURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("scheme must be postgres or postgresql, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	if strings.TrimPrefix(u.Path, "/") == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}
