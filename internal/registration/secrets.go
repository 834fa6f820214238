// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

package registration

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewSecret returns a hex-encoded random secret. Used for both shared
// secrets handed to libraries and contact validation secrets.
func NewSecret() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
