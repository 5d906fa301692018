// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package tokencache

import (
	"os"
	"path/filepath"
)

const (
	defaultDirName   = "sessionboot"
	defaultTokenFile = "sessions.json"
)

// DefaultPath is the file backend location. SESSIONBOOT_TOKEN_FILE overrides it.
func DefaultPath() string {
	if env := os.Getenv("SESSIONBOOT_TOKEN_FILE"); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultDirName, defaultTokenFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sessionboot", defaultTokenFile)
}
