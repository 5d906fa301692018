// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package config loads the sessionboot configuration from a YAML file,
// optional .env files and SESSIONBOOT_ environment variables.
package config
