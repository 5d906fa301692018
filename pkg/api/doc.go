// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package api implements the HTTP server (Gin-based) that serves the single
// page application behind the session bootstrap. Every page load runs the
// bootstrap for the browser session identified by a signed cookie; the
// bearer-protected API validates access tokens issued for the configured
// audience.
package api
