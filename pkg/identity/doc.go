// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package identity is the client for a hosted OIDC identity provider. It builds
// login URLs (authorization code with PKCE), consumes redirect callbacks,
// tracks whether a cached session is still usable and refreshes it when possible.
package identity
