// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides keyed token bucket rate limiting middleware for
// the gin routes of the server.
package ratelimit
