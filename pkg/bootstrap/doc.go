// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package bootstrap establishes an authenticated session for a page load. It
// builds the identity client, consumes a pending redirect callback, cleans the
// callback parameters from the location and sends the user to the hosted login
// page when no usable session exists.
package bootstrap
