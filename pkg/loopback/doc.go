// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package loopback is the location of command line logins: a listener on the
// loopback interface receives the redirect callback from the browser.
package loopback
