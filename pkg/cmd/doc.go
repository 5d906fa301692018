// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package cmd implements the sessionboot command line: the server, the
// loopback login and the commands inspecting the cached session.
package cmd
