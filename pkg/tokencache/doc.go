// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package tokencache stores identity sessions and pending login transactions.
// Backends are an in-process memory map, a JSON file and the OS keychain.
package tokencache
