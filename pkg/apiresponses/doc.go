// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package apiresponses provides the JSON error responses shared by the API
// handlers and middlewares.
package apiresponses
