// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package extractor reads the classification fields of a German safety data
// sheet (Sicherheitsdatenblatt) from its plain text. The text comes from a
// Converter, normally Ghostscript's txtwrite device.
package extractor
