// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package web carries the built frontend. The build writes to dist/, which
// is embedded into the server binary.
package web

import "embed"

// DistDir is the directory of Dist holding the build output.
const DistDir = "dist"

//go:embed all:dist
var Dist embed.FS
