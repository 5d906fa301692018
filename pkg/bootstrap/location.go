// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"net/url"
)

// Location is the address the application was loaded from and the means to
// change it.
type Location interface {
	// Origin is scheme, host and port of the application, used as the
	// default redirect URI.
	Origin() string
	// Query holds the redirect callback parameters, if any.
	Query() url.Values
	// ClearQuery removes the query without a new page load or history entry.
	ClearQuery() error
	// Navigate leaves the application for target.
	Navigate(target string) error
}
