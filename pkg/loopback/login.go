// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package loopback

import (
	"context"
	"fmt"

	"github.com/telekom/sessionboot/pkg/bootstrap"
)

// maxAttempts bounds how often a rejected callback sends the user back to the
// login page.
const maxAttempts = 3

// Login bootstraps a session through loc. Every navigation to the login page
// is followed by waiting for the callback and bootstrapping again, the same
// way a browser reloads the application after the redirect. The last attempt
// does not send the browser back to the login page, so the waiting browser
// gets the failure.
func Login(ctx context.Context, b *bootstrap.Bootstrapper, loc *Location) (*bootstrap.Session, error) {
	for attempt := 0; ; attempt++ {
		var target bootstrap.Location = loc
		if attempt == maxAttempts {
			target = lastAttempt{loc}
		}
		session, err := b.Initialize(ctx, target)
		if err != nil {
			loc.Fail(err)
			return nil, err
		}
		if session.Authenticated() {
			return session, nil
		}
		if attempt == maxAttempts {
			err := fmt.Errorf("login did not complete after %d attempts", maxAttempts)
			if reason := session.Callback.Reason; reason != nil {
				err = fmt.Errorf("login did not complete after %d attempts: %w", maxAttempts, reason)
			}
			loc.Fail(err)
			return nil, err
		}
		if err := loc.WaitForCallback(ctx); err != nil {
			return nil, fmt.Errorf("failed waiting for login callback: %w", err)
		}
	}
}

// lastAttempt keeps the browser waiting instead of navigating it.
type lastAttempt struct {
	*Location
}

func (lastAttempt) Navigate(string) error {
	return nil
}
