// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCallback     = errors.New("invalid redirect callback")
	ErrStateMismatch       = fmt.Errorf("%w: state mismatch", ErrInvalidCallback)
	ErrTransactionNotFound = fmt.Errorf("%w: no login transaction pending", ErrInvalidCallback)
	ErrTransactionExpired  = fmt.Errorf("%w: login transaction expired", ErrInvalidCallback)
	ErrNotAuthenticated    = errors.New("not authenticated")
)

// ProviderError is an error returned by the identity provider on the
// redirect callback (error, error_description, error_uri).
type ProviderError struct {
	Code        string
	Description string
	URI         string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("identity provider error: %s", e.Code)
	}
	return fmt.Sprintf("identity provider error: %s: %s", e.Code, e.Description)
}

func (e *ProviderError) Unwrap() error {
	return ErrInvalidCallback
}
