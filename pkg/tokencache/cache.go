// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package tokencache

import (
	"fmt"
	"time"
)

const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageKeychain = "keychain"
)

// Transaction is a login that was started but whose redirect callback has
// not been consumed yet.
type Transaction struct {
	State       string    `json:"state"`
	Verifier    string    `json:"code_verifier"`
	Nonce       string    `json:"nonce,omitempty"`
	RedirectURI string    `json:"redirect_uri,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Entry is everything cached for a single session key.
type Entry struct {
	AccessToken  string       `json:"access_token,omitempty"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	TokenType    string       `json:"token_type,omitempty"`
	Expiry       time.Time    `json:"expiry,omitempty"`
	IDToken      string       `json:"id_token,omitempty"`
	Transaction  *Transaction `json:"transaction,omitempty"`
}

// HasTokens reports whether the entry carries an access token.
func (e Entry) HasTokens() bool {
	return e.AccessToken != ""
}

// IsZero reports whether there is nothing worth persisting.
func (e Entry) IsZero() bool {
	return !e.HasTokens() && e.RefreshToken == "" && e.IDToken == "" && e.Transaction == nil
}

type Cache interface {
	Get(key string) (Entry, bool, error)
	Set(key string, entry Entry) error
	Delete(key string) error
}

// New returns the cache backend for storage. path is only used by the file
// backend; an empty path selects DefaultPath.
func New(storage, path string) (Cache, error) {
	switch storage {
	case StorageMemory:
		return NewMemory(), nil
	case StorageFile, "":
		if path == "" {
			path = DefaultPath()
		}
		return NewFile(path), nil
	case StorageKeychain:
		return NewKeychain(""), nil
	default:
		return nil, fmt.Errorf("unsupported token storage: %s", storage)
	}
}
