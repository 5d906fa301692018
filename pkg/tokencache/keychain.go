// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package tokencache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const defaultKeychainService = "sessionboot"

// Keychain stores one JSON encoded entry per key in the OS credential store.
type Keychain struct {
	Service string
}

func NewKeychain(service string) *Keychain {
	if service == "" {
		service = defaultKeychainService
	}
	return &Keychain{Service: service}
}

func (k *Keychain) Get(key string) (Entry, bool, error) {
	secret, err := keyring.Get(k.Service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("failed to read keychain entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(secret), &entry); err != nil {
		return Entry{}, false, fmt.Errorf("failed to parse keychain entry: %w", err)
	}
	return entry, true, nil
}

func (k *Keychain) Set(key string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal keychain entry: %w", err)
	}
	if err := keyring.Set(k.Service, key, string(raw)); err != nil {
		return fmt.Errorf("failed to write keychain entry: %w", err)
	}
	return nil
}

func (k *Keychain) Delete(key string) error {
	if err := keyring.Delete(k.Service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keychain entry: %w", err)
	}
	return nil
}
