// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-playground/validator/v10"
)

type CacheLocation string

const (
	CacheLocationMemory CacheLocation = "memory"
	// CacheLocationLocalStorage keeps sessions across process restarts.
	CacheLocationLocalStorage CacheLocation = "localstorage"
)

// Config describes how to reach the identity provider. It is not modified
// after a Client has been built from it.
type Config struct {
	// Domain is either a bare tenant domain (tenant.eu.auth0.com) or a full issuer URL.
	Domain   string `yaml:"domain" env:"DOMAIN" validate:"required"`
	ClientID string `yaml:"client-id" env:"CLIENT_ID" validate:"required"`
	// Audience is the API identifier access tokens are requested for.
	Audience string `yaml:"audience,omitempty" env:"AUDIENCE"`
	// RedirectURI defaults to the origin of the location being bootstrapped.
	RedirectURI     string            `yaml:"redirect-uri,omitempty" env:"REDIRECT_URI" validate:"omitempty,url"`
	CacheLocation   CacheLocation     `yaml:"cache-location,omitempty" env:"CACHE_LOCATION" validate:"omitempty,oneof=memory localstorage"`
	Scopes          []string          `yaml:"scopes,omitempty" env:"SCOPES" envSeparator:" "`
	CAFile          string            `yaml:"ca-file,omitempty" env:"CA_FILE"`
	InsecureSkipTLS bool              `yaml:"insecure-skip-tls-verify,omitempty" env:"INSECURE_SKIP_TLS_VERIFY"`
	ExtraAuthParams map[string]string `yaml:"extra-auth-params,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid identity config: %w", err)
	}
	return nil
}

// Issuer returns the issuer URL. Bare domains follow the Auth0 convention of
// https scheme and a trailing slash.
func (c Config) Issuer() string {
	domain := strings.TrimSpace(c.Domain)
	if strings.Contains(domain, "://") {
		return domain
	}
	return "https://" + strings.TrimRight(domain, "/") + "/"
}

func (c Config) Persistent() bool {
	return c.CacheLocation == CacheLocationLocalStorage
}

// WithRedirectURI returns a copy of c using uri as redirect target.
func (c Config) WithRedirectURI(uri string) Config {
	c.RedirectURI = uri
	return c
}

func (c Config) scopes() []string {
	if len(c.Scopes) > 0 {
		return c.Scopes
	}
	scopes := []string{oidc.ScopeOpenID, "profile", "email"}
	if c.Persistent() {
		scopes = append(scopes, oidc.ScopeOfflineAccess)
	}
	return scopes
}

// CacheKey identifies a session in a shared cache. owner separates sessions of
// different browsers; it may be empty for single-user processes.
func CacheKey(c Config, owner string) string {
	key := c.Issuer() + "::" + c.ClientID + "::" + c.Audience
	if owner == "" {
		return key
	}
	return owner + "::" + key
}
