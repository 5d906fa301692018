// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Discovery is the provider metadata shared by all clients of one issuer.
type Discovery struct {
	provider      *oidc.Provider
	httpClient    *http.Client
	endSessionURL string
	jwksURL       string
}

type providerMetadata struct {
	EndSessionEndpoint string `json:"end_session_endpoint"`
	JWKSURI            string `json:"jwks_uri"`
}

func Discover(ctx context.Context, cfg Config) (*Discovery, error) {
	httpClient, err := newHTTPClient(cfg.CAFile, cfg.InsecureSkipTLS)
	if err != nil {
		return nil, err
	}
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.Issuer())
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	var meta providerMetadata
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("failed to parse provider metadata: %w", err)
	}
	return &Discovery{
		provider:      provider,
		httpClient:    httpClient,
		endSessionURL: meta.EndSessionEndpoint,
		jwksURL:       meta.JWKSURI,
	}, nil
}

// JWKSURL is the key set used to sign tokens of this issuer.
func (d *Discovery) JWKSURL() string {
	return d.jwksURL
}

func (d *Discovery) HTTPClient() *http.Client {
	return d.httpClient
}
