// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/sessionboot/internal/oidctest"
	"github.com/telekom/sessionboot/pkg/identity"
	"github.com/telekom/sessionboot/pkg/tokencache"
)

func TestInitialize_LoginRoundTrip(t *testing.T) {
	provider := oidctest.New(t, "spa-client")
	cache := tokencache.NewMemory()
	cfg := identity.Config{Domain: provider.Issuer(), ClientID: "spa-client", Audience: "https://api.example.com"}
	b := New(cfg, NewClientFactory(identity.WithCache(cache, "browser-1")), WithMode("test"))

	first := &fakeLocation{origin: "http://localhost:3000", query: url.Values{}}
	session, err := b.Initialize(context.Background(), first)
	require.NoError(t, err)
	require.Equal(t, StateRedirectingToLogin, session.State)
	require.Len(t, first.navigations, 1)

	// the provider sends the browser back with code and state, the page reloads
	back := &fakeLocation{origin: "http://localhost:3000", query: provider.Authorize(t, first.navigations[0])}
	session, err = b.Initialize(context.Background(), back)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, session.State)
	assert.True(t, session.Callback.Present())
	assert.Empty(t, back.query)
	assert.Empty(t, back.navigations)

	// a later reload with the session in the cache needs no callback
	again := &fakeLocation{origin: "http://localhost:3000", query: url.Values{}}
	session, err = b.Initialize(context.Background(), again)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, session.State)
	assert.Equal(t, identity.CallbackAbsent, session.Callback.Status)
	assert.Equal(t, 1, provider.Exchanges())
}

func TestInitialize_ReplayedCallbackStartsNewLogin(t *testing.T) {
	provider := oidctest.New(t, "spa-client")
	cache := tokencache.NewMemory()
	cfg := identity.Config{Domain: provider.Issuer(), ClientID: "spa-client"}
	b := New(cfg, NewClientFactory(identity.WithCache(cache, "browser-1")))

	loc := &fakeLocation{origin: "http://localhost:3000", query: url.Values{"code": {"abc"}, "state": {"xyz"}}}
	session, err := b.Initialize(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, identity.CallbackInvalid, session.Callback.Status)
	assert.Equal(t, StateRedirectingToLogin, session.State)
	assert.Len(t, loc.navigations, 1)
}
