// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package loopback

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/sessionboot/internal/oidctest"
	"github.com/telekom/sessionboot/pkg/bootstrap"
	"github.com/telekom/sessionboot/pkg/identity"
	"github.com/telekom/sessionboot/pkg/tokencache"
)

func listen(t *testing.T, opts ...Option) *Location {
	t.Helper()
	loc, err := Listen("127.0.0.1:0", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = loc.Close() })
	return loc
}

var noRedirects = &http.Client{
	Timeout: 5 * time.Second,
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

func get(t *testing.T, target string) (int, string, string) {
	t.Helper()
	resp, err := noRedirects.Get(target)
	if err != nil {
		return 0, err.Error(), ""
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), resp.Header.Get("Location")
}

func TestLocation_RejectsNonCallbackRequests(t *testing.T) {
	loc := listen(t)
	assert.True(t, strings.HasPrefix(loc.Origin(), "http://127.0.0.1:"))

	status, _, _ := get(t, loc.Origin()+"/favicon.ico")
	assert.Equal(t, http.StatusNotFound, status)

	status, body, _ := get(t, loc.Origin()+"/")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "no login in progress")
}

func TestLocation_NavigateOpensBrowser(t *testing.T) {
	var opened []string
	var out bytes.Buffer
	loc := listen(t, WithOutput(&out), WithOpener(func(u string) error {
		opened = append(opened, u)
		return errors.New("no display")
	}))

	require.NoError(t, loc.Navigate("https://login.example/authorize"))
	assert.Equal(t, []string{"https://login.example/authorize"}, opened)
	assert.Contains(t, out.String(), "https://login.example/authorize")
	assert.Contains(t, out.String(), "no display")
}

func TestLocation_CallbackIsAnsweredOnClear(t *testing.T) {
	loc := listen(t)

	type result struct {
		status int
		body   string
	}
	done := make(chan result, 1)
	go func() {
		status, body, _ := get(t, loc.Origin()+"/?code=abc&state=xyz")
		done <- result{status, body}
	}()

	require.NoError(t, loc.WaitForCallback(context.Background()))
	assert.Equal(t, "abc", loc.Query().Get("code"))

	require.NoError(t, loc.ClearQuery())
	assert.Empty(t, loc.Query())

	res := <-done
	assert.Equal(t, http.StatusOK, res.status)
	assert.Contains(t, res.body, "Authentication complete")
}

func TestLocation_NavigateRedirectsPendingBrowser(t *testing.T) {
	loc := listen(t, WithOpener(func(string) error {
		t.Error("browser must not be opened while a request is pending")
		return nil
	}))

	done := make(chan string, 1)
	go func() {
		_, _, location := get(t, loc.Origin()+"/?error=access_denied&state=xyz")
		done <- location
	}()

	require.NoError(t, loc.WaitForCallback(context.Background()))
	require.NoError(t, loc.Navigate("https://login.example/authorize?state=new"))
	assert.Equal(t, "https://login.example/authorize?state=new", <-done)
}

func TestLocation_WaitForCallbackEnds(t *testing.T) {
	t.Run("context", func(t *testing.T) {
		loc := listen(t)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, loc.WaitForCallback(ctx), context.DeadlineExceeded)
	})
	t.Run("close", func(t *testing.T) {
		loc := listen(t)
		require.NoError(t, loc.Close())
		assert.ErrorIs(t, loc.WaitForCallback(context.Background()), ErrClosed)
	})
}

func TestListen_AddressInUse(t *testing.T) {
	loc := listen(t)
	_, err := Listen(strings.TrimPrefix(loc.Origin(), "http://"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start callback listener")
}

func TestLogin(t *testing.T) {
	provider := oidctest.New(t, "cli-client")
	cache := tokencache.NewMemory()
	cfg := identity.Config{Domain: provider.Issuer(), ClientID: "cli-client"}
	b := bootstrap.New(cfg, bootstrap.NewClientFactory(identity.WithCache(cache, "cli")), bootstrap.WithMode("cli"))

	pages := make(chan string, 1)
	var loc *Location
	loc = listen(t, WithOpener(func(loginURL string) error {
		// the browser logs in and is sent back to the loopback address
		query := provider.Authorize(t, loginURL)
		go func() {
			_, body, _ := get(t, loc.Origin()+"/?"+query.Encode())
			pages <- body
		}()
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session, err := Login(ctx, b, loc)
	require.NoError(t, err)
	assert.True(t, session.Authenticated())
	assert.Contains(t, <-pages, "Authentication complete")

	entry, found, err := cache.Get("cli")
	require.NoError(t, err)
	require.True(t, found)
	assert.NotEmpty(t, entry.AccessToken)
	assert.Nil(t, entry.Transaction)
}

func TestLogin_RejectedCallbackSendsBrowserBackToLogin(t *testing.T) {
	provider := oidctest.New(t, "cli-client")
	cfg := identity.Config{Domain: provider.Issuer(), ClientID: "cli-client"}
	b := bootstrap.New(cfg, bootstrap.NewClientFactory(identity.WithCache(tokencache.NewMemory(), "cli")))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	redirects := make(chan string, 1)
	var loc *Location
	loc = listen(t, WithOpener(func(string) error {
		go func() {
			forged := url.Values{"code": {"stolen"}, "state": {"forged"}}
			_, _, location := get(t, loc.Origin()+"/?"+forged.Encode())
			redirects <- location
			cancel()
		}()
		return nil
	}))

	_, err := Login(ctx, b, loc)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, strings.HasPrefix(<-redirects, provider.Issuer()+"/authorize?"))
}

func TestLogin_GivesUpAfterRepeatedRejections(t *testing.T) {
	provider := oidctest.New(t, "cli-client")
	cfg := identity.Config{Domain: provider.Issuer(), ClientID: "cli-client"}
	b := bootstrap.New(cfg, bootstrap.NewClientFactory(identity.WithCache(tokencache.NewMemory(), "cli")))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type page struct {
		status   int
		body     string
		location string
	}
	pages := make(chan page, maxAttempts+1)
	var loc *Location
	forge := func() {
		go func() {
			forged := url.Values{"code": {"stolen"}, "state": {"forged"}}
			status, body, location := get(t, loc.Origin()+"/?"+forged.Encode())
			pages <- page{status: status, body: body, location: location}
		}()
	}
	loc = listen(t, WithOpener(func(string) error {
		forge()
		return nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := Login(ctx, b, loc)
		done <- err
	}()

	for range maxAttempts - 1 {
		p := <-pages
		assert.Equal(t, http.StatusFound, p.status)
		require.True(t, strings.HasPrefix(p.location, provider.Issuer()+"/authorize?"))
		// the redirected browser comes back with another forged callback
		forge()
	}
	last := <-pages
	assert.Equal(t, http.StatusInternalServerError, last.status)
	assert.Contains(t, last.body, "login did not complete after 3 attempts")
	assert.NotContains(t, last.body, "<nil>")
	assert.Empty(t, last.location)

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrInvalidCallback)
}
