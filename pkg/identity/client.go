// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/telekom/sessionboot/pkg/metrics"
	"github.com/telekom/sessionboot/pkg/tokencache"
)

const (
	// tokens this close to expiry are refreshed before being reported usable
	refreshWindow = 2 * time.Minute
	// a login has to come back within this time
	transactionTTL = 10 * time.Minute
)

type Client struct {
	cfg       Config
	discovery *Discovery
	oauth     oauth2.Config
	verifier  *oidc.IDTokenVerifier
	cache     tokencache.Cache
	key       string
	now       func() time.Time
}

type Option func(*Client)

// WithCache selects the session cache and the key the session lives under.
func WithCache(cache tokencache.Cache, key string) Option {
	return func(c *Client) {
		c.cache = cache
		c.key = key
	}
}

// WithDiscovery reuses provider metadata instead of fetching it again.
func WithDiscovery(d *Discovery) Option {
	return func(c *Client) {
		c.discovery = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RedirectURI == "" {
		return nil, errors.New("redirect uri is required")
	}
	c := &Client{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.discovery == nil {
		d, err := Discover(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.discovery = d
	}
	if c.cache == nil {
		if cfg.Persistent() {
			c.cache = tokencache.NewFile(tokencache.DefaultPath())
		} else {
			c.cache = tokencache.NewMemory()
		}
	}
	if c.key == "" {
		c.key = CacheKey(cfg, "")
	}
	c.oauth = oauth2.Config{
		ClientID:    cfg.ClientID,
		Endpoint:    c.discovery.provider.Endpoint(),
		RedirectURL: cfg.RedirectURI,
		Scopes:      cfg.scopes(),
	}
	c.verifier = c.discovery.provider.Verifier(&oidc.Config{ClientID: cfg.ClientID, Now: c.now})
	return c, nil
}

func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) CacheKey() string {
	return c.key
}

func (c *Client) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, c.discovery.httpClient)
}

// LoginURL starts a new login transaction and returns the hosted login page
// URL for it. A previously pending transaction is replaced.
func (c *Client) LoginURL(_ context.Context) (string, error) {
	state, err := randomToken(24)
	if err != nil {
		return "", err
	}
	nonce, err := randomToken(24)
	if err != nil {
		return "", err
	}
	verifier := oauth2.GenerateVerifier()

	entry, _, err := c.cache.Get(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to read session cache: %w", err)
	}
	entry.Transaction = &tokencache.Transaction{
		State:       state,
		Verifier:    verifier,
		Nonce:       nonce,
		RedirectURI: c.cfg.RedirectURI,
		CreatedAt:   c.now(),
	}
	if err := c.cache.Set(c.key, entry); err != nil {
		return "", fmt.Errorf("failed to store login transaction: %w", err)
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oidc.Nonce(nonce),
	}
	if c.cfg.Audience != "" {
		opts = append(opts, oauth2.SetAuthURLParam("audience", c.cfg.Audience))
	}
	for k, v := range c.cfg.ExtraAuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return c.oauth.AuthCodeURL(state, opts...), nil
}

// HandleRedirectCallback consumes the callback parameters in query. Problems
// with the callback itself are reported through the result; the error is only
// set when the session cache cannot be used.
func (c *Client) HandleRedirectCallback(ctx context.Context, query url.Values) (CallbackResult, error) {
	code := query.Get("code")
	state := query.Get("state")
	providerErr := query.Get("error")
	if code == "" && state == "" && providerErr == "" {
		metrics.CallbackResults.WithLabelValues(string(CallbackAbsent)).Inc()
		return absentCallback(), nil
	}

	result, err := c.consumeCallback(ctx, code, state, providerErr, query)
	if err != nil {
		return CallbackResult{}, err
	}
	metrics.CallbackResults.WithLabelValues(string(result.Status)).Inc()
	return result, nil
}

func (c *Client) consumeCallback(ctx context.Context, code, state, providerErr string, query url.Values) (CallbackResult, error) {
	entry, found, err := c.cache.Get(c.key)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("failed to read session cache: %w", err)
	}
	txn := entry.Transaction
	if !found || txn == nil {
		if providerErr != "" {
			return invalidCallback(providerError(query)), nil
		}
		return invalidCallback(ErrTransactionNotFound), nil
	}
	if state != txn.State {
		return invalidCallback(ErrStateMismatch), nil
	}

	// the transaction is single use from here on
	entry.Transaction = nil
	if err := c.store(entry); err != nil {
		return CallbackResult{}, err
	}

	if providerErr != "" {
		return invalidCallback(providerError(query)), nil
	}
	if code == "" {
		return invalidCallback(fmt.Errorf("%w: missing code", ErrInvalidCallback)), nil
	}
	if c.now().Sub(txn.CreatedAt) > transactionTTL {
		return invalidCallback(ErrTransactionExpired), nil
	}

	oauthCfg := c.oauth
	if txn.RedirectURI != "" {
		oauthCfg.RedirectURL = txn.RedirectURI
	}
	token, err := oauthCfg.Exchange(c.clientContext(ctx), code, oauth2.VerifierOption(txn.Verifier))
	if err != nil {
		return invalidCallback(fmt.Errorf("%w: token exchange failed: %w", ErrInvalidCallback, err)), nil
	}
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return invalidCallback(fmt.Errorf("%w: no id_token in token response", ErrInvalidCallback)), nil
	}
	idToken, err := c.verifier.Verify(c.clientContext(ctx), rawIDToken)
	if err != nil {
		return invalidCallback(fmt.Errorf("%w: id token verification failed: %w", ErrInvalidCallback, err)), nil
	}
	if idToken.Nonce != txn.Nonce {
		return invalidCallback(fmt.Errorf("%w: nonce mismatch", ErrInvalidCallback)), nil
	}

	if err := c.store(tokenEntry(token, rawIDToken)); err != nil {
		return CallbackResult{}, err
	}
	return presentCallback(), nil
}

func providerError(query url.Values) *ProviderError {
	return &ProviderError{
		Code:        query.Get("error"),
		Description: query.Get("error_description"),
		URI:         query.Get("error_uri"),
	}
}

// IsAuthenticated reports whether a usable session is cached. Sessions close
// to expiry are refreshed first when a refresh token is available; a failed
// refresh means not authenticated.
func (c *Client) IsAuthenticated(ctx context.Context) (bool, error) {
	entry, found, err := c.cache.Get(c.key)
	if err != nil {
		return false, fmt.Errorf("failed to read session cache: %w", err)
	}
	if !found || !entry.HasTokens() {
		return false, nil
	}
	if entry.Expiry.IsZero() || c.now().Add(refreshWindow).Before(entry.Expiry) {
		return true, nil
	}
	if entry.RefreshToken == "" {
		return false, nil
	}
	refreshed, err := c.refresh(ctx, entry)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return false, nil
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	if err := c.store(refreshed); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) refresh(ctx context.Context, entry tokencache.Entry) (tokencache.Entry, error) {
	// no access token, so the source always goes to the token endpoint
	src := c.oauth.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: entry.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return entry, fmt.Errorf("failed to refresh token: %w", err)
	}
	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		idToken = entry.IDToken
	}
	refreshed := tokenEntry(token, idToken)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = entry.RefreshToken
	}
	refreshed.Transaction = entry.Transaction
	return refreshed, nil
}

// Token returns the cached session, refreshing it when needed.
func (c *Client) Token(ctx context.Context) (tokencache.Entry, error) {
	ok, err := c.IsAuthenticated(ctx)
	if err != nil {
		return tokencache.Entry{}, err
	}
	if !ok {
		return tokencache.Entry{}, ErrNotAuthenticated
	}
	entry, _, err := c.cache.Get(c.key)
	if err != nil {
		return tokencache.Entry{}, fmt.Errorf("failed to read session cache: %w", err)
	}
	return entry, nil
}

// Logout forgets the cached session and any pending login.
func (c *Client) Logout(_ context.Context) error {
	if err := c.cache.Delete(c.key); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// LogoutURL is the provider page ending the session there as well. It is
// empty when the provider offers no such endpoint.
func (c *Client) LogoutURL(returnTo string) string {
	if c.discovery.endSessionURL != "" {
		values := url.Values{}
		values.Set("client_id", c.cfg.ClientID)
		if returnTo != "" {
			values.Set("post_logout_redirect_uri", returnTo)
		}
		return c.discovery.endSessionURL + "?" + values.Encode()
	}
	issuer, err := url.Parse(c.cfg.Issuer())
	if err != nil || !strings.HasSuffix(issuer.Hostname(), ".auth0.com") {
		return ""
	}
	values := url.Values{}
	values.Set("client_id", c.cfg.ClientID)
	if returnTo != "" {
		values.Set("returnTo", returnTo)
	}
	return strings.TrimRight(c.cfg.Issuer(), "/") + "/v2/logout?" + values.Encode()
}

func (c *Client) store(entry tokencache.Entry) error {
	if entry.IsZero() {
		if err := c.cache.Delete(c.key); err != nil {
			return fmt.Errorf("failed to update session cache: %w", err)
		}
		return nil
	}
	if err := c.cache.Set(c.key, entry); err != nil {
		return fmt.Errorf("failed to update session cache: %w", err)
	}
	return nil
}

func tokenEntry(token *oauth2.Token, idToken string) tokencache.Entry {
	return tokencache.Entry{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		IDToken:      idToken,
	}
}
