// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package oidctest runs an in-process OIDC provider for tests. It supports
// discovery, JWKS, the authorization code grant with PKCE and refresh tokens.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const KeyID = "oidctest-key"

type grant struct {
	nonce       string
	challenge   string
	redirectURI string
	audience    string
	issuedAt    time.Time
}

type Provider struct {
	Server   *httptest.Server
	ClientID string
	Subject  string
	Email    string
	// TokenLifetime is the expires_in of issued access tokens.
	TokenLifetime time.Duration
	// EndSession advertises an end_session_endpoint in discovery.
	EndSession bool
	// OmitIDToken leaves id_token out of code exchange responses.
	OmitIDToken bool

	key *rsa.PrivateKey

	mu            sync.Mutex
	grants        map[string]grant
	refreshTokens map[string]string
	exchanges     int
	refreshes     int
	rejectRefresh bool
	tamperID      func(jwt.MapClaims)
	foreignKey    *rsa.PrivateKey
}

func New(t testing.TB, clientID string) *Provider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	p := &Provider{
		ClientID:      clientID,
		Subject:       "auth0|user-1",
		Email:         "user@example.com",
		TokenLifetime: time.Hour,
		key:           key,
		grants:        map[string]grant{},
		refreshTokens: map[string]string{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.discovery)
	mux.HandleFunc("/jwks", p.jwks)
	mux.HandleFunc("/token", p.token)
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

func (p *Provider) Issuer() string {
	return p.Server.URL
}

func (p *Provider) JWKSURL() string {
	return p.Server.URL + "/jwks"
}

func (p *Provider) Exchanges() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchanges
}

// RejectRefresh makes later refresh token grants fail with invalid_grant.
func (p *Provider) RejectRefresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectRefresh = true
}

// TamperIDToken lets fn rewrite the claims of ID tokens issued by later code
// exchanges.
func (p *Provider) TamperIDToken(fn func(jwt.MapClaims)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tamperID = fn
}

// SignIDTokensWithForeignKey signs later ID tokens with a key that is not in
// the JWKS, under the advertised key id.
func (p *Provider) SignIDTokensWithForeignKey(t testing.TB) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.foreignKey = key
}

func (p *Provider) Refreshes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

// Authorize plays the user logging in on the hosted page for loginURL and
// returns the query the provider redirects back with.
func (p *Provider) Authorize(t testing.TB, loginURL string) url.Values {
	t.Helper()
	parsed, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("invalid login url: %v", err)
	}
	q := parsed.Query()
	if q.Get("client_id") != p.ClientID {
		t.Fatalf("unexpected client_id %q", q.Get("client_id"))
	}
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		t.Fatalf("login url is missing PKCE parameters: %s", loginURL)
	}
	code := randomString()
	p.mu.Lock()
	p.grants[code] = grant{
		nonce:       q.Get("nonce"),
		challenge:   q.Get("code_challenge"),
		redirectURI: q.Get("redirect_uri"),
		audience:    q.Get("audience"),
		issuedAt:    time.Now(),
	}
	p.mu.Unlock()
	return url.Values{"code": {code}, "state": {q.Get("state")}}
}

// AccessToken signs an access token for audience.
func (p *Provider) AccessToken(t testing.TB, audience string, lifetime time.Duration) string {
	t.Helper()
	signed, err := p.sign(jwt.MapClaims{
		"iss":   p.Issuer(),
		"sub":   p.Subject,
		"aud":   audience,
		"email": p.Email,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(lifetime).Unix(),
	})
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (p *Provider) discovery(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]interface{}{
		"issuer":                                p.Issuer(),
		"authorization_endpoint":                p.Issuer() + "/authorize",
		"token_endpoint":                        p.Issuer() + "/token",
		"jwks_uri":                              p.JWKSURL(),
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}
	if p.EndSession {
		doc["end_session_endpoint"] = p.Issuer() + "/logout"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (p *Provider) jwks(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": KeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(p.key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(p.key.E)).Bytes()),
		}},
	})
}

func (p *Provider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request")
		return
	}
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.exchangeCode(w, r.PostForm)
	case "refresh_token":
		p.refresh(w, r.PostForm)
	default:
		tokenError(w, "unsupported_grant_type")
	}
}

func (p *Provider) exchangeCode(w http.ResponseWriter, form url.Values) {
	p.mu.Lock()
	g, ok := p.grants[form.Get("code")]
	delete(p.grants, form.Get("code"))
	p.exchanges++
	p.mu.Unlock()
	if !ok {
		tokenError(w, "invalid_grant")
		return
	}
	sum := sha256.Sum256([]byte(form.Get("code_verifier")))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != g.challenge {
		tokenError(w, "invalid_grant")
		return
	}
	if form.Get("redirect_uri") != g.redirectURI {
		tokenError(w, "invalid_grant")
		return
	}
	p.issue(w, g.audience, g.nonce, !p.OmitIDToken)
}

func (p *Provider) refresh(w http.ResponseWriter, form url.Values) {
	p.mu.Lock()
	audience, ok := p.refreshTokens[form.Get("refresh_token")]
	p.refreshes++
	rejected := p.rejectRefresh
	p.mu.Unlock()
	if !ok || rejected {
		tokenError(w, "invalid_grant")
		return
	}
	p.issue(w, audience, "", true)
}

func (p *Provider) issue(w http.ResponseWriter, audience, nonce string, withIDToken bool) {
	accessAudience := audience
	if accessAudience == "" {
		accessAudience = p.ClientID
	}
	now := time.Now()
	access, err := p.sign(jwt.MapClaims{
		"iss": p.Issuer(), "sub": p.Subject, "aud": accessAudience,
		"iat": now.Unix(), "exp": now.Add(p.TokenLifetime).Unix(),
	})
	if err != nil {
		tokenError(w, "server_error")
		return
	}
	refresh := randomString()
	p.mu.Lock()
	p.refreshTokens[refresh] = audience
	p.mu.Unlock()

	resp := map[string]interface{}{
		"access_token":  access,
		"token_type":    "Bearer",
		"expires_in":    int(p.TokenLifetime.Seconds()),
		"refresh_token": refresh,
	}
	if withIDToken {
		claims := jwt.MapClaims{
			"iss": p.Issuer(), "sub": p.Subject, "aud": p.ClientID, "email": p.Email,
			"iat": now.Unix(), "exp": now.Add(time.Hour).Unix(),
		}
		if nonce != "" {
			claims["nonce"] = nonce
		}
		p.mu.Lock()
		tamper, key := p.tamperID, p.foreignKey
		p.mu.Unlock()
		if tamper != nil {
			tamper(claims)
		}
		if key == nil {
			key = p.key
		}
		idToken, err := signWith(key, claims)
		if err != nil {
			tokenError(w, "server_error")
			return
		}
		resp["id_token"] = idToken
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (p *Provider) sign(claims jwt.MapClaims) (string, error) {
	return signWith(p.key, claims)
}

func signWith(key *rsa.PrivateKey, claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = KeyID
	return token.SignedString(key)
}

func tokenError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

func randomString() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
