// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/sessionboot/internal/oidctest"
	"github.com/telekom/sessionboot/pkg/audit"
	"github.com/telekom/sessionboot/pkg/config"
	"github.com/telekom/sessionboot/pkg/identity"
	"github.com/telekom/sessionboot/pkg/tokencache"
)

const (
	testClientID  = "spa-client"
	testAudience  = "https://api.example.com"
	testPublicURL = "http://app.example.com"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (s *recordingSink) Write(_ context.Context, e *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Close() error { return nil }
func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) has(t audit.EventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Type == t {
			return true
		}
	}
	return false
}

type testServer struct {
	*Server
	provider *oidctest.Provider
	cache    *tokencache.Memory
	sink     *recordingSink
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	provider := oidctest.New(t, testClientID)

	cfg := config.Defaults()
	cfg.Identity = identity.Config{
		Domain:        provider.Issuer(),
		ClientID:      testClientID,
		Audience:      testAudience,
		CacheLocation: identity.CacheLocationMemory,
	}
	cfg.Server.Dev = true
	cfg.Server.FrontendDir = writeFrontend(t)
	cfg.Server.PublicURL = testPublicURL
	cfg.Server.SessionSecret = strings.Repeat("s", 32)
	cfg.Server.CookieSecure = false
	cfg.Server.Debug = true
	cfg.Server.RateLimit = config.RateLimit{}
	for _, m := range mutate {
		m(&cfg)
	}

	cache := tokencache.NewMemory()
	sink := &recordingSink{}
	srv, err := NewServer(ServerConfig{Config: cfg, Log: zaptest.NewLogger(t), Cache: cache, AuditSink: sink, Converter: plainTextConverter{}})
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, provider: provider, cache: cache, sink: sink}
}

func (ts *testServer) do(method, target string, cookie *http.Cookie, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	return nil
}

// login runs a page load through the provider and returns the session cookie.
func (ts *testServer) login(t *testing.T) *http.Cookie {
	t.Helper()
	w := ts.do(http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusFound, w.Code)
	cookie := sessionCookie(t, w)
	require.NotNil(t, cookie)

	callback := ts.provider.Authorize(t, w.Header().Get("Location"))
	w = ts.do(http.MethodGet, "/?"+callback.Encode(), cookie, nil)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/", w.Header().Get("Location"))
	return cookie
}

func TestServer_FreshVisitRedirectsToLogin(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/dashboard", nil, nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	cookie := sessionCookie(t, w)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	loginURL, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, ts.provider.Issuer()+"/authorize", loginURL.Scheme+"://"+loginURL.Host+loginURL.Path)
	q := loginURL.Query()
	assert.Equal(t, testPublicURL, q.Get("redirect_uri"))
	assert.Equal(t, testAudience, q.Get("audience"))
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, 1, ts.sessions.Len())
	assert.True(t, ts.sink.has(audit.EventLoginRedirect))
}

func TestServer_LoginRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.login(t)
	assert.True(t, ts.sink.has(audit.EventCallbackConsumed))

	w := ts.do(http.MethodGet, "/", cookie, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), indexContent)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Nil(t, sessionCookie(t, w), "a valid session keeps its cookie")
	assert.True(t, ts.sink.has(audit.EventSessionRestored))

	w = ts.do(http.MethodGet, "/auth/user", cookie, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var user identity.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.Equal(t, ts.provider.Email, user.Email)
	assert.Equal(t, 1, ts.provider.Exchanges())
}

func TestServer_ReplayedCallbackStartsNewLogin(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/", nil, nil)
	cookie := sessionCookie(t, w)
	callback := ts.provider.Authorize(t, w.Header().Get("Location"))
	require.Equal(t, "/", ts.do(http.MethodGet, "/?"+callback.Encode(), cookie, nil).Header().Get("Location"))

	// a second browser without the transaction presents the same callback
	w = ts.do(http.MethodGet, "/?"+callback.Encode(), nil, nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Location"), ts.provider.Issuer()+"/authorize"))
	assert.True(t, ts.sink.has(audit.EventCallbackRejected))
}

func TestServer_TamperedCookieStartsNewSession(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.login(t)

	forged := &http.Cookie{Name: SessionCookieName, Value: cookie.Value[:len(cookie.Value)-2] + "xx"}
	w := ts.do(http.MethodGet, "/", forged, nil)
	require.Equal(t, http.StatusFound, w.Code)
	fresh := sessionCookie(t, w)
	require.NotNil(t, fresh)
	assert.NotEqual(t, cookie.Value, fresh.Value)
	assert.True(t, strings.HasPrefix(w.Header().Get("Location"), ts.provider.Issuer()+"/authorize"))
}

func TestServer_AssetsSkipBootstrap(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/assets/style.css", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cssContent, w.Body.String())
	assert.Nil(t, sessionCookie(t, w))
	assert.Zero(t, ts.sessions.Len())
}

func TestServer_DiscoveryFailureRendersErrorPage(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(broken.Close)
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Identity.Domain = broken.URL
	})

	w := ts.do(http.MethodGet, "/", nil, http.Header{"X-Request-Id": {"req-42"}})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Sign-in is currently unavailable")
	assert.Contains(t, w.Body.String(), "REQ-42")
	assert.True(t, ts.sink.has(audit.EventBootstrapFailed))
}

func TestServer_Logout(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.login(t)

	w := ts.do(http.MethodPost, "/auth/logout", cookie, nil)
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	cleared := sessionCookie(t, w)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)
	assert.Zero(t, ts.cache.Len())
	assert.Zero(t, ts.sessions.Len())
	assert.True(t, ts.sink.has(audit.EventSessionLoggedOut))

	// the old cookie no longer carries a session
	w = ts.do(http.MethodGet, "/", cookie, nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Location"), ts.provider.Issuer()+"/authorize"))
}

func TestServer_LogoutAtProvider(t *testing.T) {
	ts := newTestServer(t)
	ts.provider.EndSession = true
	cookie := ts.login(t)

	w := ts.do(http.MethodPost, "/auth/logout", cookie, nil)
	require.Equal(t, http.StatusSeeOther, w.Code)
	target, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/logout", target.Path)
	assert.Equal(t, testClientID, target.Query().Get("client_id"))
	assert.Equal(t, testPublicURL+"/", target.Query().Get("post_logout_redirect_uri"))
}

func TestServer_LogoutWithoutSession(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodPost, "/auth/logout", nil, nil)
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
}

func TestServer_UserWithoutSession(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/auth/user", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_Config(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/config", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got FrontendConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, FrontendConfig{
		Domain:   ts.provider.Issuer(),
		Issuer:   ts.provider.Issuer(),
		ClientID: testClientID,
		Audience: testAudience,
	}, got)
}

func TestServer_BearerSession(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "no header", wantStatus: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic Zm9vOmJhcg==", wantStatus: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer not-a-jwt", wantStatus: http.StatusUnauthorized},
		{name: "wrong audience", header: "Bearer " + ts.provider.AccessToken(t, "https://other.example.com", time.Hour), wantStatus: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + ts.provider.AccessToken(t, testAudience, -time.Minute), wantStatus: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + ts.provider.AccessToken(t, testAudience, time.Hour), wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.header != "" {
				header.Set(AuthHeaderKey, tt.header)
			}
			w := ts.do(http.MethodGet, "/api/session", nil, header)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, ts.provider.Subject, body["subject"])
			assert.Equal(t, ts.provider.Email, body["email"])
		})
	}
	assert.True(t, ts.sink.has(audit.EventAPIAccessDenied))
	assert.True(t, ts.sink.has(audit.EventAPIAccessAccepted))
}

func TestServer_BearerWithoutAudienceAcceptsAnyAudience(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Identity.Audience = ""
	})
	header := http.Header{}
	header.Set(AuthHeaderKey, "Bearer "+ts.provider.AccessToken(t, "https://other.example.com", time.Hour))
	w := ts.do(http.MethodGet, "/api/session", nil, header)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_PageRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = config.RateLimit{RequestsPerSecond: 0.01, Burst: 1}
	})

	assert.Equal(t, http.StatusFound, ts.do(http.MethodGet, "/", nil, nil).Code)
	w := ts.do(http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", nil, nil).Code)

	w := ts.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sessionboot_")
}

func TestServer_RunShutsDownOnCancel(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.ListenAddress = "127.0.0.1:0"
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
