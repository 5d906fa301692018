// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/telekom/sessionboot/pkg/identity"
	"github.com/telekom/sessionboot/pkg/metrics"
	"github.com/telekom/sessionboot/pkg/tokencache"
)

const SessionCookieName = "sessionboot_session"

// cookieSigner issues and checks session cookies. The cookie value is a
// compact JWS over the session id.
type cookieSigner struct {
	key []byte
}

func newCookieSigner(secret string) (*cookieSigner, error) {
	if secret != "" {
		return &cookieSigner{key: []byte(secret)}, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}
	return &cookieSigner{key: key}, nil
}

func (s *cookieSigner) sign(id string) (string, error) {
	signed, err := jws.Sign([]byte(id), jws.WithKey(jwa.HS256, s.key))
	if err != nil {
		return "", fmt.Errorf("failed to sign session cookie: %w", err)
	}
	return string(signed), nil
}

// verify returns the session id carried by value.
func (s *cookieSigner) verify(value string) (string, error) {
	payload, err := jws.Verify([]byte(value), jws.WithKey(jwa.HS256, s.key))
	if err != nil {
		return "", fmt.Errorf("invalid session cookie: %w", err)
	}
	id, err := uuid.ParseBytes(payload)
	if err != nil {
		return "", fmt.Errorf("invalid session id: %w", err)
	}
	return id.String(), nil
}

type browserSession struct {
	client   *identity.Client
	lastSeen time.Time
}

// sessionRegistry keeps one identity client per browser session. Clients
// share the provider discovery and the token cache; each session has its own
// cache key.
type sessionRegistry struct {
	cfg   identity.Config
	cache tokencache.Cache
	ttl   time.Duration
	now   func() time.Time

	discoverMu sync.Mutex
	discovery  *identity.Discovery

	mu       sync.RWMutex
	sessions map[string]*browserSession
}

func newSessionRegistry(cfg identity.Config, cache tokencache.Cache, ttl time.Duration) *sessionRegistry {
	return &sessionRegistry{
		cfg:      cfg,
		cache:    cache,
		ttl:      ttl,
		now:      time.Now,
		sessions: map[string]*browserSession{},
	}
}

// Discovery fetches the provider metadata once. A failed discovery is retried
// on the next call.
func (r *sessionRegistry) Discovery(ctx context.Context) (*identity.Discovery, error) {
	r.discoverMu.Lock()
	defer r.discoverMu.Unlock()
	if r.discovery != nil {
		return r.discovery, nil
	}
	d, err := identity.Discover(ctx, r.cfg)
	if err != nil {
		return nil, err
	}
	r.discovery = d
	return d, nil
}

// client returns the identity client of session id, creating it for cfg when
// the session is new or its redirect URI changed.
func (r *sessionRegistry) client(ctx context.Context, id string, cfg identity.Config) (*identity.Client, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok && s.client.Config().RedirectURI == cfg.RedirectURI {
		r.touch(id)
		return s.client, nil
	}

	d, err := r.Discovery(ctx)
	if err != nil {
		return nil, err
	}
	client, err := identity.NewClient(ctx, cfg,
		identity.WithDiscovery(d),
		identity.WithCache(r.cache, identity.CacheKey(cfg, id)))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; !exists {
		metrics.BrowserSessions.Inc()
	}
	r.sessions[id] = &browserSession{client: client, lastSeen: r.now()}
	return client, nil
}

func (r *sessionRegistry) lookup(id string) (*identity.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.client, true
}

func (r *sessionRegistry) touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.lastSeen = r.now()
	}
}

// remove forgets the session and its cached tokens.
func (r *sessionRegistry) remove(id string) error {
	r.mu.Lock()
	if _, ok := r.sessions[id]; ok {
		delete(r.sessions, id)
		metrics.BrowserSessions.Dec()
	}
	r.mu.Unlock()
	return r.deleteTokens(id)
}

func (r *sessionRegistry) deleteTokens(id string) error {
	if err := r.cache.Delete(identity.CacheKey(r.cfg, id)); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// prune drops sessions idle for longer than the session TTL and returns how
// many were removed.
func (r *sessionRegistry) prune() int {
	cutoff := r.now().Add(-r.ttl)
	removed := 0
	for _, id := range r.idleSince(cutoff) {
		if r.evict(id, cutoff) {
			removed++
		}
	}
	return removed
}

func (r *sessionRegistry) idleSince(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var idle []string
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	return idle
}

// evict removes session id if it is still idle at cutoff. A session touched
// after it was collected is kept.
func (r *sessionRegistry) evict(id string, cutoff time.Time) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || !s.lastSeen.Before(cutoff) {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	metrics.BrowserSessions.Dec()
	r.mu.Unlock()
	_ = r.deleteTokens(id)
	return true
}

func (r *sessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// sessionID returns the browser session of the request, starting a new one
// when the cookie is missing or its signature does not verify.
func (s *Server) sessionID(c *gin.Context) (string, error) {
	if value, err := c.Cookie(SessionCookieName); err == nil {
		id, verr := s.signer.verify(value)
		if verr == nil {
			return id, nil
		}
		s.log.Debugw("Discarding session cookie", "error", verr)
	}
	id := uuid.NewString()
	value, err := s.signer.sign(id)
	if err != nil {
		return "", err
	}
	s.setSessionCookie(c, value, int(s.cfg.Server.SessionTTL.Seconds()))
	return id, nil
}

// currentSessionID is the verified session of the request without starting a
// new one.
func (s *Server) currentSessionID(c *gin.Context) (string, bool) {
	value, err := c.Cookie(SessionCookieName)
	if err != nil {
		return "", false
	}
	id, err := s.signer.verify(value)
	if err != nil {
		return "", false
	}
	return id, true
}

func (s *Server) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, value, maxAge, "/", "", s.cfg.Server.CookieSecure, true)
}
