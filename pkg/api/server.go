// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/sessionboot/pkg/apiresponses"
	"github.com/telekom/sessionboot/pkg/audit"
	"github.com/telekom/sessionboot/pkg/bootstrap"
	"github.com/telekom/sessionboot/pkg/config"
	"github.com/telekom/sessionboot/pkg/extractor"
	"github.com/telekom/sessionboot/pkg/identity"
	"github.com/telekom/sessionboot/pkg/metrics"
	"github.com/telekom/sessionboot/pkg/ratelimit"
	"github.com/telekom/sessionboot/pkg/system"
	"github.com/telekom/sessionboot/pkg/tokencache"
)

const sessionPruneInterval = time.Minute

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.SugaredLogger
	signer   *cookieSigner
	sessions *sessionRegistry
	auth     *AuthHandler
	spa      *spa
	sink     audit.Sink
	proxies  trustedProxies

	converter extractor.Converter

	pageLimiter *ratelimit.Limiter
	apiLimiter  *ratelimit.Limiter
}

type ServerConfig struct {
	Config config.Config
	Log    *zap.Logger
	// Cache keeps the tokens of all browser sessions. Defaults to the cache
	// selected by the configuration.
	Cache     tokencache.Cache
	AuditSink audit.Sink
	// Converter turns uploaded documents into text. Defaults to Ghostscript.
	Converter extractor.Converter
}

func NewServer(sc ServerConfig) (*Server, error) {
	cfg := sc.Config
	log := sc.Log
	if log == nil {
		log = zap.NewNop()
	}
	sink := sc.AuditSink
	if sink == nil {
		sink = audit.NopSink{}
	}
	cache := sc.Cache
	if cache == nil {
		var err error
		if cache, err = cfg.Cache(); err != nil {
			return nil, err
		}
	}
	converter := sc.Converter
	if converter == nil {
		converter = extractor.Ghostscript{Binary: cfg.Server.Extract.Ghostscript}
	}
	frontend, err := frontendFS(cfg.Server)
	if err != nil {
		return nil, err
	}
	signer, err := newCookieSigner(cfg.Server.SessionSecret)
	if err != nil {
		return nil, err
	}
	if cfg.Server.SessionSecret == "" {
		log.Warn("No session secret configured, browser sessions end on restart")
	}

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	proxies, err := parseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		system.RequestLogger(log.Sugar()),
	)
	if cfg.Server.Debug {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:5173", "http://127.0.0.1:8080"},
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	sessions := newSessionRegistry(cfg.Identity, cache, cfg.Server.SessionTTL)
	s := &Server{
		engine:   engine,
		cfg:      cfg,
		log:      log.Sugar(),
		signer:   signer,
		sessions: sessions,
		auth:     NewAuth(log.Sugar(), cfg.Identity, sessions.Discovery, sink),
		spa:      newSPA(frontend),
		sink:     sink,
		proxies:  proxies,

		converter: converter,
		pageLimiter: ratelimit.New(ratelimit.Config{
			Rate:  cfg.Server.RateLimit.RequestsPerSecond,
			Burst: cfg.Server.RateLimit.Burst,
		}),
		apiLimiter: ratelimit.New(ratelimit.DefaultAPIConfig()),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	s.engine.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	api := s.engine.Group("/api")
	api.GET("/config", s.getConfig)
	protected := api.Group("", s.auth.Middleware(), s.apiLimiter.Middleware("api", ratelimit.ByContextKey(system.SubjectKey)))
	protected.GET("/session", s.getSession)
	protected.POST("/extract", s.extract)

	authGroup := s.engine.Group("/auth", s.pageLimiter.Middleware("auth", ratelimit.ByClientIP))
	authGroup.GET("/user", s.getUser)
	authGroup.GET("/token", s.getToken)
	authGroup.POST("/logout", s.logout)

	s.engine.NoRoute(s.spa.serveAsset, s.pageLimiter.Middleware("bootstrap", ratelimit.ByClientIP), s.bootstrapPage)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddress,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		ticker := time.NewTicker(sessionPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.sessions.prune(); n > 0 {
					s.log.Debugw("Pruned idle browser sessions", "count", n)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("Starting server", "address", s.cfg.Server.ListenAddress)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("Shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// Close releases the rate limiters and the key set refresh.
func (s *Server) Close() {
	s.pageLimiter.Stop()
	s.apiLimiter.Stop()
	s.auth.Close()
}

// identityConfig is the identity configuration for a request, with the
// redirect URI defaulting to the origin the browser used.
func (s *Server) identityConfig(c *gin.Context) identity.Config {
	cfg := s.cfg.Identity
	if cfg.RedirectURI == "" {
		cfg = cfg.WithRedirectURI(s.origin(c))
	}
	return cfg
}

func (s *Server) origin(c *gin.Context) string {
	return requestOrigin(c.Request, s.cfg.Server.PublicURL, s.proxies)
}

func (s *Server) clientFactory(id string) bootstrap.ClientFactory {
	return func(ctx context.Context, cfg identity.Config) (bootstrap.IdentityClient, error) {
		client, err := s.sessions.client(ctx, id, cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// bootstrapPage runs the session bootstrap for a page load. The page is only
// served to authenticated sessions; everything else ends in a redirect.
func (s *Server) bootstrapPage(c *gin.Context) {
	log := system.GetReqLogger(c, s.log)
	id, err := s.sessionID(c)
	if err != nil {
		log.Errorw("Failed to start browser session", "error", err)
		renderInternalError(c)
		return
	}
	c.Set(system.SessionIDKey, id)
	log = system.EnrichReqLogger(c, log)

	loc := newRequestLocation(c, s.origin(c))
	b := bootstrap.New(s.cfg.Identity, s.clientFactory(id),
		bootstrap.WithLogger(system.Logr(log.Desugar())),
		bootstrap.WithAuditSink(s.sink),
		bootstrap.WithMode("server"),
		bootstrap.WithSessionID(id),
	)
	session, err := b.Initialize(c.Request.Context(), loc)
	if err != nil {
		log.Errorw("Session bootstrap failed", "error", err)
		renderInternalError(c)
		return
	}
	if loc.redirect != "" {
		c.Header("Cache-Control", "no-store")
		c.Redirect(http.StatusFound, loc.redirect)
		return
	}
	log.Debugw("Serving application", "state", session.State)
	s.spa.serveIndex(c)
}

// FrontendConfig is what the application needs to talk to the provider.
type FrontendConfig struct {
	Domain   string `json:"domain"`
	Issuer   string `json:"issuer"`
	ClientID string `json:"clientId"`
	Audience string `json:"audience,omitempty"`
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, FrontendConfig{
		Domain:   s.cfg.Identity.Domain,
		Issuer:   s.cfg.Identity.Issuer(),
		ClientID: s.cfg.Identity.ClientID,
		Audience: s.cfg.Identity.Audience,
	})
}

// getSession echoes the verified bearer token claims.
func (s *Server) getSession(c *gin.Context) {
	system.EnrichReqLogger(c, system.GetReqLogger(c, s.log)).Debug("Serving API session")
	claims, _ := c.Get(ClaimsKey)
	c.JSON(http.StatusOK, gin.H{
		"subject": c.GetString(system.SubjectKey),
		"email":   c.GetString(system.EmailKey),
		"claims":  claims,
	})
}

// getUser returns the user of the browser session.
func (s *Server) getUser(c *gin.Context) {
	id, ok := s.currentSessionID(c)
	if !ok {
		apiresponses.RespondUnauthorized(c, "no session")
		return
	}
	client, ok := s.sessions.lookup(id)
	if !ok {
		apiresponses.RespondUnauthorized(c, "no session")
		return
	}
	authenticated, err := client.IsAuthenticated(c.Request.Context())
	if err != nil {
		apiresponses.RespondInternalError(c, "check session", err, system.GetReqLogger(c, s.log))
		return
	}
	if !authenticated {
		apiresponses.RespondUnauthorized(c, "")
		return
	}
	user, err := client.User(c.Request.Context())
	if err != nil {
		apiresponses.RespondUnauthorized(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, user)
}

// TokenResponse hands the access token of the browser session to the
// application for its API calls.
type TokenResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"`
}

func (s *Server) getToken(c *gin.Context) {
	id, ok := s.currentSessionID(c)
	if !ok {
		apiresponses.RespondUnauthorized(c, "no session")
		return
	}
	client, ok := s.sessions.lookup(id)
	if !ok {
		apiresponses.RespondUnauthorized(c, "no session")
		return
	}
	entry, err := client.Token(c.Request.Context())
	if errors.Is(err, identity.ErrNotAuthenticated) {
		apiresponses.RespondUnauthorized(c, "")
		return
	}
	if err != nil {
		apiresponses.RespondInternalError(c, "read session token", err, system.GetReqLogger(c, s.log))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, TokenResponse{AccessToken: entry.AccessToken, TokenType: entry.TokenType, ExpiresAt: entry.Expiry})
}

// logout ends the browser session and sends the browser to the provider
// logout page when there is one.
func (s *Server) logout(c *gin.Context) {
	log := system.GetReqLogger(c, s.log)
	target := "/"
	if id, ok := s.currentSessionID(c); ok {
		returnTo := s.origin(c) + "/"
		client, found := s.sessions.lookup(id)
		if !found {
			var err error
			if client, err = s.sessions.client(c.Request.Context(), id, s.identityConfig(c)); err != nil {
				log.Warnw("Provider logout unavailable", "error", err)
			}
		}
		if client != nil {
			if u := client.LogoutURL(returnTo); u != "" {
				target = u
			}
		}
		if err := s.sessions.remove(id); err != nil {
			log.Errorw("Failed to remove browser session", "error", err)
			renderInternalError(c)
			return
		}

		event := audit.NewEvent(audit.EventSessionLoggedOut)
		event.Mode = "server"
		event.SessionID = id
		event.Actor = audit.Actor{SourceIP: c.ClientIP()}
		event.Target = audit.Target{Issuer: s.cfg.Identity.Issuer(), ClientID: s.cfg.Identity.ClientID, Audience: s.cfg.Identity.Audience}
		if err := s.sink.Write(c.Request.Context(), event); err != nil {
			log.Warnw("Failed to write audit event", "type", event.Type, "error", err)
		}
	}
	s.setSessionCookie(c, "", -1)
	c.Redirect(http.StatusSeeOther, target)
}
