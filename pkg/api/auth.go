// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/telekom/sessionboot/pkg/apiresponses"
	"github.com/telekom/sessionboot/pkg/audit"
	"github.com/telekom/sessionboot/pkg/identity"
	"github.com/telekom/sessionboot/pkg/system"
)

const (
	AuthHeaderKey = "Authorization"
	// ClaimsKey holds the verified jwt.MapClaims of an API request.
	ClaimsKey = "claims"
)

var errNoJWKS = errors.New("provider metadata has no jwks_uri")

// AuthHandler validates bearer access tokens against the provider keys. The
// key set is loaded on first use from the discovered jwks_uri.
type AuthHandler struct {
	issuer   string
	audience string
	discover func(ctx context.Context) (*identity.Discovery, error)
	sink     audit.Sink
	log      *zap.SugaredLogger

	mu   sync.Mutex
	jwks *keyfunc.JWKS
}

func NewAuth(log *zap.SugaredLogger, cfg identity.Config, discover func(ctx context.Context) (*identity.Discovery, error), sink audit.Sink) *AuthHandler {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &AuthHandler{
		issuer:   cfg.Issuer(),
		audience: cfg.Audience,
		discover: discover,
		sink:     sink,
		log:      log,
	}
}

func (a *AuthHandler) keys(ctx context.Context) (*keyfunc.JWKS, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.jwks != nil {
		return a.jwks, nil
	}
	d, err := a.discover(ctx)
	if err != nil {
		return nil, err
	}
	if d.JWKSURL() == "" {
		return nil, errNoJWKS
	}
	options := keyfunc.Options{
		Client:          d.HTTPClient(),
		RefreshInterval: time.Hour,
		RefreshTimeout:  10 * time.Second,
		RefreshErrorHandler: func(err error) {
			a.log.Errorf("failed to refresh JWKS: %v", err)
		},
		RefreshUnknownKID: true,
	}
	jwks, err := keyfunc.Get(d.JWKSURL(), options)
	if err != nil {
		return nil, err
	}
	a.jwks = jwks
	return jwks, nil
}

// Close stops the background key refresh.
func (a *AuthHandler) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.jwks != nil {
		a.jwks.EndBackground()
		a.jwks = nil
	}
}

// validate parses bearer and checks signature, expiry, issuer and, when one
// is configured, the audience.
func (a *AuthHandler) validate(ctx context.Context, bearer string) (jwt.MapClaims, error) {
	jwks, err := a.keys(ctx)
	if err != nil {
		return nil, err
	}
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(bearer, claims, jwks.Keyfunc); err != nil {
		return nil, err
	}
	if !claims.VerifyIssuer(a.issuer, true) {
		return nil, errors.New("token has an unexpected issuer")
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, true) {
		return nil, errors.New("token is not issued for this API")
	}
	return claims, nil
}

func (a *AuthHandler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		authHeader := c.GetHeader(AuthHeaderKey)
		// delete the header to avoid logging it by accident
		c.Request.Header.Del(AuthHeaderKey)
		if !strings.HasPrefix(authHeader, "Bearer ") {
			a.deny(c, "No Bearer token provided in Authorization header")
			return
		}

		claims, err := a.validate(c.Request.Context(), strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			a.log.Debugw("Rejected bearer token", "error", err, "clientIP", c.ClientIP())
			a.deny(c, err.Error())
			return
		}

		subject, _ := claims["sub"].(string)
		email, _ := claims["email"].(string)
		c.Set(system.SubjectKey, subject)
		c.Set(system.EmailKey, email)
		c.Set(ClaimsKey, claims)

		event := audit.NewEvent(audit.EventAPIAccessAccepted)
		event.Mode = "server"
		event.Actor = audit.Actor{Subject: subject, Email: email, SourceIP: c.ClientIP()}
		event.Target = audit.Target{Issuer: a.issuer, Audience: a.audience}
		event.Details = map[string]string{"path": c.FullPath()}
		a.write(c.Request.Context(), event)

		c.Next()
	}
}

func (a *AuthHandler) deny(c *gin.Context, reason string) {
	event := audit.NewEvent(audit.EventAPIAccessDenied)
	event.Mode = "server"
	event.Actor = audit.Actor{SourceIP: c.ClientIP()}
	event.Target = audit.Target{Issuer: a.issuer, Audience: a.audience}
	event.Reason = reason
	event.Details = map[string]string{"path": c.Request.URL.Path}
	a.write(c.Request.Context(), event)

	apiresponses.RespondUnauthorized(c, reason)
}

func (a *AuthHandler) write(ctx context.Context, event *audit.Event) {
	if err := a.sink.Write(ctx, event); err != nil {
		a.log.Warnw("Failed to write audit event", "type", event.Type, "error", err)
	}
}
