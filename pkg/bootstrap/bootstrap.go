// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/telekom/sessionboot/pkg/audit"
	"github.com/telekom/sessionboot/pkg/identity"
	"github.com/telekom/sessionboot/pkg/metrics"
)

// IdentityClient is the part of the identity client the bootstrap needs.
type IdentityClient interface {
	HandleRedirectCallback(ctx context.Context, query url.Values) (identity.CallbackResult, error)
	IsAuthenticated(ctx context.Context) (bool, error)
	LoginURL(ctx context.Context) (string, error)
}

// ClientFactory builds the identity client for one bootstrap run.
type ClientFactory func(ctx context.Context, cfg identity.Config) (IdentityClient, error)

// NewClientFactory builds real identity clients. opts are applied to every
// client.
func NewClientFactory(opts ...identity.Option) ClientFactory {
	return func(ctx context.Context, cfg identity.Config) (IdentityClient, error) {
		return identity.NewClient(ctx, cfg, opts...)
	}
}

type State string

const (
	StateAuthenticated State = "authenticated"
	// StateRedirectingToLogin means a login navigation was issued and the
	// caller must stop handling the page.
	StateRedirectingToLogin State = "redirecting-to-login"
)

// Session is the result of a bootstrap run.
type Session struct {
	Client   IdentityClient
	State    State
	Callback identity.CallbackResult
}

func (s *Session) Authenticated() bool {
	return s.State == StateAuthenticated
}

type Bootstrapper struct {
	cfg       identity.Config
	factory   ClientFactory
	log       logr.Logger
	sink      audit.Sink
	mode      string
	sessionID string
	tracer    trace.Tracer
}

type Option func(*Bootstrapper)

func WithLogger(log logr.Logger) Option {
	return func(b *Bootstrapper) {
		b.log = log
	}
}

func WithAuditSink(sink audit.Sink) Option {
	return func(b *Bootstrapper) {
		b.sink = sink
	}
}

// WithMode labels metrics and audit events, e.g. server or cli.
func WithMode(mode string) Option {
	return func(b *Bootstrapper) {
		b.mode = mode
	}
}

// WithSessionID ties audit events to a browser session.
func WithSessionID(id string) Option {
	return func(b *Bootstrapper) {
		b.sessionID = id
	}
}

// New returns a bootstrapper for cfg. Without a persistent cache location the
// session is kept in local persistent storage.
func New(cfg identity.Config, factory ClientFactory, opts ...Option) *Bootstrapper {
	if cfg.CacheLocation == "" {
		cfg.CacheLocation = identity.CacheLocationLocalStorage
	}
	b := &Bootstrapper{
		cfg:     cfg,
		factory: factory,
		log:     logr.Discard(),
		sink:    audit.NopSink{},
		mode:    "default",
		tracer:  otel.Tracer("github.com/telekom/sessionboot/pkg/bootstrap"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Initialize runs the bootstrap sequence against loc. On success the session
// is either authenticated or a login navigation has been issued through loc.
// Problems with the callback parameters never fail the run; they end in a new
// login instead.
func (b *Bootstrapper) Initialize(ctx context.Context, loc Location) (*Session, error) {
	ctx, span := b.tracer.Start(ctx, "bootstrap.Initialize",
		trace.WithAttributes(attribute.String("sessionboot.mode", b.mode)))
	defer span.End()

	start := time.Now()
	session, err := b.initialize(ctx, loc)
	metrics.BootstrapDuration.WithLabelValues(b.mode).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BootstrapOutcomes.WithLabelValues(b.mode, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.emit(ctx, audit.EventBootstrapFailed, err.Error(), nil)
		return nil, err
	}
	metrics.BootstrapOutcomes.WithLabelValues(b.mode, string(session.State)).Inc()
	span.SetAttributes(
		attribute.String("sessionboot.state", string(session.State)),
		attribute.String("sessionboot.callback", string(session.Callback.Status)))
	return session, nil
}

func (b *Bootstrapper) initialize(ctx context.Context, loc Location) (*Session, error) {
	cfg := b.cfg
	if cfg.RedirectURI == "" {
		cfg = cfg.WithRedirectURI(loc.Origin())
	}
	client, err := b.factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity client: %w", err)
	}
	session := &Session{Client: client}

	callback, err := client.HandleRedirectCallback(ctx, loc.Query())
	if err != nil {
		return nil, fmt.Errorf("failed to handle redirect callback: %w", err)
	}
	session.Callback = callback
	switch callback.Status {
	case identity.CallbackPresent:
		if err := loc.ClearQuery(); err != nil {
			return nil, fmt.Errorf("failed to clear callback parameters: %w", err)
		}
		b.emit(ctx, audit.EventCallbackConsumed, "", nil)
	case identity.CallbackInvalid:
		b.log.V(1).Info("ignoring redirect callback", "reason", callback.Reason)
		b.emit(ctx, audit.EventCallbackRejected, reason(callback.Reason), nil)
	}

	authenticated, err := client.IsAuthenticated(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check authentication: %w", err)
	}
	if authenticated {
		session.State = StateAuthenticated
		if !callback.Present() {
			b.emit(ctx, audit.EventSessionRestored, "", nil)
		}
		return session, nil
	}

	loginURL, err := client.LoginURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build login url: %w", err)
	}
	if err := loc.Navigate(loginURL); err != nil {
		return nil, fmt.Errorf("failed to redirect to login: %w", err)
	}
	metrics.LoginRedirects.WithLabelValues(b.mode).Inc()
	b.log.V(1).Info("redirecting to login", "redirectURI", cfg.RedirectURI)
	b.emit(ctx, audit.EventLoginRedirect, "", map[string]string{"redirectURI": cfg.RedirectURI})
	session.State = StateRedirectingToLogin
	return session, nil
}

func (b *Bootstrapper) emit(ctx context.Context, eventType audit.EventType, why string, details map[string]string) {
	event := audit.NewEvent(eventType)
	event.Mode = b.mode
	event.SessionID = b.sessionID
	event.Reason = why
	event.Details = details
	event.Target = audit.Target{Issuer: b.cfg.Issuer(), ClientID: b.cfg.ClientID, Audience: b.cfg.Audience}
	if err := b.sink.Write(ctx, event); err != nil {
		b.log.Error(err, "failed to write audit event", "type", eventType)
	}
}

func reason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
