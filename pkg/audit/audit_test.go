// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/telekom/sessionboot/pkg/system"
)

// recordingSink collects events and optionally fails.
type recordingSink struct {
	mu     sync.Mutex
	events []*Event
	err    error
	closed bool
	name   string
}

func (s *recordingSink) Write(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Name() string {
	if s.name == "" {
		return "recording"
	}
	return s.name
}

func (s *recordingSink) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Event(nil), s.events...)
}

func TestNewEvent(t *testing.T) {
	event := NewEvent(EventLoginRedirect)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventLoginRedirect, event.Type)
	assert.Equal(t, SeverityInfo, event.Severity)
	assert.False(t, event.Timestamp.IsZero())

	assert.Equal(t, SeverityWarning, NewEvent(EventCallbackRejected).Severity)
	assert.Equal(t, SeverityCritical, NewEvent(EventBootstrapFailed).Severity)
	assert.NotEqual(t, event.ID, NewEvent(EventLoginRedirect).ID)
}

func TestLogSink_Write(t *testing.T) {
	logger, logs := system.NewObservedLogger(zapcore.InfoLevel)
	sink := NewLogSink(logger)

	event := NewEvent(EventCallbackRejected)
	event.Mode = "server"
	event.SessionID = "browser-1"
	event.Actor.SourceIP = "10.0.0.1"
	event.Target.Issuer = "https://tenant.eu.auth0.com/"
	event.Reason = "state mismatch"
	event.Details = map[string]string{"path": "/"}

	require.NoError(t, sink.Write(context.Background(), event))
	require.Equal(t, 1, logs.Len())

	entry := logs.All()[0]
	assert.Equal(t, "audit_event", entry.Message)
	assert.Equal(t, "audit", entry.LoggerName)
	fields := entry.ContextMap()
	assert.Equal(t, "session.callback_rejected", fields["event_type"])
	assert.Equal(t, "browser-1", fields["session_id"])
	assert.Equal(t, "10.0.0.1", fields["actor_ip"])
	assert.Equal(t, "state mismatch", fields["reason"])
	assert.Equal(t, `{"path":"/"}`, fields["details"])
	assert.NotContains(t, fields, "actor_subject")

	assert.Equal(t, "log", sink.Name())
	assert.NoError(t, sink.Close())
}

func TestMultiSink(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	failing := &recordingSink{name: "failing", err: errors.New("unavailable")}
	multi := NewMultiSink(failing, ok)

	err := multi.Write(context.Background(), NewEvent(EventSessionLoggedOut))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
	assert.Len(t, ok.Events(), 1, "healthy sink still receives the event")

	require.NoError(t, multi.Close())
	assert.True(t, ok.closed)
	assert.True(t, failing.closed)
	assert.Equal(t, "multi", multi.Name())
}

func TestNopSink(t *testing.T) {
	var sink Sink = NopSink{}
	assert.NoError(t, sink.Write(context.Background(), NewEvent(EventSessionRestored)))
	assert.NoError(t, sink.Close())
	assert.Equal(t, "nop", sink.Name())
}
