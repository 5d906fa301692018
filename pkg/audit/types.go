// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

const (
	EventLoginRedirect     EventType = "session.login_redirect"
	EventCallbackConsumed  EventType = "session.callback_consumed"
	EventCallbackRejected  EventType = "session.callback_rejected"
	EventSessionRestored   EventType = "session.restored"
	EventSessionLoggedOut  EventType = "session.logged_out"
	EventBootstrapFailed   EventType = "session.bootstrap_failed"
	EventAPIAccessDenied   EventType = "api.access_denied"
	EventAPIAccessAccepted EventType = "api.access_accepted"
)

// Severity of an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Actor is who the event is about. For login redirects the subject is not
// known yet and only the browser session is set.
type Actor struct {
	Subject  string `json:"subject,omitempty"`
	Email    string `json:"email,omitempty"`
	SourceIP string `json:"sourceIP,omitempty"`
}

// Target describes the identity provider application involved.
type Target struct {
	Issuer   string `json:"issuer,omitempty"`
	ClientID string `json:"clientID,omitempty"`
	Audience string `json:"audience,omitempty"`
}

// Event is a single audit record.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Severity  Severity          `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
	Mode      string            `json:"mode,omitempty"`
	SessionID string            `json:"sessionID,omitempty"`
	Actor     Actor             `json:"actor"`
	Target    Target            `json:"target"`
	Reason    string            `json:"reason,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// NewEvent creates an event with a fresh id and the current time.
func NewEvent(eventType EventType) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Severity:  severityFor(eventType),
		Timestamp: time.Now().UTC(),
	}
}

func severityFor(eventType EventType) Severity {
	switch eventType {
	case EventCallbackRejected, EventAPIAccessDenied:
		return SeverityWarning
	case EventBootstrapFailed:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}
