// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package audit records session lifecycle events (login redirects, consumed or
// rejected callbacks, logouts) and forwards them to a log sink and optionally
// to Kafka, decoupled from request handling through a queued sink.
package audit
