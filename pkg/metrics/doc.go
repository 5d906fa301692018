// Package metrics defines Prometheus metrics for session bootstrapping,
// covering bootstrap outcomes, redirect callbacks, login redirects, token
// refreshes, HTTP rate limiting, safety data sheet extraction and audit
// delivery.
package metrics
