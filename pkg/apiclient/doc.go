// Package apiclient is the HTTP client the sessionboot CLI uses to call a
// running sessionboot server with the access token of the cached session.
package apiclient
