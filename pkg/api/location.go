// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// requestLocation is the page location of one SPA page load. Changing the
// location is answered with a redirect once the bootstrap is done.
type requestLocation struct {
	c        *gin.Context
	origin   string
	redirect string
}

func newRequestLocation(c *gin.Context, origin string) *requestLocation {
	return &requestLocation{c: c, origin: origin}
}

func (l *requestLocation) Origin() string {
	return l.origin
}

func (l *requestLocation) Query() url.Values {
	return l.c.Request.URL.Query()
}

// ClearQuery sends the browser to the same path without the query. A
// redirect answers the page load, so no history entry carries the code.
func (l *requestLocation) ClearQuery() error {
	l.redirect = l.c.Request.URL.Path
	return nil
}

func (l *requestLocation) Navigate(target string) error {
	l.redirect = target
	return nil
}

// trustedProxies are the peers whose forwarding headers are honoured. It
// accepts the IP and CIDR entries gin.Engine.SetTrustedProxies does; an empty
// list trusts nobody.
type trustedProxies []netip.Prefix

func parseTrustedProxies(entries []string) (trustedProxies, error) {
	proxies := make(trustedProxies, 0, len(entries))
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			proxies = append(proxies, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		proxies = append(proxies, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return proxies, nil
}

func (t trustedProxies) trusts(remoteAddr string) bool {
	if len(t) == 0 {
		return false
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range t {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// requestOrigin is scheme and host the browser used. publicURL wins when set.
// X-Forwarded-Proto only counts when the direct peer is a trusted proxy.
func requestOrigin(r *http.Request, publicURL string, proxies trustedProxies) string {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proxies.trusts(r.RemoteAddr) {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" || proto == "http" {
			scheme = proto
		}
	}
	return scheme + "://" + r.Host
}
