// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package loopback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DefaultAddress must be registered as callback URL of the client application.
const DefaultAddress = "127.0.0.1:8976"

const completionMessage = "Authentication complete. You can close this window."

var ErrClosed = errors.New("loopback listener closed")

type reply struct {
	redirect string
	status   int
	message  string
}

type callback struct {
	query url.Values
	reply chan reply
}

// Location receives redirect callbacks on a loopback listener. Navigations
// are answered on the pending browser request when there is one; otherwise
// the browser is opened.
type Location struct {
	listener  net.Listener
	server    *http.Server
	callbacks chan *callback
	closed    chan struct{}
	closeOnce sync.Once

	opener func(string) error
	out    io.Writer

	mu      sync.Mutex
	query   url.Values
	pending *callback
}

type Option func(*Location)

// WithOpener replaces the browser launcher.
func WithOpener(opener func(string) error) Option {
	return func(l *Location) {
		l.opener = opener
	}
}

// WithOutput is where login URLs are printed for users without a browser.
func WithOutput(w io.Writer) Option {
	return func(l *Location) {
		l.out = w
	}
}

// Listen starts the callback listener on addr. Use port 0 for a random port.
func Listen(addr string, opts ...Option) (*Location, error) {
	if addr == "" {
		addr = DefaultAddress
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start callback listener: %w", err)
	}
	l := &Location{
		listener:  listener,
		callbacks: make(chan *callback),
		closed:    make(chan struct{}),
		opener:    OpenBrowser,
		out:       io.Discard,
		query:     url.Values{},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.server = &http.Server{Handler: http.HandlerFunc(l.handle), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		_ = l.server.Serve(listener)
	}()
	return l, nil
}

func (l *Location) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	if q.Get("code") == "" && q.Get("state") == "" && q.Get("error") == "" {
		http.Error(w, "no login in progress", http.StatusBadRequest)
		return
	}
	cb := &callback{query: q, reply: make(chan reply, 1)}
	select {
	case l.callbacks <- cb:
	case <-r.Context().Done():
		return
	case <-l.closed:
		http.Error(w, "login aborted", http.StatusServiceUnavailable)
		return
	}
	select {
	case rep := <-cb.reply:
		if rep.redirect != "" {
			http.Redirect(w, r, rep.redirect, http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(rep.status)
		_, _ = fmt.Fprintln(w, rep.message)
	case <-r.Context().Done():
	}
}

// WaitForCallback blocks until the browser delivers a redirect callback. The
// callback parameters become the query of the location.
func (l *Location) WaitForCallback(ctx context.Context) error {
	select {
	case cb := <-l.callbacks:
		l.mu.Lock()
		l.respondLocked(reply{status: http.StatusOK, message: completionMessage})
		l.query = cb.query
		l.pending = cb
		l.mu.Unlock()
		return nil
	case <-l.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Location) Origin() string {
	return "http://" + l.listener.Addr().String()
}

func (l *Location) Query() url.Values {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.query
}

// ClearQuery drops the callback parameters and shows the browser that the
// login is complete.
func (l *Location) ClearQuery() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.query = url.Values{}
	l.respondLocked(reply{status: http.StatusOK, message: completionMessage})
	return nil
}

// Navigate sends the waiting browser to target or opens a new browser window.
func (l *Location) Navigate(target string) error {
	l.mu.Lock()
	if l.pending != nil {
		l.respondLocked(reply{redirect: target})
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	_, _ = fmt.Fprintf(l.out, "Open the following URL in your browser:\n%s\n", target)
	if err := l.opener(target); err != nil {
		_, _ = fmt.Fprintf(l.out, "Could not open a browser: %v\n", err)
	}
	return nil
}

// Fail answers a still waiting browser with an error page.
func (l *Location) Fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.respondLocked(reply{status: http.StatusInternalServerError, message: "Authentication failed: " + err.Error()})
}

func (l *Location) respondLocked(rep reply) {
	if l.pending == nil {
		return
	}
	l.pending.reply <- rep
	l.pending = nil
}

// Close stops the listener. A waiting browser gets the completion page.
func (l *Location) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	l.mu.Lock()
	l.respondLocked(reply{status: http.StatusOK, message: completionMessage})
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}
