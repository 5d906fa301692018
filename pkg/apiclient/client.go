package apiclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/telekom/sessionboot/pkg/apiresponses"
	"github.com/telekom/sessionboot/pkg/extractor"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	server    string
	token     string
	userAgent string
	timeout   time.Duration
	tls       *tls.Config
	http      *resty.Client
}

type Option func(*Client) error

func New(opts ...Option) (*Client, error) {
	c := &Client{userAgent: "sessionboot", timeout: defaultTimeout}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.server == "" {
		return nil, errors.New("server is required")
	}
	c.http = resty.New().
		SetBaseURL(c.server).
		SetTimeout(c.timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", c.userAgent)
	if c.token != "" {
		c.http.SetAuthToken(c.token)
	}
	if c.tls != nil {
		c.http.SetTLSClientConfig(c.tls)
	}
	return c, nil
}

func WithServer(server string) Option {
	return func(c *Client) error {
		if server == "" {
			return errors.New("server is required")
		}
		parsed, err := url.Parse(server)
		if err != nil {
			return fmt.Errorf("invalid server: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("invalid server %q: scheme must be http or https", server)
		}
		c.server = strings.TrimRight(parsed.String(), "/")
		return nil
	}
}

func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		c.userAgent = userAgent
		return nil
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout > 0 {
			c.timeout = timeout
		}
		return nil
	}
}

func WithTLSConfig(caFile string, insecureSkipTLSVerify bool) Option {
	return func(c *Client) error {
		tlsConfig, err := loadTLSConfig(caFile, insecureSkipTLSVerify)
		if err != nil {
			return err
		}
		c.tls = tlsConfig
		return nil
	}
}

func loadTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure} //nolint:gosec // opt-in for test servers
	if caFile == "" {
		return tlsConfig, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, errors.New("failed to parse CA file")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// Session is what the server knows about the bearer of the token.
type Session struct {
	Subject string         `json:"subject" yaml:"subject"`
	Email   string         `json:"email,omitempty" yaml:"email,omitempty"`
	Claims  map[string]any `json:"claims,omitempty" yaml:"claims,omitempty"`
}

func (c *Client) Session(ctx context.Context) (*Session, error) {
	var out Session
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiresponses.APIError{}).
		Get("/api/session")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Extract uploads a safety data sheet and returns the fields the server
// found in it.
func (c *Client) Extract(ctx context.Context, filename string, document io.Reader) (*extractor.SafetyDataSheet, error) {
	var out extractor.SafetyDataSheet
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", filename, document).
		SetResult(&out).
		SetError(&apiresponses.APIError{}).
		Post("/api/extract")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	msg := ""
	if apiErr, ok := resp.Error().(*apiresponses.APIError); ok && apiErr != nil {
		msg = strings.TrimSpace(apiErr.Error)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(resp.Body()))
	}
	if msg == "" {
		msg = resp.Status()
	}
	return &HTTPError{StatusCode: resp.StatusCode(), Message: msg}
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}
