// Package http holds the HTTP client plumbing shared by the outbound API clients
package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxErrorBody caps how much of a failed response is kept for diagnostics
const maxErrorBody = 4096

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	Transport           http.RoundTripper
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ClientOption modifies a ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the overall per-request timeout of the client
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithTransport replaces the pooled transport, mainly for tests
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = transport
	}
}

// NewHTTPClient creates an *http.Client from the defaults and opts
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		}
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// StatusError is returned when an API answers with a non-2xx status
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// IsSuccess reports whether code is in the 2xx range
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}

// checkResponse returns a *StatusError for non-2xx responses, keeping a
// truncated copy of the body. The body is left unread on success.
func checkResponse(resp *http.Response) error {
	if IsSuccess(resp.StatusCode) {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

// DecodeJSON checks the status of resp and decodes a successful body into v
func DecodeJSON(resp *http.Response, v interface{}) error {
	if err := checkResponse(resp); err != nil {
		return err
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
