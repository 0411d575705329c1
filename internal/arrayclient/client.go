// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

// Package arrayclient provides the HTTP client used against a storage
// array's management REST API.
package arrayclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// TLSMode selects how server certificates are validated.
type TLSMode string

const (
	// TLSStrict enforces chain validation plus a server-auth key-usage check.
	TLSStrict TLSMode = "strict"
	// TLSNormal performs standard certificate validation.
	TLSNormal TLSMode = "normal"
	// TLSNone disables certificate validation.
	TLSNone TLSMode = "none"
)

// Valid reports whether m is a known TLS mode.
func (m TLSMode) Valid() bool {
	switch m {
	case TLSStrict, TLSNormal, TLSNone:
		return true
	}
	return false
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	TLSMode  TLSMode
	CAFile   string
	CertFile string
	KeyFile  string
}

// Client is a wrapper around http.Client with common functionality for
// management API calls.
type Client struct {
	client   *http.Client
	baseURL  string
	headers  map[string]string
	authHook func(*http.Request) error
}

// New creates a new management API client.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSNormal
	}
	if !cfg.TLSMode.Valid() {
		return nil, fmt.Errorf("unknown TLS mode %q", cfg.TLSMode)
	}

	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build TLS config: %w", err)
	}

	transport := &http.Transport{
		TLSClientConfig:     tlsConfig,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		baseURL: cfg.BaseURL,
		headers: make(map[string]string),
	}, nil
}

// buildTLSConfig creates a TLS configuration for the requested mode.
func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.TLSMode == TLSNone {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates parsed from %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = caCertPool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.TLSMode == TLSStrict {
		// Standard verification has already run by the time VerifyConnection
		// is called; this adds the key-usage check on top of it.
		tlsConfig.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return fmt.Errorf("no peer certificate presented")
			}
			leaf := cs.PeerCertificates[0]
			for _, usage := range leaf.ExtKeyUsage {
				if usage == x509.ExtKeyUsageServerAuth || usage == x509.ExtKeyUsageAny {
					return nil
				}
			}
			return fmt.Errorf("server certificate lacks serverAuth key usage")
		}
	}

	return tlsConfig, nil
}

// BaseURL returns the controller base URL this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// SetHeader sets a header included in all requests.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetAuthHook sets a function called before each request to add
// authentication.
func (c *Client) SetAuthHook(hook func(*http.Request) error) {
	c.authHook = hook
}

// Get performs an HTTP GET request and decodes the response into result.
func (c *Client) Get(ctx context.Context, path string, result interface{}) error {
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// GetRaw performs an HTTP GET request and returns the raw JSON payload.
func (c *Client) GetRaw(ctx context.Context, path string) (json.RawMessage, error) {
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("malformed JSON from %s", path)
	}
	return json.RawMessage(body), nil
}

// Post performs an HTTP POST request.
func (c *Client) Post(ctx context.Context, path string, body interface{}, result interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}
	respBody, err := c.doRequest(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// doRequest performs an HTTP request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	if c.authHook != nil {
		if err := c.authHook(req); err != nil {
			return nil, fmt.Errorf("auth hook failed: %w", err)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	return respBody, nil
}

// APIError represents a non-success response from the management API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404 Not Found.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsUnauthorized returns true if the error is a 401 Unauthorized.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}
