// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package networking builds the outbound HTTP clients fnhive uses to reach
// module sources and upstream APIs.
package networking

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/stacklok/fnhive/pkg/versions"
)

// HTTPTimeout is the default timeout for outgoing HTTP requests.
const HTTPTimeout = 30 * time.Second

// HTTPClient is the subset of *http.Client used by fetch helpers.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// validatingTransport rejects plain-HTTP URLs when HTTPS is required.
type validatingTransport struct {
	transport http.RoundTripper
}

func (t *validatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return nil, fmt.Errorf("the supplied URL %s is not HTTPS scheme", req.URL.Redacted())
	}
	return t.transport.RoundTrip(req)
}

// headerTransport sets fixed headers on every request.
type headerTransport struct {
	transport http.RoundTripper
	headers   http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, values := range t.headers {
		r.Header.Del(k)
		for _, v := range values {
			r.Header.Add(k, v)
		}
	}
	return t.transport.RoundTrip(r)
}

// HTTPClientBuilder provides a fluent interface for building HTTP clients.
type HTTPClientBuilder struct {
	timeout               time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	caCertPath            string
	bearerToken           string
	requireHTTPS          bool
	headers               http.Header
}

// NewHTTPClientBuilder returns a builder with default timeouts.
func NewHTTPClientBuilder() *HTTPClientBuilder {
	return &HTTPClientBuilder{
		timeout:               HTTPTimeout,
		tlsHandshakeTimeout:   10 * time.Second,
		responseHeaderTimeout: 10 * time.Second,
		headers:               http.Header{"User-Agent": {versions.UserAgent()}},
	}
}

// WithTimeout overrides the overall request timeout.
func (b *HTTPClientBuilder) WithTimeout(d time.Duration) *HTTPClientBuilder {
	if d > 0 {
		b.timeout = d
	}
	return b
}

// WithCABundle sets the CA certificate bundle path.
func (b *HTTPClientBuilder) WithCABundle(path string) *HTTPClientBuilder {
	b.caCertPath = path
	return b
}

// WithBearerToken sends the token in the Authorization header.
func (b *HTTPClientBuilder) WithBearerToken(token string) *HTTPClientBuilder {
	b.bearerToken = token
	return b
}

// WithHeader sets a header on every request.
func (b *HTTPClientBuilder) WithHeader(key, value string) *HTTPClientBuilder {
	b.headers.Set(key, value)
	return b
}

// WithRequireHTTPS refuses requests to non-HTTPS URLs.
func (b *HTTPClientBuilder) WithRequireHTTPS(require bool) *HTTPClientBuilder {
	b.requireHTTPS = require
	return b
}

// Build creates the configured HTTP client.
func (b *HTTPClientBuilder) Build() (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSHandshakeTimeout = b.tlsHandshakeTimeout
	transport.ResponseHeaderTimeout = b.responseHeaderTimeout

	if b.caCertPath != "" {
		caCert, err := os.ReadFile(b.caCertPath) // #nosec G304 - path comes from operator config
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate bundle")
		}
		transport.TLSClientConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    pool,
		}
	}

	var rt http.RoundTripper = transport
	if b.requireHTTPS {
		rt = &validatingTransport{transport: rt}
	}

	headers := b.headers.Clone()
	if b.bearerToken != "" {
		headers.Set("Authorization", "Bearer "+b.bearerToken)
	}
	rt = &headerTransport{transport: rt, headers: headers}

	return &http.Client{Transport: rt, Timeout: b.timeout}, nil
}

// JoinURL appends path and query to a base URL.
func JoinURL(base, path string, query url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	u = u.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}
