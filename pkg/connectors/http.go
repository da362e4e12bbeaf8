// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package connectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/fnhive/pkg/adapter"
	"github.com/stacklok/fnhive/pkg/networking"
)

// HTTPAPI is a connector for an upstream JSON API.
type HTTPAPI struct {
	client  *http.Client
	baseURL string
}

type httpConfig struct {
	RetryConfig
	BaseURL      string `json:"base_url"`
	Token        string `json:"token,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	CABundle     string `json:"ca_bundle,omitempty"`
	RequireHTTPS bool   `json:"require_https,omitempty"`
	// HealthPath, when set, must answer 2xx before the connector is ready.
	// Like every FetchJSON path it is relative to BaseURL.
	HealthPath string `json:"health_path,omitempty"`
}

func newHTTP(ctx context.Context, in adapter.FactoryInput) (any, error) {
	var cfg httpConfig
	if err := in.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required")
	}

	builder := networking.NewHTTPClientBuilder().
		WithBearerToken(cfg.Token).
		WithCABundle(cfg.CABundle).
		WithRequireHTTPS(cfg.RequireHTTPS)
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
		builder = builder.WithTimeout(d)
	}
	client, err := builder.Build()
	if err != nil {
		return nil, err
	}
	api := &HTTPAPI{client: client, baseURL: cfg.BaseURL}

	if cfg.HealthPath != "" {
		err := connect(ctx, in, cfg.RetryConfig, func(ctx context.Context) error {
			err := api.ping(ctx, cfg.HealthPath)
			// rejected credentials do not fix themselves
			if networking.IsHTTPError(err, http.StatusUnauthorized) || networking.IsHTTPError(err, http.StatusForbidden) {
				return backoff.Permanent(err)
			}
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return api, nil
}

// FetchJSON GETs path relative to the base URL and decodes the JSON body.
func (a *HTTPAPI) FetchJSON(ctx context.Context, path string, query url.Values) (any, error) {
	target, err := networking.JoinURL(a.baseURL, path, query)
	if err != nil {
		return nil, err
	}
	return networking.FetchJSON[any](ctx, a.client, target)
}

func (a *HTTPAPI) ping(ctx context.Context, path string) error {
	target, err := networking.JoinURL(a.baseURL, path, nil)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &networking.HTTPError{StatusCode: resp.StatusCode, URL: target}
	}
	return nil
}

// Close releases idle connections.
func (a *HTTPAPI) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
