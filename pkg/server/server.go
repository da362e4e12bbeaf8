// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server implements the server role: it composes the adapter graph
// once, then dispatches every request to the module its path names.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stacklok/fnhive/pkg/adapter"
	"github.com/stacklok/fnhive/pkg/api"
	"github.com/stacklok/fnhive/pkg/auth"
	"github.com/stacklok/fnhive/pkg/config"
	"github.com/stacklok/fnhive/pkg/connectors"
	"github.com/stacklok/fnhive/pkg/dispatch"
	"github.com/stacklok/fnhive/pkg/handler"
	"github.com/stacklok/fnhive/pkg/logger"
	"github.com/stacklok/fnhive/pkg/module"
	"github.com/stacklok/fnhive/pkg/networking"
	"github.com/stacklok/fnhive/pkg/versioncache"
)

// Notifier reports the server's lifecycle to whoever supervises it.
type Notifier interface {
	Ready() error
	Failed(reason string) error
}

// Server owns everything one server process needs: the version cache, the
// resolver, the composed graph and the dispatcher.
type Server struct {
	cfg        *config.Config
	composer   *adapter.Composer
	graph      *adapter.Graph
	dispatcher *dispatch.Dispatcher
	authn      *auth.Authenticator
	// versions is nil when the resolver was supplied with WithResolver
	versions *versioncache.Cache
}

// Option configures a Server.
type Option func(*options)

type options struct {
	resolver   adapter.ModuleResolver
	factories  *adapter.Registry
	plugins    *handler.Registry
	httpClient module.HTTPClient
}

// WithResolver replaces the HTTP module resolver.
func WithResolver(r adapter.ModuleResolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithFactories replaces the connector factory registry. The built-in
// connectors are registered only when this option is absent.
func WithFactories(reg *adapter.Registry) Option {
	return func(o *options) { o.factories = reg }
}

// WithPlugins replaces the handler plugin registry.
func WithPlugins(reg *handler.Registry) Option {
	return func(o *options) { o.plugins = reg }
}

// WithHTTPClient sets the client used to fetch modules.
func WithHTTPClient(c module.HTTPClient) Option {
	return func(o *options) { o.httpClient = c }
}

// New composes the adapter graph for the configured handler type. Nothing is
// served until the graph is complete; a composition failure leaves nothing
// open.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	var versions *versioncache.Cache
	if o.resolver == nil {
		// each server process owns its cache; nothing is shared with the loader
		versions = versioncache.New()
		resolver, err := newResolver(cfg, o.httpClient, versions)
		if err != nil {
			return nil, err
		}
		o.resolver = resolver
	}
	if o.factories == nil {
		o.factories = adapter.NewRegistry()
		if err := connectors.Register(o.factories); err != nil {
			return nil, err
		}
	}
	if o.plugins == nil {
		o.plugins = handler.NewRegistry()
	}

	authn, err := auth.New(ctx, cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to configure authentication: %w", err)
	}

	spec, err := cfg.Graph()
	if err != nil {
		return nil, err
	}

	composer := adapter.NewComposer(o.factories, o.resolver)
	graph, err := composer.Compose(ctx, spec, cfg.Server.Env)
	if err != nil {
		return nil, err
	}
	logger.Infow("adapter graph composed",
		"handler_type", cfg.Server.HandlerType, "adapters", graph.Names())

	return &Server{
		cfg:      cfg,
		composer: composer,
		graph:    graph,
		authn:    authn,
		versions: versions,
		dispatcher: dispatch.New(o.resolver, graph,
			dispatch.WithEnv(cfg.Server.Env),
			dispatch.WithPlugins(o.plugins),
		),
	}, nil
}

func newResolver(cfg *config.Config, httpClient module.HTTPClient, versions *versioncache.Cache) (*module.Resolver, error) {
	baseURL, err := cfg.ModuleBaseURL()
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		c, err := networking.NewHTTPClientBuilder().
			WithTimeout(cfg.ModuleTimeout()).
			WithCABundle(cfg.Modules.CACertPath).
			Build()
		if err != nil {
			return nil, fmt.Errorf("failed to create module client: %w", err)
		}
		httpClient = c
	}

	return module.NewResolver(versions, baseURL,
		module.WithHTTPClient(httpClient),
		module.WithAccessToken(cfg.Modules.AccessToken),
		module.WithRequireDigest(cfg.Modules.RequireDigest),
	), nil
}

// Graph returns the composed adapter graph.
func (s *Server) Graph() *adapter.Graph {
	return s.graph
}

// Router mounts /health and /metrics, then sends everything else to the
// dispatcher, behind authentication when configured.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(api.CommonMiddleware()...)

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	var h http.Handler = s.dispatcher
	if s.authn != nil {
		h = s.authn.Middleware(h)
	}
	r.Handle("/*", h)
	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":       "ok",
		"handler_type": s.cfg.Server.HandlerType,
		"adapters":     s.graph.Snapshot(),
	}
	if s.versions != nil {
		body["routes"] = s.versions.Len()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// Close releases every connector the graph created.
func (s *Server) Close() error {
	return s.composer.Close()
}

// Run composes, serves until ctx is done and closes connectors on the way
// out. Ready is reported once the listener is bound; startup failures are
// reported before being returned.
func Run(ctx context.Context, cfg *config.Config, notifier Notifier, opts ...Option) (err error) {
	defer func() {
		if err != nil {
			if nerr := notifier.Failed(err.Error()); nerr != nil {
				logger.Warnw("failed to report server failure", "error", nerr)
			}
		}
	}()

	srv, err := New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := srv.Close(); cerr != nil {
			logger.Warnw("failed to close connectors", "error", cerr)
		}
	}()

	listener, err := api.Listen(cfg.Server.ListenAddress)
	if err != nil {
		return err
	}

	var readyErr error
	serveErr := api.ServeListener(ctx, "server", listener, srv.Router(), func(addr net.Addr) {
		logger.Infow("server ready", "address", addr.String())
		readyErr = notifier.Ready()
	})
	if readyErr != nil {
		logger.Warnw("failed to report server readiness", "error", readyErr)
	}
	return serveErr
}
