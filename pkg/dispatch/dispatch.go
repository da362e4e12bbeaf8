// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package dispatch routes HTTP requests to handler modules.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/stacklok/fnhive/pkg/adapter"
	"github.com/stacklok/fnhive/pkg/auth"
	fnerrors "github.com/stacklok/fnhive/pkg/errors"
	"github.com/stacklok/fnhive/pkg/handler"
	"github.com/stacklok/fnhive/pkg/logger"
	"github.com/stacklok/fnhive/pkg/module"
)

// Dispatcher resolves the module for a request path, selects the export for
// the request method and invokes it with the merged parameters and the
// adapter graph. It holds no per-request state; the built-handler cache is
// keyed by module content and only ever grows.
type Dispatcher struct {
	resolver adapter.ModuleResolver
	plugins  *handler.Registry
	graph    *adapter.Graph
	env      map[string]string

	mu    sync.RWMutex
	built map[string]handler.Handler
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEnv sets the environment passed to every handler.
func WithEnv(env map[string]string) Option {
	return func(d *Dispatcher) {
		d.env = env
	}
}

// WithPlugins sets the plugin registry exports are built from.
func WithPlugins(plugins *handler.Registry) Option {
	return func(d *Dispatcher) {
		d.plugins = plugins
	}
}

// New creates a dispatcher. The graph must be fully composed.
func New(resolver adapter.ModuleResolver, graph *adapter.Graph, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		resolver: resolver,
		graph:    graph,
		env:      map[string]string{},
		built:    make(map[string]handler.Handler),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.plugins == nil {
		d.plugins = handler.NewRegistry()
	}
	return d
}

// Dispatch handles one request and returns the handler's result unmodified.
func (d *Dispatcher) Dispatch(ctx context.Context, r *http.Request) (any, error) {
	params, err := Params(r)
	if err != nil {
		return nil, err
	}

	mod, err := d.resolver.Resolve(ctx, r.URL.Path)
	if err != nil {
		return nil, err
	}

	export, entry, ok := mod.EntryFor(r.Method)
	if !ok {
		return nil, fnerrors.NewDispatchError(
			fmt.Sprintf("module %s has no export for %s", mod.Locator.Path, r.Method), nil)
	}

	h, err := d.handlerFor(mod, export, entry)
	if err != nil {
		return nil, err
	}

	identity, _ := auth.IdentityFromContext(ctx)
	out, err := h.Handle(ctx, &handler.Request{
		Path:     mod.Locator.Path,
		Method:   r.Method,
		Export:   export,
		Params:   params,
		Env:      d.env,
		Adapters: d.graph,
		Identity: identity,
	})
	if err != nil {
		var typed *fnerrors.Error
		if errors.As(err, &typed) {
			return nil, err
		}
		return nil, fnerrors.NewDispatchError(fmt.Sprintf("handler %s failed", mod.Locator.Path), err)
	}
	return out, nil
}

// handlerFor builds an export once per module content.
func (d *Dispatcher) handlerFor(mod *module.Module, export string, entry module.Entry) (handler.Handler, error) {
	key := mod.Digest.String() + "#" + export

	d.mu.RLock()
	h, ok := d.built[key]
	d.mu.RUnlock()
	if ok {
		return h, nil
	}

	h, err := d.plugins.Build(entry)
	if err != nil {
		return nil, fnerrors.NewDispatchError(
			fmt.Sprintf("module %s export %s (%s) cannot be built", mod.Locator.Path, export, entry.Kind()), err)
	}
	logger.Debugw("handler built", "path", mod.Locator.Path, "export", export, "kind", entry.Kind())

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.built[key]; ok {
		return existing, nil
	}
	d.built[key] = h
	return h, nil
}

// ServeHTTP is the top-level request boundary.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	out, err := d.Dispatch(r.Context(), r)
	if err != nil {
		writeError(w, r, err)
		observe(r.Method, outcomeError, start)
		return
	}
	if err := writeResult(w, out); err != nil {
		writeError(w, r, fnerrors.NewInternalError("failed to encode response", err))
		observe(r.Method, outcomeError, start)
		return
	}
	observe(r.Method, outcomeOK, start)
}
