// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handler turns module exports into runnable request handlers.
//
// An export names either a registered plugin or a CEL expression. Both are
// built into a Handler once per module version and invoked once per request
// with the merged parameters, the process environment and the adapter graph.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/stacklok/fnhive/pkg/adapter"
	"github.com/stacklok/fnhive/pkg/auth"
	"github.com/stacklok/fnhive/pkg/module"
)

// Request is the input to a single handler invocation.
type Request struct {
	Path   string
	Method string
	// Export is the name of the export that was selected.
	Export string
	// Params are the merged query and body parameters.
	Params   map[string]any
	Env      map[string]string
	Adapters *adapter.Graph
	// Identity is the authenticated caller, nil when the route is public or
	// authentication is off.
	Identity *auth.Identity
}

// Handler produces a response value for a request. Strings and byte slices
// are written as-is, anything else is encoded as JSON.
type Handler interface {
	Handle(ctx context.Context, req *Request) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (any, error) {
	return f(ctx, req)
}

// Plugin builds a handler from an export's config.
type Plugin func(config map[string]any) (Handler, error)

// Registry holds the plugins exports may name.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	exprs   *ExprCompiler
}

// NewRegistry returns a registry preloaded with the builtin plugins.
func NewRegistry() *Registry {
	r := &Registry{plugins: make(map[string]Plugin), exprs: NewExprCompiler()}
	for name, p := range builtins {
		r.plugins[name] = p
	}
	return r
}

// Register adds or replaces a plugin.
func (r *Registry) Register(name string, p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[name] = p
}

// Names lists the registered plugins, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.plugins))
	for n := range r.plugins {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Build compiles an export entry into a handler.
func (r *Registry) Build(entry module.Entry) (Handler, error) {
	switch {
	case entry.Plugin != "":
		r.mu.RLock()
		p, ok := r.plugins[entry.Plugin]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unknown plugin %q", entry.Plugin)
		}
		h, err := p(entry.Config)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", entry.Plugin, err)
		}
		return h, nil
	case entry.Expr != "":
		return r.exprs.Compile(entry.Expr)
	default:
		return nil, fmt.Errorf("export names neither a plugin nor an expression")
	}
}

// decodeConfig converts a plugin config map into a typed struct.
func decodeConfig(config map[string]any, out any) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
