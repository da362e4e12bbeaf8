// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// FactoryInput is what a connector factory receives.
type FactoryInput struct {
	// Adapters is the graph under construction. Only adapters composed
	// before the current one are guaranteed to be present.
	Adapters *Graph
	// Config is the merged connector configuration, including "env".
	Config map[string]any
	// Adapter and Connector name the slot being filled.
	Adapter   string
	Connector string
}

// Decode converts the merged config into a typed struct using its json tags.
func (in FactoryInput) Decode(out any) error {
	raw, err := json.Marshal(in.Config)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Factory builds a connector instance.
type Factory func(ctx context.Context, in FactoryInput) (any, error)

// Registry maps factory names to implementations. Connector modules name a
// factory rather than shipping code.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering the same name twice is an error.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("invalid factory registration %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("factory %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register that panics, for package init wiring.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Lookup returns the named factory.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names lists registered factories, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
