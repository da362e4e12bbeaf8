// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"fmt"
	"sync"
)

// Graph is the composed set of adapters passed to every handler invocation.
// It is built once per server and only read afterwards.
type Graph struct {
	mu       sync.RWMutex
	order    []string
	adapters map[string]*Adapter
}

// Adapter holds the connector instances of one adapter, in declaration order.
type Adapter struct {
	name       string
	order      []string
	connectors map[string]any
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{adapters: make(map[string]*Adapter)}
}

// Put stores a connector instance, creating the adapter on first use.
func (g *Graph) Put(adapter, connector string, instance any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.adapters[adapter]
	if !ok {
		a = &Adapter{name: adapter, connectors: make(map[string]any)}
		g.adapters[adapter] = a
		g.order = append(g.order, adapter)
	}
	if _, exists := a.connectors[connector]; !exists {
		a.order = append(a.order, connector)
	}
	a.connectors[connector] = instance
}

// Adapter returns the named adapter.
func (g *Graph) Adapter(name string) (*Adapter, bool) {
	if g == nil {
		return nil, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.adapters[name]
	return a, ok
}

// Connector returns a single connector instance.
func (g *Graph) Connector(adapter, connector string) (any, bool) {
	a, ok := g.Adapter(adapter)
	if !ok {
		return nil, false
	}
	return a.Get(connector)
}

// Names returns adapter names in the order they were composed.
func (g *Graph) Names() []string {
	if g == nil {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// Snapshot returns adapter name -> ordered connector names.
func (g *Graph) Snapshot() map[string][]string {
	out := make(map[string][]string)
	for _, name := range g.Names() {
		a, _ := g.Adapter(name)
		out[name] = a.Names()
	}
	return out
}

// Name returns the adapter's name.
func (a *Adapter) Name() string { return a.name }

// Get returns the named connector instance.
func (a *Adapter) Get(name string) (any, bool) {
	v, ok := a.connectors[name]
	return v, ok
}

// Names returns connector names in declaration order.
func (a *Adapter) Names() []string {
	return append([]string(nil), a.order...)
}

// Lookup fetches a connector and asserts its type.
func Lookup[T any](g *Graph, adapter, connector string) (T, error) {
	var zero T
	v, ok := g.Connector(adapter, connector)
	if !ok {
		return zero, fmt.Errorf("connector %s.%s not found", adapter, connector)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("connector %s.%s is %T, not %T", adapter, connector, v, zero)
	}
	return t, nil
}
