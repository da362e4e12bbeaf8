// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"fmt"
	"strings"

	"dario.cat/mergo"

	fnerrors "github.com/stacklok/fnhive/pkg/errors"
	"github.com/stacklok/fnhive/pkg/logger"
	"github.com/stacklok/fnhive/pkg/module"
)

// EnvKey is the config key under which the shared environment is passed to
// every connector factory. A connector's own "env" key takes precedence.
const EnvKey = "env"

//go:generate mockgen -destination=mocks/mock_resolver.go -package=mocks -source=composer.go ModuleResolver

// ModuleResolver resolves connector modules by route path.
type ModuleResolver interface {
	Resolve(ctx context.Context, path string) (*module.Module, error)
}

// Composer builds adapter graphs from a GraphSpec.
type Composer struct {
	registry *Registry
	resolver ModuleResolver
	memo     *memo
}

// NewComposer creates a composer. resolver may be nil when every connector
// uses a builtin locator.
func NewComposer(registry *Registry, resolver ModuleResolver) *Composer {
	return &Composer{registry: registry, resolver: resolver, memo: newMemo()}
}

// Compose builds the graph. Any failure aborts composition: instances created
// so far are closed and no partial graph is returned.
func (c *Composer) Compose(ctx context.Context, spec *GraphSpec, env map[string]string) (*Graph, error) {
	graph := NewGraph()
	if spec == nil {
		return graph, nil
	}

	ordered, err := spec.Order()
	if err != nil {
		return nil, fnerrors.NewCompositionError("invalid adapter graph", err)
	}

	for _, a := range ordered {
		for _, conn := range a.Connectors {
			instance, err := c.build(ctx, graph, a.Name, conn, env)
			if err != nil {
				if cerr := c.memo.close(); cerr != nil {
					logger.Warnw("failed to close connectors after composition error", "error", cerr)
				}
				return nil, fnerrors.NewCompositionError(
					fmt.Sprintf("failed to compose connector %s.%s", a.Name, conn.Name), err)
			}
			graph.Put(a.Name, conn.Name, instance)
		}
	}

	logger.Debugw("composed adapter graph", "adapters", graph.Names(), "instances", c.memo.len())
	return graph, nil
}

// Close releases every connector instance the composer created.
func (c *Composer) Close() error {
	return c.memo.close()
}

func (c *Composer) build(
	ctx context.Context, graph *Graph, adapterName string, conn ConnectorSpec, env map[string]string,
) (any, error) {
	factoryName, defaults, err := c.locate(ctx, conn.Locator)
	if err != nil {
		return nil, err
	}
	factory, ok := c.registry.Lookup(factoryName)
	if !ok {
		return nil, fmt.Errorf("no connector factory named %q", factoryName)
	}

	config, err := mergeConfig(defaults, conn.Config, env)
	if err != nil {
		return nil, err
	}

	key, err := memoKey(factoryName, config)
	if err != nil {
		return nil, fmt.Errorf("connector config is not serializable: %w", err)
	}

	instance, shared, err := c.memo.get(key, func() (any, error) {
		return factory(ctx, FactoryInput{
			Adapters:  graph,
			Config:    config,
			Adapter:   adapterName,
			Connector: conn.Name,
		})
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Debugw("reusing connector instance", "adapter", adapterName, "connector", conn.Name, "factory", factoryName)
	}
	return instance, nil
}

// locate returns the factory name and default config behind a locator.
func (c *Composer) locate(ctx context.Context, locator string) (string, map[string]any, error) {
	if name, ok := strings.CutPrefix(locator, BuiltinScheme); ok {
		return name, nil, nil
	}
	if c.resolver == nil {
		return "", nil, fmt.Errorf("cannot resolve connector module %s without a module source", locator)
	}

	mod, err := c.resolver.Resolve(ctx, locator)
	if err != nil {
		return "", nil, err
	}
	if mod.Manifest == nil || mod.Manifest.Factory == "" {
		return "", nil, fmt.Errorf("module %s does not declare a connector factory", locator)
	}
	return mod.Manifest.Factory, mod.Manifest.Config, nil
}

// mergeConfig merges module defaults and connector config, later layers
// winning. The shared env is added only when neither layer sets its own.
func mergeConfig(defaults, config map[string]any, env map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(defaults)+len(config)+1)
	for _, layer := range []map[string]any{defaults, config} {
		if len(layer) == 0 {
			continue
		}
		if err := mergo.Merge(&out, layer, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge connector config: %w", err)
		}
	}

	if _, ok := out[EnvKey]; !ok {
		shared := make(map[string]any, len(env))
		for k, v := range env {
			shared[k] = v
		}
		out[EnvKey] = shared
	}
	return out, nil
}
