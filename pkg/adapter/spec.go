// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// BuiltinScheme prefixes locators that name a factory in the static registry
// instead of a remote connector module.
const BuiltinScheme = "builtin:"

// GraphSpec declares the adapters a server composes at startup. Order is
// significant: it is the order adapters and connectors were declared in.
type GraphSpec struct {
	Adapters []AdapterSpec
}

// AdapterSpec is one named group of connectors.
type AdapterSpec struct {
	Name       string
	Connectors []ConnectorSpec
}

// ConnectorSpec declares a single connector.
type ConnectorSpec struct {
	Name string `yaml:"-"`
	// Locator is either "builtin:<factory>" or the route path of a connector module.
	Locator string `yaml:"locator"`
	// Requires lists adapters that must be composed before this connector.
	Requires []string `yaml:"requires,omitempty"`
	// Config is merged over the connector module's default config.
	Config map[string]any `yaml:"config,omitempty"`
}

// UnmarshalYAML decodes `{adapter: {connector: {locator, config}}}` keeping
// declaration order, which a plain Go map would lose.
func (s *GraphSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: adapter graph must be a mapping", node.Line)
	}

	seen := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if seen[key.Value] {
			return fmt.Errorf("line %d: adapter %q declared twice", key.Line, key.Value)
		}
		seen[key.Value] = true

		adapter := AdapterSpec{Name: key.Value}
		if err := adapter.decodeConnectors(value); err != nil {
			return err
		}
		s.Adapters = append(s.Adapters, adapter)
	}
	return nil
}

func (a *AdapterSpec) decodeConnectors(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: adapter %q must map connector names to connectors", node.Line, a.Name)
	}

	seen := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if seen[key.Value] {
			return fmt.Errorf("line %d: connector %s.%s declared twice", key.Line, a.Name, key.Value)
		}
		seen[key.Value] = true

		var c ConnectorSpec
		if err := value.Decode(&c); err != nil {
			return fmt.Errorf("connector %s.%s: %w", a.Name, key.Value, err)
		}
		c.Name = key.Value
		a.Connectors = append(a.Connectors, c)
	}
	return nil
}

// Validate checks the spec for structural problems that do not depend on
// resolving any module.
func (s *GraphSpec) Validate() error {
	for _, a := range s.Adapters {
		if a.Name == "" {
			return fmt.Errorf("adapter with empty name")
		}
		for _, c := range a.Connectors {
			if c.Name == "" {
				return fmt.Errorf("adapter %s: connector with empty name", a.Name)
			}
			if c.Locator == "" || c.Locator == BuiltinScheme {
				return fmt.Errorf("connector %s.%s: missing locator", a.Name, c.Name)
			}
		}
	}
	_, err := s.Order()
	return err
}

// requires returns the union of adapters required by the adapter's connectors.
func (a *AdapterSpec) requires() []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range a.Connectors {
		for _, r := range c.Requires {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}
