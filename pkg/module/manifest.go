// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package module

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"sigs.k8s.io/yaml"
)

// DefaultExport names the export used when no method-specific export exists.
const DefaultExport = "default"

//go:embed manifest.schema.json
var manifestSchema []byte

var schemaLoader = gojsonschema.NewBytesLoader(manifestSchema)

// Manifest is the declarative document served for a route. Handler modules
// carry exports; connector modules carry a factory name and default config.
type Manifest struct {
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	Exports     map[string]Entry `json:"exports,omitempty"`
	Factory     string           `json:"factory,omitempty"`
	Config      map[string]any   `json:"config,omitempty"`
}

// Entry is one exported entry point. Exactly one of Plugin or Expr is set.
type Entry struct {
	// Plugin names a handler registered in the server's handler registry.
	Plugin string `json:"plugin,omitempty"`
	// Expr is a CEL expression evaluated with the request parameters.
	Expr string `json:"expr,omitempty"`
	// Config is passed to the plugin when it is instantiated.
	Config map[string]any `json:"config,omitempty"`
}

// Kind describes the entry for logs and errors.
func (e Entry) Kind() string {
	if e.Plugin != "" {
		return "plugin:" + e.Plugin
	}
	return "expr"
}

// DecodeManifest parses a YAML or JSON manifest and validates it against the
// manifest schema.
func DecodeManifest(data []byte) (*Manifest, error) {
	doc, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if err := ValidateManifest(doc); err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// ValidateManifest checks a JSON manifest document against the schema.
func ValidateManifest(doc []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to validate manifest: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("invalid manifest: %s", strings.Join(problems, "; "))
}
