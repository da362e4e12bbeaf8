// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads fnhive settings from a YAML file, FNHIVE_* environment
// variables and command flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sort"
	"time"

	"dario.cat/mergo"
	"github.com/adrg/xdg"

	"github.com/stacklok/fnhive/pkg/adapter"
	"github.com/stacklok/fnhive/pkg/auth"
	"github.com/stacklok/fnhive/pkg/process"
	"github.com/stacklok/fnhive/pkg/supervisor"
)

// DefaultHandlerType is the graph profile used when none is selected.
const DefaultHandlerType = "default"

// Config is the complete fnhive configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Loader     LoaderConfig     `yaml:"loader"`
	Modules    ModulesConfig    `yaml:"modules"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Auth       auth.Config      `yaml:"auth"`

	// Graphs holds one adapter graph per handler type.
	Graphs map[string]*adapter.GraphSpec `yaml:"graphs"`
}

// ServerConfig configures the request serving role.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	// HandlerType selects the entry of Graphs the server composes.
	HandlerType string `yaml:"handler_type"`
	// Env is handed to connector factories and handlers.
	Env map[string]string `yaml:"env"`
}

// LoaderConfig configures the loader role.
type LoaderConfig struct {
	// ListenAddress is chosen by the supervisor when empty.
	ListenAddress string `yaml:"listen_address"`
	ModulesDir    string `yaml:"modules_dir"`
	StorePath     string `yaml:"store_path"`
}

// ModulesConfig configures where servers fetch modules from.
type ModulesConfig struct {
	// BaseURL defaults to the loader's address.
	BaseURL       string `yaml:"base_url"`
	AccessToken   string `yaml:"access_token"`
	RequireDigest bool   `yaml:"require_digest"`
	CACertPath    string `yaml:"ca_cert_path"`
	Timeout       string `yaml:"timeout"`
}

// SupervisorConfig configures the supervisor.
type SupervisorConfig struct {
	AdminAddress string `yaml:"admin_address"`
	// MaxRestarts is a pointer so that an explicit 0 disables restarts
	// instead of falling back to the default.
	MaxRestarts  *int   `yaml:"max_restarts"`
	RestartDelay string `yaml:"restart_delay"`
	StateDir     string `yaml:"state_dir"`
}

// Restarts returns the restart bound, or the default when unset.
func (s SupervisorConfig) Restarts() int {
	if s.MaxRestarts == nil {
		return supervisor.DefaultMaxRestarts
	}
	return *s.MaxRestarts
}

// Delay returns the pause between a failure and the respawn.
func (s SupervisorConfig) Delay() time.Duration {
	d, err := time.ParseDuration(s.RestartDelay)
	if err != nil {
		return supervisor.DefaultRestartDelay
	}
	return d
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: "127.0.0.1:8080",
			HandlerType:   DefaultHandlerType,
		},
		Loader: LoaderConfig{
			ModulesDir: "modules",
			StorePath:  filepath.Join(xdg.DataHome, "fnhive", "modules.db"),
		},
		Modules: ModulesConfig{
			Timeout: "30s",
		},
		Supervisor: SupervisorConfig{
			AdminAddress: "127.0.0.1:9090",
			MaxRestarts:  intPtr(supervisor.DefaultMaxRestarts),
			RestartDelay: supervisor.DefaultRestartDelay.String(),
			StateDir:     process.StateDir(),
		},
	}
}

// ApplyDefaults fills every unset field from Defaults. Values already set
// are preserved.
func (c *Config) ApplyDefaults() error {
	if err := mergo.Merge(c, Defaults()); err != nil {
		return fmt.Errorf("failed to apply defaults: %w", err)
	}
	return nil
}

// Validate checks the configuration and every adapter graph in it.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.ListenAddress == "" {
		errs = append(errs, errors.New("server.listen_address is required"))
	}
	if c.Modules.Timeout != "" {
		if _, err := time.ParseDuration(c.Modules.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("modules.timeout: %w", err))
		}
	}
	if c.Supervisor.Restarts() < 0 {
		errs = append(errs, errors.New("supervisor.max_restarts must not be negative"))
	}
	if c.Supervisor.RestartDelay != "" {
		if d, err := time.ParseDuration(c.Supervisor.RestartDelay); err != nil {
			errs = append(errs, fmt.Errorf("supervisor.restart_delay: %w", err))
		} else if d < 0 {
			errs = append(errs, errors.New("supervisor.restart_delay must not be negative"))
		}
	}

	for _, name := range c.GraphNames() {
		spec := c.Graphs[name]
		if spec == nil {
			continue
		}
		if err := spec.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("graphs.%s: %w", name, err))
		}
	}
	if len(c.Graphs) > 0 {
		if _, ok := c.Graphs[c.Server.HandlerType]; !ok {
			errs = append(errs, fmt.Errorf("no graph for handler type %q", c.Server.HandlerType))
		}
	}
	return errors.Join(errs...)
}

// GraphNames returns the configured handler types, sorted.
func (c *Config) GraphNames() []string {
	names := make([]string, 0, len(c.Graphs))
	for name := range c.Graphs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Graph returns the adapter graph for the selected handler type. No graphs
// at all means an empty graph.
func (c *Config) Graph() (*adapter.GraphSpec, error) {
	if len(c.Graphs) == 0 {
		return &adapter.GraphSpec{}, nil
	}
	spec, ok := c.Graphs[c.Server.HandlerType]
	if !ok || spec == nil {
		return nil, fmt.Errorf("no graph for handler type %q", c.Server.HandlerType)
	}
	return spec, nil
}

// ModuleBaseURL is where servers fetch modules from: the configured base URL
// or the loader's own address.
func (c *Config) ModuleBaseURL() (string, error) {
	if c.Modules.BaseURL != "" {
		return c.Modules.BaseURL, nil
	}
	if c.Loader.ListenAddress == "" {
		return "", errors.New("neither modules.base_url nor loader.listen_address is set")
	}
	host, port, err := net.SplitHostPort(c.Loader.ListenAddress)
	if err != nil {
		return "", fmt.Errorf("invalid loader address %q: %w", c.Loader.ListenAddress, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

// ModuleTimeout returns the parsed fetch timeout, zero when unset.
func (c *Config) ModuleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Modules.Timeout)
	return d
}

func intPtr(v int) *int {
	return &v
}
