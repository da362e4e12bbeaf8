// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. FNHIVE_LISTEN_ADDRESS.
const EnvPrefix = "FNHIVE"

// Override keys. Each is read from FNHIVE_<KEY> or a flag bound to the key.
const (
	KeyHandlerType   = "handler_type"
	KeyListenAddress = "listen_address"
	KeyLoaderAddress = "loader_address"
	KeyModulesDir    = "modules_dir"
	KeyStorePath     = "store_path"
	KeyModuleBaseURL = "module_base_url"
	KeyAccessToken   = "access_token"
	KeyRequireDigest = "require_digest"
	KeyAdminAddress  = "admin_address"
	KeyMaxRestarts   = "max_restarts"
	KeyRestartDelay  = "restart_delay"
	KeyStateDir      = "state_dir"
)

// DefaultPath returns the config file consulted when none is given.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "fnhive", "config.yaml")
}

// NewViper returns a viper instance reading FNHIVE_* overrides from the environment.
func NewViper() *viper.Viper {
	v := viper.New()
	ConfigureEnv(v)
	return v
}

// ConfigureEnv enables FNHIVE_* environment overrides on v.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// Load reads the config file at path, applies overrides from v and fills
// defaults. An empty path falls back to DefaultPath, which may be absent.
func Load(path string, v *viper.Viper) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := &Config{}
	// #nosec G304 - path is the operator's config file
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if cfg, err = Parse(data); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if v != nil {
		ApplyOverrides(cfg, v)
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML config document. Unknown fields are errors and
// adapter order follows the document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ApplyOverrides copies every override set in v into cfg.
func ApplyOverrides(cfg *Config, v *viper.Viper) {
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	setString(KeyHandlerType, &cfg.Server.HandlerType)
	setString(KeyListenAddress, &cfg.Server.ListenAddress)
	setString(KeyLoaderAddress, &cfg.Loader.ListenAddress)
	setString(KeyModulesDir, &cfg.Loader.ModulesDir)
	setString(KeyStorePath, &cfg.Loader.StorePath)
	setString(KeyModuleBaseURL, &cfg.Modules.BaseURL)
	setString(KeyAccessToken, &cfg.Modules.AccessToken)
	setString(KeyAdminAddress, &cfg.Supervisor.AdminAddress)
	setString(KeyStateDir, &cfg.Supervisor.StateDir)
	setString(KeyRestartDelay, &cfg.Supervisor.RestartDelay)

	if v.IsSet(KeyRequireDigest) {
		cfg.Modules.RequireDigest = v.GetBool(KeyRequireDigest)
	}
	if v.IsSet(KeyMaxRestarts) {
		cfg.Supervisor.MaxRestarts = intPtr(v.GetInt(KeyMaxRestarts))
	}
}

// Environ renders the override keys of cfg as FNHIVE_* variables, so a child
// process loading the same file resolves the same settings.
func Environ(cfg *Config) []string {
	values := []struct {
		key   string
		value string
	}{
		{KeyHandlerType, cfg.Server.HandlerType},
		{KeyListenAddress, cfg.Server.ListenAddress},
		{KeyLoaderAddress, cfg.Loader.ListenAddress},
		{KeyModulesDir, cfg.Loader.ModulesDir},
		{KeyStorePath, cfg.Loader.StorePath},
		{KeyModuleBaseURL, cfg.Modules.BaseURL},
		{KeyAccessToken, cfg.Modules.AccessToken},
		{KeyRequireDigest, strconv.FormatBool(cfg.Modules.RequireDigest)},
		{KeyStateDir, cfg.Supervisor.StateDir},
	}

	out := make([]string, 0, len(values))
	for _, kv := range values {
		if kv.value == "" {
			continue
		}
		out = append(out, EnvPrefix+"_"+strings.ToUpper(kv.key)+"="+kv.value)
	}
	return out
}
