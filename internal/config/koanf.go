// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/costboard-gateway/config.yaml",
	"/etc/costboard-gateway/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix namespaces the gateway's environment variables.
const envPrefix = "GATEWAY_"

// sections are the recognized top-level config groups. The env var
// transform needs them to split GATEWAY_SECURITY_JWT_SECRET into
// "security" + "jwt_secret" without guessing where the key begins.
var sections = []string{"server", "security", "gateway", "logging"}

// Load resolves configuration from defaults, an optional YAML file, and
// environment variables, in ascending priority:
//
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: first match of CONFIG_PATH / DefaultConfigPaths
//  3. Environment: GATEWAY_-prefixed variables
//
// The returned Config has already passed Validate.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// GATEWAY_SERVER_PORT -> server.port
	// GATEWAY_SECURITY_JWT_SECRET -> security.jwt_secret
	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Comma-separated env values for slice fields
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// envTransformFunc maps a prefixed environment variable name to a koanf
// path. The first underscore-delimited token selects the section; the
// remainder is the key within it.
func envTransformFunc(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, envPrefix))
	for _, section := range sections {
		if strings.HasPrefix(name, section+"_") {
			return section + "." + strings.TrimPrefix(name, section+"_")
		}
	}
	// Unknown section: ignore rather than polluting the key space.
	return ""
}

// processSliceFields converts comma-separated string values into slices
// for fields declared as []string. Environment variables can only carry
// flat strings, so GATEWAY_SECURITY_CORS_ORIGINS="a,b" needs splitting.
func processSliceFields(k *koanf.Koanf) error {
	const key = "security.cors_origins"
	if raw, ok := k.Get(key).(string); ok {
		parts := strings.Split(raw, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
		if err := k.Set(key, origins); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// findConfigFile returns the path of the first config file found, or ""
// if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
