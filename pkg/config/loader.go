package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read kestrel.yaml from configDir (missing file → defaults only)
//  2. Expand {{.VAR}} environment references
//  3. Parse YAML into structs
//  4. Merge user config over defaults
//  5. Build the MCP server registry (validating every entry)
//  6. Validate the result
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	merged := defaultConfig()

	path := filepath.Join(configDir, "kestrel.yaml")
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Warn("No kestrel.yaml found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		var user KestrelYAMLConfig
		if err := yaml.Unmarshal(ExpandEnv(data), &user); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := mergo.Merge(merged, &user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge configuration: %w", err)
		}
	}

	registry, err := NewMCPServerRegistry(merged.MCPServers)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:  *merged.Server,
		LLM:     *merged.LLM,
		Policy:  merged.Policy,
		Servers: registry,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("Configuration loaded",
		"mcp_servers", len(registry.GetAll()),
		"roles", len(cfg.Policy.Roles))
	return cfg, nil
}

// Validate checks cross-field invariants after merging.
func (c *Config) Validate() error {
	if c.Policy == nil {
		return fmt.Errorf("%w: policy is required", ErrInvalidConfig)
	}
	if c.Policy.MaxDepth <= 0 {
		return fmt.Errorf("%w: policy.max_depth must be positive", ErrInvalidConfig)
	}
	if c.Policy.MaxTotalInstances <= 0 {
		return fmt.Errorf("%w: policy.max_total_instances must be positive", ErrInvalidConfig)
	}
	if c.Policy.PendingTTL.Std() <= 0 {
		return fmt.Errorf("%w: policy.pending_ttl must be positive", ErrInvalidConfig)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port out of range: %d", ErrInvalidConfig, c.Server.Port)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("%w: llm.model is required", ErrInvalidConfig)
	}
	return nil
}
