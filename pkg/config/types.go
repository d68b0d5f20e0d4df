// Package config loads and validates the platform configuration:
// MCP server definitions, the RBAC policy tables, LLM provider settings,
// and runtime limits.
package config

import (
	"time"

	"github.com/kestrelops/kestrel/pkg/models"
)

// KestrelYAMLConfig represents the complete kestrel.yaml file structure.
type KestrelYAMLConfig struct {
	Server     *ServerConfig               `yaml:"server"`
	MCPServers map[string]*MCPServerConfig `yaml:"mcp_servers"`
	LLM        *LLMConfig                  `yaml:"llm"`
	Policy     *Policy                     `yaml:"policy"`
}

// ServerConfig groups HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// LLMConfig holds chat-completion collaborator settings.
// The endpoint speaks the OpenAI chat-completions dialect; any compatible
// gateway works.
type LLMConfig struct {
	BaseURL     string   `yaml:"base_url"`
	APIKeyEnv   string   `yaml:"api_key_env"` // env var holding the key, never the key itself
	Model       string   `yaml:"model"`
	Temperature float64  `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	Timeout     Duration `yaml:"timeout"`
}

// TransportType identifies how an MCP server is reached.
type TransportType string

const (
	TransportTypeStdio   TransportType = "stdio"
	TransportTypeHTTP    TransportType = "http"
	TransportTypeBuiltin TransportType = "builtin"
)

// TransportConfig defines the connection to an MCP server.
// stdio requires Command; http requires URL; builtin requires neither
// (dispatch goes straight to the tool registry).
type TransportConfig struct {
	Type    TransportType     `yaml:"type"`
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
}

// MCPServerConfig defines one external tool server.
type MCPServerConfig struct {
	Transport TransportConfig `yaml:"transport"`
	Disabled  bool            `yaml:"disabled,omitempty"`
}

// Duration wraps time.Duration with YAML string parsing ("30s", "10m").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the validated, ready-to-use configuration.
type Config struct {
	Server  ServerConfig
	LLM     LLMConfig
	Policy  *Policy
	Servers *MCPServerRegistry
}

// RoleTools returns the builtin tool names a role may use, per policy.
func (c *Config) RoleTools(role models.Role) []string {
	return c.Policy.RoleTools(role)
}
