package config

import (
	"fmt"
	"strings"
	"sync"
)

// MCPServerRegistry stores MCP server configurations in memory with
// thread-safe access. Reads take a shared lock; registration and removal
// take the write lock.
type MCPServerRegistry struct {
	servers map[string]*MCPServerConfig
	mu      sync.RWMutex
}

// NewMCPServerRegistry creates a registry seeded with servers.
// Each entry is validated; invalid entries fail registration as a whole.
func NewMCPServerRegistry(servers map[string]*MCPServerConfig) (*MCPServerRegistry, error) {
	r := &MCPServerRegistry{servers: make(map[string]*MCPServerConfig, len(servers))}
	for id, cfg := range servers {
		if err := r.Register(id, cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ValidateServerID checks the naming rules for server ids. Underscores are
// forbidden because the outward tool name "mcp_<server>_<tool>" demangles
// on the first underscore after the prefix; an id containing "_" would
// silently corrupt routing.
func ValidateServerID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: server id is required", ErrInvalidConfig)
	}
	if strings.Contains(id, "_") {
		return fmt.Errorf("%w: server id %q must not contain underscores", ErrInvalidConfig, id)
	}
	return nil
}

// Validate checks transport requirements: stdio needs a command, http a URL.
func (c *MCPServerConfig) Validate(id string) error {
	if err := ValidateServerID(id); err != nil {
		return err
	}
	switch c.Transport.Type {
	case TransportTypeStdio:
		if c.Transport.Command == "" {
			return fmt.Errorf("%w: server %q: stdio transport requires command", ErrInvalidConfig, id)
		}
	case TransportTypeHTTP:
		if c.Transport.URL == "" {
			return fmt.Errorf("%w: server %q: http transport requires url", ErrInvalidConfig, id)
		}
	case TransportTypeBuiltin:
		// No transport fields needed.
	default:
		return fmt.Errorf("%w: server %q: unsupported transport type %q", ErrInvalidConfig, id, c.Transport.Type)
	}
	return nil
}

// Register validates and stores a server configuration.
func (r *MCPServerRegistry) Register(id string, cfg *MCPServerConfig) error {
	if err := cfg.Validate(id); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[id] = cfg
	return nil
}

// Remove drops a server configuration. Removing an unknown id is a no-op.
func (r *MCPServerRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, id)
}

// Get retrieves an MCP server configuration by id.
func (r *MCPServerRegistry) Get(id string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	server, exists := r.servers[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, id)
	}
	return server, nil
}

// GetAll returns a copy of all server configurations.
func (r *MCPServerRegistry) GetAll() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]*MCPServerConfig, len(r.servers))
	for k, v := range r.servers {
		result[k] = v
	}
	return result
}

// Has checks if a server id is registered.
func (r *MCPServerRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.servers[id]
	return exists
}
