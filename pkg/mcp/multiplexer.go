// Package mcp multiplexes tool traffic across MCP (Model Context Protocol)
// servers. Server tools are exported to agents under mangled names
// (mcp_<server>_<tool>) so one flat tool list can route back to the right
// server. Thread-safe: discovery and dispatch may run from multiple agent
// loops concurrently.
package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/kestrelops/kestrel/pkg/config"
	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/tools"
	"github.com/kestrelops/kestrel/pkg/version"
)

const (
	// InitTimeout bounds the initial connect handshake per server.
	InitTimeout = 30 * time.Second
	// OperationTimeout bounds a single tools/list or tools/call.
	OperationTimeout = 60 * time.Second
)

// BuiltinBackend dispatches tool calls for servers with the builtin
// transport. *tools.Registry satisfies it.
type BuiltinBackend interface {
	Descriptors() []models.ToolDescriptor
	Execute(ctx context.Context, principal models.Principal, handle *tools.SandboxedTools, name string, args map[string]any) (*models.ToolOutput, error)
}

// ResultMasker redacts secrets from remote tool output before anything
// downstream sees it. *masking.Masker satisfies it.
type ResultMasker interface {
	MaskOutput(out *models.ToolOutput) *models.ToolOutput
}

// Multiplexer manages sessions to all configured MCP servers and routes
// calls by server id. Each server's discovered tool list is cached until the
// next discovery, which replaces it wholesale.
type Multiplexer struct {
	registry *config.MCPServerRegistry
	builtin  BuiltinBackend
	masker   ResultMasker

	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession // serverID → session
	inactive map[string]string                // serverID → last error message

	toolCache   map[string][]models.ToolDescriptor // serverID → mangled descriptors
	toolCacheMu sync.RWMutex

	// Per-server mutex for connection setup to prevent thundering herd.
	connectMu sync.Map // serverID → *sync.Mutex

	// Coalesces identical concurrent calls: same server, tool, and argument
	// hash share one in-flight execution.
	flight singleflight.Group

	logger *slog.Logger
}

// NewMultiplexer creates a multiplexer over the configured server registry.
// builtin handles servers declared with the builtin transport; it may be nil
// when no such server is configured.
func NewMultiplexer(registry *config.MCPServerRegistry, builtin BuiltinBackend) *Multiplexer {
	return &Multiplexer{
		registry:  registry,
		builtin:   builtin,
		sessions:  make(map[string]*mcpsdk.ClientSession),
		inactive:  make(map[string]string),
		toolCache: make(map[string][]models.ToolDescriptor),
		logger:    slog.Default(),
	}
}

// SetMasker wires output redaction for remote tool results. Builtin tools
// run trusted code and are not masked.
func (m *Multiplexer) SetMasker(masker ResultMasker) {
	m.masker = masker
}

// Initialize connects to every registered server and runs discovery.
// Servers that fail are marked inactive and skipped; partial availability is
// acceptable at startup, and the API can re-add a server later.
func (m *Multiplexer) Initialize(ctx context.Context) {
	for id := range m.registry.GetAll() {
		if err := m.ConnectServer(ctx, id); err != nil {
			m.logger.Warn("MCP server failed to initialize", "server", id, "error", err)
		}
	}
}

// AddServer registers a new server, connects, and discovers its tools.
// Registration validates the id (no underscores) and transport fields; an
// invalid config is rejected before any connection attempt.
func (m *Multiplexer) AddServer(ctx context.Context, id string, cfg *config.MCPServerConfig) error {
	if err := m.registry.Register(id, cfg); err != nil {
		return err
	}
	return m.ConnectServer(ctx, id)
}

// RemoveServer closes the server's session and drops it from the registry
// and all caches. Removing an unknown id is a no-op.
func (m *Multiplexer) RemoveServer(id string) {
	m.mu.Lock()
	if session, exists := m.sessions[id]; exists {
		_ = session.Close()
		delete(m.sessions, id)
	}
	delete(m.inactive, id)
	m.mu.Unlock()

	m.toolCacheMu.Lock()
	delete(m.toolCache, id)
	m.toolCacheMu.Unlock()

	m.registry.Remove(id)
}

// ConnectServer establishes the session (if the transport needs one) and
// runs discovery. A discovery or connect failure marks the server inactive.
// Per-server mutex serializes concurrent connection attempts.
func (m *Multiplexer) ConnectServer(ctx context.Context, id string) error {
	muI, _ := m.connectMu.LoadOrStore(id, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	err := m.connectServerLocked(ctx, id)
	if err != nil {
		m.mu.Lock()
		m.inactive[id] = err.Error()
		m.mu.Unlock()
		return err
	}
	m.mu.Lock()
	delete(m.inactive, id)
	m.mu.Unlock()
	return nil
}

func (m *Multiplexer) connectServerLocked(ctx context.Context, id string) error {
	cfg, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	if cfg.Disabled {
		return fmt.Errorf("server %q is disabled", id)
	}

	if cfg.Transport.Type == config.TransportTypeBuiltin {
		// No session to open; discovery reads the in-process registry.
		return m.Discover(ctx, id)
	}

	m.mu.RLock()
	_, connected := m.sessions[id]
	m.mu.RUnlock()

	if !connected {
		transport, err := createTransport(cfg.Transport)
		if err != nil {
			return fmt.Errorf("create transport for %q: %w", id, err)
		}

		initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
		defer cancel()

		client := mcpsdk.NewClient(&mcpsdk.Implementation{
			Name:    version.AppName,
			Version: version.GitCommit,
		}, nil)

		session, err := client.Connect(initCtx, transport, nil)
		if err != nil {
			// Close the transport if it owns resources (stdio child process)
			// to avoid leaking on failed handshakes.
			if closer, ok := transport.(io.Closer); ok {
				_ = closer.Close()
			}
			return fmt.Errorf("connect to %q: %w", id, err)
		}

		m.mu.Lock()
		m.sessions[id] = session
		m.mu.Unlock()
		m.logger.Info("MCP server connected", "server", id)
	}

	return m.Discover(ctx, id)
}

// Discover refreshes the tool cache for one server. The new list fully
// replaces the old one, so tools the server dropped disappear from routing.
func (m *Multiplexer) Discover(ctx context.Context, id string) error {
	cfg, err := m.registry.Get(id)
	if err != nil {
		return err
	}

	var descriptors []models.ToolDescriptor
	switch cfg.Transport.Type {
	case config.TransportTypeBuiltin:
		if m.builtin == nil {
			return fmt.Errorf("server %q: no builtin backend configured", id)
		}
		for _, d := range m.builtin.Descriptors() {
			descriptors = append(descriptors, mangleDescriptor(id, d.Name, d.Description, d.InputSchema, d.SafetyDefault))
		}

	default:
		m.mu.RLock()
		session, exists := m.sessions[id]
		m.mu.RUnlock()
		if !exists {
			return fmt.Errorf("%w: no session for %q", ErrServerUnavailable, id)
		}

		opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
		defer cancel()

		result, err := session.ListTools(opCtx, nil)
		if err != nil {
			return fmt.Errorf("%w: list tools from %q: %v", ErrServerUnavailable, id, err)
		}
		for _, t := range result.Tools {
			schema, err := json.Marshal(t.InputSchema)
			if err != nil {
				schema = []byte(`{"type":"object"}`)
			}
			// External tools default to moderate; per-call classification
			// does not apply outside run_command.
			descriptors = append(descriptors, mangleDescriptor(id, t.Name, t.Description, schema, models.SafetyModerate))
		}
	}

	if descriptors == nil {
		descriptors = []models.ToolDescriptor{}
	}
	m.toolCacheMu.Lock()
	m.toolCache[id] = descriptors
	m.toolCacheMu.Unlock()

	m.logger.Info("MCP server tools discovered", "server", id, "tools", len(descriptors))
	return nil
}

func mangleDescriptor(serverID, name, description string, schema json.RawMessage, safety models.Safety) models.ToolDescriptor {
	return models.ToolDescriptor{
		Origin:        models.OriginMCP,
		ServerID:      serverID,
		Name:          Mangle(serverID, name),
		Description:   description,
		InputSchema:   schema,
		SafetyDefault: safety,
	}
}

// Tools returns the cached mangled descriptors for one server.
func (m *Multiplexer) Tools(serverID string) ([]models.ToolDescriptor, error) {
	if !m.registry.Has(serverID) {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}
	m.toolCacheMu.RLock()
	defer m.toolCacheMu.RUnlock()
	cached := m.toolCache[serverID]
	result := make([]models.ToolDescriptor, len(cached))
	copy(result, cached)
	return result, nil
}

// VisibleServers applies the role visibility table: user and rag_user see
// nothing, agent_user sees builtin-transport servers, agent_developer adds
// custom (stdio/http) servers, admin and owner see everything including
// disabled entries. The result is sorted for stable listings.
func (m *Multiplexer) VisibleServers(role models.Role) []string {
	var ids []string
	for id, cfg := range m.registry.GetAll() {
		if serverVisible(role, cfg) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func serverVisible(role models.Role, cfg *config.MCPServerConfig) bool {
	switch role {
	case models.RoleAdmin, models.RoleOwner:
		return true
	case models.RoleAgentDeveloper:
		return !cfg.Disabled
	case models.RoleAgentUser:
		return !cfg.Disabled && cfg.Transport.Type == config.TransportTypeBuiltin
	}
	return false
}

// VisibleTools returns the mangled descriptors of every server the role may
// see. This is what gets merged into an agent's tool list.
func (m *Multiplexer) VisibleTools(role models.Role) []models.ToolDescriptor {
	var result []models.ToolDescriptor
	for _, id := range m.VisibleServers(role) {
		descs, err := m.Tools(id)
		if err != nil {
			continue
		}
		result = append(result, descs...)
	}
	return result
}

// CallTool dispatches one tool call to a server. Builtin-transport servers
// route into the in-process tool registry; everything else goes over the
// wire. Identical concurrent calls (same server, tool, and argument hash)
// are coalesced into a single execution.
func (m *Multiplexer) CallTool(
	ctx context.Context,
	principal models.Principal,
	handle *tools.SandboxedTools,
	serverID, toolName string,
	args map[string]any,
) (*models.ToolOutput, error) {
	cfg, err := m.registry.Get(serverID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}

	key := flightKey(serverID, toolName, args)
	result, err, _ := m.flight.Do(key, func() (any, error) {
		if cfg.Transport.Type == config.TransportTypeBuiltin {
			if m.builtin == nil {
				return nil, fmt.Errorf("%w: server %q has no builtin backend", ErrServerUnavailable, serverID)
			}
			return m.builtin.Execute(ctx, principal, handle, toolName, args)
		}
		return m.callRemote(ctx, serverID, toolName, args)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.ToolOutput), nil
}

func (m *Multiplexer) callRemote(ctx context.Context, serverID, toolName string, args map[string]any) (*models.ToolOutput, error) {
	m.mu.RLock()
	session, exists := m.sessions[serverID]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: no session for %q", ErrServerUnavailable, serverID)
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := session.CallTool(opCtx, &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		m.mu.Lock()
		m.inactive[serverID] = err.Error()
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: call %s.%s: %v", ErrServerUnavailable, serverID, toolName, err)
	}

	out := convertResult(result)
	if m.masker != nil {
		out = m.masker.MaskOutput(out)
	}
	return out, nil
}

// convertResult translates the SDK call result into the platform's tool
// output shape.
func convertResult(result *mcpsdk.CallToolResult) *models.ToolOutput {
	out := &models.ToolOutput{
		Status: "success",
		Safety: models.SafetyModerate,
	}
	if result.IsError {
		out.Status = "error"
	}
	for _, content := range result.Content {
		switch c := content.(type) {
		case *mcpsdk.TextContent:
			out.Content = append(out.Content, models.TextPart(c.Text))
		case *mcpsdk.ImageContent:
			out.Content = append(out.Content, models.ImagePart(
				base64.StdEncoding.EncodeToString(c.Data), c.MIMEType))
		}
	}
	if out.Content == nil {
		out.Content = []models.ContentPart{models.TextPart("")}
	}
	return out
}

// flightKey hashes the argument map into the coalescing key. Go's JSON
// encoder sorts map keys, so equal argument maps hash equally.
func flightKey(serverID, toolName string, args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", args))
	}
	sum := sha256.Sum256(raw)
	return serverID + "\x00" + toolName + "\x00" + hex.EncodeToString(sum[:])
}

// Inactive returns a copy of the server → last-error map for servers whose
// connection or discovery failed.
func (m *Multiplexer) Inactive() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]string, len(m.inactive))
	for k, v := range m.inactive {
		result[k] = v
	}
	return result
}

// Close shuts down all sessions and clears every cache.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	var firstErr error
	for id, session := range m.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", id, err)
		}
	}
	m.sessions = make(map[string]*mcpsdk.ClientSession)
	m.inactive = make(map[string]string)
	m.mu.Unlock()

	m.toolCacheMu.Lock()
	m.toolCache = make(map[string][]models.ToolDescriptor)
	m.toolCacheMu.Unlock()

	return firstErr
}
