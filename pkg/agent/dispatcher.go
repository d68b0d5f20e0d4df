package agent

import (
	"context"
	"fmt"

	"github.com/kestrelops/kestrel/pkg/mcp"
	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/session"
	"github.com/kestrelops/kestrel/pkg/tools"
)

// Dispatcher routes tool calls for one instance: plain names go to the
// built-in registry, mangled names (mcp_<server>_<tool>) through the
// multiplexer. The offered tool list is the union of both, filtered to the
// instance's effective permissions.
type Dispatcher struct {
	registry  *tools.Registry
	mux       *mcp.Multiplexer
	sess      *session.Session
	principal models.Principal

	allowed  map[string]bool
	allowAll bool
}

// NewDispatcher builds a dispatcher scoped to one instance's permissions.
// mux may be nil when no MCP servers are configured.
func NewDispatcher(
	registry *tools.Registry,
	mux *mcp.Multiplexer,
	sess *session.Session,
	principal models.Principal,
	perms models.EffectivePermissions,
) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		mux:       mux,
		sess:      sess,
		principal: principal,
		allowed:   make(map[string]bool, len(perms.Tools)),
	}
	for _, name := range perms.Tools {
		if name == "*" {
			d.allowAll = true
		}
		d.allowed[name] = true
	}
	return d
}

// Allowed reports whether the permission set covers name.
func (d *Dispatcher) Allowed(name string) bool {
	return d.allowAll || d.allowed[name]
}

// Tools returns the offered descriptor list: permitted built-ins plus the
// permitted mangled tools of every server the principal's role may see.
func (d *Dispatcher) Tools() []models.ToolDescriptor {
	var result []models.ToolDescriptor
	for _, desc := range d.registry.Descriptors() {
		if d.Allowed(desc.Name) {
			result = append(result, desc)
		}
	}
	if d.mux != nil {
		for _, desc := range d.mux.VisibleTools(d.principal.Role) {
			if d.Allowed(desc.Name) {
				result = append(result, desc)
			}
		}
	}
	return result
}

// Safety classifies one proposed call. Built-ins use the registry's
// per-call rules; MCP tools use the discovered descriptor's default.
func (d *Dispatcher) Safety(name string, args map[string]any) (models.Safety, string) {
	if !mcp.IsMangled(name) {
		return d.registry.SafetyFor(name, args)
	}
	if d.mux != nil {
		serverID, _, err := mcp.Demangle(name)
		if err == nil {
			if descs, err := d.mux.Tools(serverID); err == nil {
				for _, desc := range descs {
					if desc.Name == name {
						return desc.SafetyDefault, "server descriptor default"
					}
				}
			}
		}
	}
	return models.SafetyModerate, "unknown mcp tool"
}

// Dispatch executes one call through the right backend.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (*models.ToolOutput, error) {
	_, handle := d.sess.Sandbox()

	if mcp.IsMangled(name) {
		if d.mux == nil {
			return nil, fmt.Errorf("%w: no mcp servers configured", mcp.ErrServerNotFound)
		}
		serverID, toolName, err := mcp.Demangle(name)
		if err != nil {
			return nil, err
		}
		return d.mux.CallTool(ctx, d.principal, handle, serverID, toolName, args)
	}

	return d.registry.Execute(ctx, d.principal, handle, name, args)
}
