package mcp

import (
	"fmt"
	"strings"
)

// toolPrefix marks a tool name as routed through the multiplexer.
const toolPrefix = "mcp_"

// Mangle builds the outward tool name for a server tool:
// mcp_<server>_<tool>. Server ids never contain underscores (enforced at
// registration), so the mapping is reversible.
func Mangle(serverID, toolName string) string {
	return toolPrefix + serverID + "_" + toolName
}

// Demangle splits an outward name back into (serverID, toolName). The split
// happens at the first underscore after the prefix; everything after it is
// the tool name, which may itself contain underscores.
func Demangle(name string) (serverID, toolName string, err error) {
	rest, ok := strings.CutPrefix(name, toolPrefix)
	if !ok {
		return "", "", fmt.Errorf("%w: %q lacks %q prefix", ErrBadToolName, name, toolPrefix)
	}
	serverID, toolName, ok = strings.Cut(rest, "_")
	if !ok || serverID == "" || toolName == "" {
		return "", "", fmt.Errorf("%w: %q must be mcp_<server>_<tool>", ErrBadToolName, name)
	}
	return serverID, toolName, nil
}

// IsMangled reports whether name is addressed to the multiplexer.
func IsMangled(name string) bool {
	return strings.HasPrefix(name, toolPrefix)
}
