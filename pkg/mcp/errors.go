package mcp

import "errors"

var (
	// ErrServerNotFound means the server id is not registered with the
	// multiplexer.
	ErrServerNotFound = errors.New("mcp server not found")

	// ErrServerUnavailable means the server is registered but the transport
	// call failed. The multiplexer does not retry; retry policy belongs to
	// the caller.
	ErrServerUnavailable = errors.New("mcp server unavailable")

	// ErrBadToolName means a name does not follow the mcp_<server>_<tool>
	// convention.
	ErrBadToolName = errors.New("malformed mcp tool name")
)
