package tools

import "errors"

// Sentinel errors for tool resolution and execution.
var (
	// ErrToolNotFound means no descriptor matches the requested name.
	ErrToolNotFound = errors.New("tool_not_found")
	// ErrToolTimeout means a subprocess hit its deadline. Distinct from a
	// nonzero exit code; the model is told which one happened.
	ErrToolTimeout = errors.New("tool_timeout")
	// ErrSchemaViolation means the arguments failed the descriptor's schema.
	ErrSchemaViolation = errors.New("schema_violation")
	// ErrNoSandbox means a file/exec tool was called before set_sandbox.
	ErrNoSandbox = errors.New("no sandbox configured for session")
)
