package spawn

import "errors"

// Spawn failures are governance errors: they abort the operation and are
// reported to the caller, never reified into tool results.
var (
	// ErrTemplateNotFound covers missing, inactive, and invisible templates
	// alike, so callers cannot probe for templates they may not see.
	ErrTemplateNotFound = errors.New("template_not_found")

	ErrInsufficientRole   = errors.New("insufficient_role")
	ErrSpawnDepthExceeded = errors.New("spawn_depth_exceeded")
	ErrSpawnCircular      = errors.New("spawn_circular")
)
