package config

import "errors"

// Sentinel errors for configuration failures.
var (
	ErrMCPServerNotFound = errors.New("mcp server not found")
	ErrInvalidConfig     = errors.New("invalid configuration")
)
