package sandbox

import (
	"strings"

	"github.com/kestrelops/kestrel/pkg/models"
)

// dangerousPatterns block a command outright regardless of the leading
// binary. Matched case-insensitively as substrings: a command that chains
// a safe binary into a dangerous construct ("ls && rm -rf /") is dangerous.
var dangerousPatterns = []string{
	"rm -rf",
	"rm -r",
	"rmdir",
	"sudo",
	"su ",
	"> /dev",
	">/dev",
	"chmod 777",
	"chmod -R",
	"curl",
	"wget",
	"nc ",
	"netcat",
	"eval",
	"exec",
	"$(",
	"`",
	"&&",
	"||",
	";",
}

// safeCommands are read-mostly binaries allowed without approval when they
// appear as the first token and no dangerous pattern matched.
var safeCommands = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true, "wc": true,
	"file": true, "find": true, "grep": true, "tree": true, "du": true,
	"df": true, "stat": true, "pwd": true, "echo": true, "git": true,
	"python": true, "node": true, "npm": true, "pip": true,
}

// ClassifyCommand classifies a shell command line by risk.
//
// Precedence: denylist beats allowlist: "git pull && sudo rm -rf /" is
// dangerous no matter how harmless the first token looks. An empty command
// is moderate (nothing to vouch for). Pure function: same input, same output.
func ClassifyCommand(cmd string) (models.Safety, string) {
	lower := strings.ToLower(cmd)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return models.SafetyDangerous, "matches blocked pattern: " + pattern
		}
	}

	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return models.SafetyModerate, "empty command"
	}
	if safeCommands[strings.ToLower(fields[0])] {
		return models.SafetySafe, "read-only command: " + fields[0]
	}
	return models.SafetyModerate, "unrecognized command: " + fields[0]
}
