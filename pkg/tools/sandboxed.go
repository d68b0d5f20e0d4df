package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/sandbox"
)

const (
	// defaultExecTimeout bounds run_command/run_python when the call omits one.
	defaultExecTimeout = 30 * time.Second
	// maxExecTimeout caps what a call may ask for.
	maxExecTimeout = 5 * time.Minute
	// maxReadBytes bounds read_file output fed back to the model.
	maxReadBytes = 256 * 1024
	// maxSearchMatches bounds search_files output.
	maxSearchMatches = 200
)

// imageMIMETypes maps file extensions read_file returns as image parts.
var imageMIMETypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// SandboxedTools executes the filesystem and subprocess built-ins against
// one sandbox root. A handle is owned by exactly one session and exists
// iff the session has a sandbox configured.
type SandboxedTools struct {
	guard *sandbox.Guard
}

// NewSandboxedTools binds a tool handle to a validated guard.
func NewSandboxedTools(guard *sandbox.Guard) *SandboxedTools {
	return &SandboxedTools{guard: guard}
}

// Root returns the canonical sandbox root this handle operates in.
func (s *SandboxedTools) Root() string { return s.guard.Root() }

// ReadFile returns file content; binary images come back as base64 image
// parts with an explicit MIME tag, everything else as text.
func (s *SandboxedTools) ReadFile(args map[string]any) (*models.ToolOutput, error) {
	path, _ := args["path"].(string)
	resolved, err := s.guard.ResolveFile(path)
	if err != nil {
		return sandboxError(err), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return errorOutput(models.SafetySafe, fmt.Sprintf("read %q: %s", path, err)), nil
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
	}

	if mime, ok := imageMIMETypes[strings.ToLower(filepath.Ext(resolved))]; ok {
		return &models.ToolOutput{
			Status:  "success",
			Content: []models.ContentPart{models.ImagePart(base64.StdEncoding.EncodeToString(data), mime)},
			Safety:  models.SafetySafe,
		}, nil
	}
	return successOutput(models.SafetySafe, string(data)), nil
}

// WriteFile writes content, creating missing parent directories inside the
// sandbox.
func (s *SandboxedTools) WriteFile(args map[string]any) (*models.ToolOutput, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)

	resolved, err := s.guard.Resolve(path)
	if err != nil {
		return sandboxError(err), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return errorOutput(models.SafetyModerate, fmt.Sprintf("create parent dirs for %q: %s", path, err)), nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return errorOutput(models.SafetyModerate, fmt.Sprintf("write %q: %s", path, err)), nil
	}
	return successOutput(models.SafetyModerate, fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
}

// ListDir lists directory entries, directories suffixed with "/".
func (s *SandboxedTools) ListDir(args map[string]any) (*models.ToolOutput, error) {
	path, _ := args["path"].(string)
	resolved, err := s.guard.ResolveDir(path)
	if err != nil {
		return sandboxError(err), nil
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return errorOutput(models.SafetySafe, fmt.Sprintf("list %q: %s", path, err)), nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return successOutput(models.SafetySafe, strings.Join(names, "\n")), nil
}

// SearchFiles walks the tree under path and reports substring matches as
// "file:line: content" lines.
func (s *SandboxedTools) SearchFiles(args map[string]any) (*models.ToolOutput, error) {
	pattern, _ := args["pattern"].(string)
	path, _ := args["path"].(string)

	resolved, err := s.guard.ResolveDir(path)
	if err != nil {
		return sandboxError(err), nil
	}

	var matches []string
	walkErr := filepath.WalkDir(resolved, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr // unreadable entries are skipped, not fatal
		}
		if len(matches) >= maxSearchMatches {
			return filepath.SkipAll
		}
		data, readErr := os.ReadFile(p)
		if readErr != nil {
			return nil
		}
		rel, _ := filepath.Rel(s.guard.Root(), p)
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(line, pattern) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
				if len(matches) >= maxSearchMatches {
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return errorOutput(models.SafetySafe, fmt.Sprintf("search %q: %s", pattern, walkErr)), nil
	}
	if len(matches) == 0 {
		return successOutput(models.SafetySafe, "no matches"), nil
	}
	return successOutput(models.SafetySafe, strings.Join(matches, "\n")), nil
}

// RunCommand executes a shell command line with CWD set to the sandbox root
// and a reduced environment. Timeouts are reported distinctly from exit
// codes so the model can tell them apart.
func (s *SandboxedTools) RunCommand(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
	cmdLine, _ := args["cmd"].(string)
	safety, _ := sandbox.ClassifyCommand(cmdLine)

	return s.runProcess(ctx, safety, execTimeout(args), "sh", "-c", cmdLine)
}

// RunPython executes a Python snippet via -c in the sandbox.
func (s *SandboxedTools) RunPython(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
	code, _ := args["code"].(string)
	return s.runProcess(ctx, models.SafetyDangerous, execTimeout(args), "python3", "-c", code)
}

// runProcess is the shared subprocess path for run_command and run_python.
func (s *SandboxedTools) runProcess(
	ctx context.Context,
	safety models.Safety,
	timeout time.Duration,
	name string,
	argv ...string,
) (*models.ToolOutput, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, name, argv...)
	cmd.Dir = s.guard.Root()
	cmd.Env = reducedEnv(s.guard.Root())

	out, err := cmd.CombinedOutput()
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return &models.ToolOutput{
			Status: "error",
			Content: []models.ContentPart{models.TextPart(
				fmt.Sprintf("%s after %s", ErrToolTimeout.Error(), timeout))},
			Safety: safety,
		}, nil
	}
	if err != nil {
		return errorOutput(safety, fmt.Sprintf("exit error: %s\n%s", err, string(out))), nil
	}
	return successOutput(safety, string(out)), nil
}

// reducedEnv builds the minimal subprocess environment. HOME is rewritten
// into the sandbox so dotfile writes stay confined.
func reducedEnv(root string) []string {
	return []string{
		"HOME=" + root,
		"PATH=" + os.Getenv("PATH"),
		"LANG=" + os.Getenv("LANG"),
		"TMPDIR=" + root,
	}
}

// execTimeout reads the per-call timeout argument, clamped to maxExecTimeout.
func execTimeout(args map[string]any) time.Duration {
	seconds := intArg(args, "timeout", 0)
	if seconds <= 0 {
		return defaultExecTimeout
	}
	timeout := time.Duration(seconds) * time.Second
	if timeout > maxExecTimeout {
		return maxExecTimeout
	}
	return timeout
}

// sandboxError maps guard failures into tool error outputs, preserving the
// error kind string for the model.
func sandboxError(err error) *models.ToolOutput {
	switch {
	case errors.Is(err, sandbox.ErrPathEscape):
		return errorOutput(models.SafetySafe, "path_escape: "+err.Error())
	case errors.Is(err, sandbox.ErrNotADirectory):
		return errorOutput(models.SafetySafe, "not_a_directory: "+err.Error())
	case errors.Is(err, sandbox.ErrNotAFile):
		return errorOutput(models.SafetySafe, "not_a_file: "+err.Error())
	}
	return errorOutput(models.SafetySafe, err.Error())
}
